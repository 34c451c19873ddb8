package redis

import "errors"

var (
	// ErrCacheDisabled means the mapping cache is switched off; callers fall
	// through to the mapping table.
	ErrCacheDisabled = errors.New("mapping cache is disabled")

	ErrClientNotInitialized = errors.New("mapping cache client not initialized")

	// ErrKeyNotFound is a cache miss, not a failure.
	ErrKeyNotFound = errors.New("mapping cache miss")

	ErrConnectionFailed = errors.New("mapping cache unreachable")

	// ErrSerializationFailed wraps msgpack encode/decode failures of cached mappings.
	ErrSerializationFailed = errors.New("mapping cache serialization failed")
)

// IsCacheDisabled reports whether err means the cache is off.
func IsCacheDisabled(err error) bool { return errors.Is(err, ErrCacheDisabled) }

// IsKeyNotFound reports whether err is a cache miss.
func IsKeyNotFound(err error) bool { return errors.Is(err, ErrKeyNotFound) }

// IsConnectionFailed reports whether the cache server could not be reached.
func IsConnectionFailed(err error) bool { return errors.Is(err, ErrConnectionFailed) }
