package redis

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"
)

// opCounter counts one kind of cache operation and its total latency
type opCounter struct {
	count   atomic.Uint64
	latency atomic.Uint64 // nanoseconds
}

func (c *opCounter) record(d time.Duration) {
	c.count.Add(1)
	c.latency.Add(uint64(d.Nanoseconds()))
}

func (c *opCounter) load() (uint64, time.Duration) {
	n := c.count.Load()
	return n, time.Duration(c.latency.Load())
}

// Metrics tracks what the lookup cache did. A sync run takes a snapshot
// before it starts and reports the difference when it ends.
type Metrics struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	errors        atomic.Uint64
	invalidations atomic.Uint64

	gets    opCounter
	sets    opCounter
	deletes opCounter
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit increments cache hit counter
func (m *Metrics) RecordCacheHit() { m.hits.Add(1) }

// RecordCacheMiss increments cache miss counter
func (m *Metrics) RecordCacheMiss() { m.misses.Add(1) }

// RecordCacheError increments cache error counter
func (m *Metrics) RecordCacheError() { m.errors.Add(1) }

// RecordInvalidation counts one pattern invalidation after a write
func (m *Metrics) RecordInvalidation() { m.invalidations.Add(1) }

// RecordGet records a get operation with latency
func (m *Metrics) RecordGet(d time.Duration) { m.gets.record(d) }

// RecordSet records a set operation with latency
func (m *Metrics) RecordSet(d time.Duration) { m.sets.record(d) }

// RecordDelete records a delete operation with latency
func (m *Metrics) RecordDelete(d time.Duration) { m.deletes.record(d) }

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		CacheHits:         m.hits.Load(),
		CacheMisses:       m.misses.Load(),
		CacheErrors:       m.errors.Load(),
		InvalidationCount: m.invalidations.Load(),
	}
	s.GetOperations, s.getLatency = m.gets.load()
	s.SetOperations, s.setLatency = m.sets.load()
	s.DeleteOperations, s.deleteLatency = m.deletes.load()
	return s
}

// MetricsSnapshot is a point-in-time copy of the counters
type MetricsSnapshot struct {
	CacheHits         uint64
	CacheMisses       uint64
	CacheErrors       uint64
	InvalidationCount uint64

	GetOperations    uint64
	SetOperations    uint64
	DeleteOperations uint64

	getLatency, setLatency, deleteLatency time.Duration
}

// Since returns the activity between prev and s
func (s MetricsSnapshot) Since(prev MetricsSnapshot) MetricsSnapshot {
	return MetricsSnapshot{
		CacheHits:         s.CacheHits - prev.CacheHits,
		CacheMisses:       s.CacheMisses - prev.CacheMisses,
		CacheErrors:       s.CacheErrors - prev.CacheErrors,
		InvalidationCount: s.InvalidationCount - prev.InvalidationCount,
		GetOperations:     s.GetOperations - prev.GetOperations,
		SetOperations:     s.SetOperations - prev.SetOperations,
		DeleteOperations:  s.DeleteOperations - prev.DeleteOperations,
		getLatency:        s.getLatency - prev.getLatency,
		setLatency:        s.setLatency - prev.setLatency,
		deleteLatency:     s.deleteLatency - prev.deleteLatency,
	}
}

// HitRate is the percentage of lookups served from the cache
func (s MetricsSnapshot) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total) * 100
}

// AvgGetLatency is the mean latency of get operations
func (s MetricsSnapshot) AvgGetLatency() time.Duration { return avg(s.getLatency, s.GetOperations) }

// AvgSetLatency is the mean latency of set operations
func (s MetricsSnapshot) AvgSetLatency() time.Duration { return avg(s.setLatency, s.SetOperations) }

// AvgDeleteLatency is the mean latency of delete operations
func (s MetricsSnapshot) AvgDeleteLatency() time.Duration {
	return avg(s.deleteLatency, s.DeleteOperations)
}

// MarshalLogObject lets a snapshot be logged with zap.Object
func (s MetricsSnapshot) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("hits", s.CacheHits)
	enc.AddUint64("misses", s.CacheMisses)
	enc.AddFloat64("hit_rate", s.HitRate())
	if s.CacheErrors > 0 {
		enc.AddUint64("errors", s.CacheErrors)
	}
	enc.AddUint64("invalidations", s.InvalidationCount)
	enc.AddDuration("avg_get", s.AvgGetLatency())
	return nil
}

func avg(total time.Duration, n uint64) time.Duration {
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}
