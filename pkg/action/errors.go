package action

import (
	"errors"
	"fmt"

	"github.com/ammar0144/sync4go/pkg/mapping"
	"github.com/ammar0144/sync4go/pkg/selector"
	"github.com/ammar0144/sync4go/pkg/store"
)

var (
	// ErrInvalidSyncActions is returned for requests combining delete with create or update
	ErrInvalidSyncActions = errors.New("invalid sync actions")

	// ErrGenericTypeUnknown is returned when a generic reference id is set but its
	// discriminator holds no type
	ErrGenericTypeUnknown = errors.New("content type of generic reference is unknown")

	// ErrValidation marks errors detected while building actions, before any mutation
	ErrValidation = errors.New("validation error")
)

// DissimilarActionTypesError is returned when the sub-match keys of one many-valued
// relation carry different set operations
type DissimilarActionTypesError struct {
	First  byte
	Second byte
	Field  string
	Model  string
}

func (e *DissimilarActionTypesError) Error() string {
	return fmt.Sprintf("dissimilar action types %q and %q for %s.%s", e.First, e.Second, e.Model, e.Field)
}

// UnknownActionTypeError is returned when a many-valued relation directive does not
// start with one of + - =
type UnknownActionTypeError struct {
	Type  byte
	Field string
	Model string
}

func (e *UnknownActionTypeError) Error() string {
	return fmt.Sprintf("unknown action type %q for %s.%s", e.Type, e.Model, e.Field)
}

// recoverable reports whether err only means that one action did not apply.
// Anything else, typically a lost connection, aborts the run.
func recoverable(err error) bool {
	var dissimilar *DissimilarActionTypesError
	var unknown *UnknownActionTypeError
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrMultipleFound) ||
		errors.Is(store.Translate(err), store.ErrIntegrity) ||
		errors.Is(err, store.ErrUnknownField) ||
		errors.Is(err, store.ErrInvalidValue) ||
		errors.Is(err, mapping.ErrMappingNotFound) ||
		errors.Is(err, selector.ErrInvalidMatch) ||
		errors.Is(err, ErrGenericTypeUnknown) ||
		errors.As(err, &dissimilar) ||
		errors.As(err, &unknown)
}
