package action

import (
	"fmt"
	"strings"
)

// SyncActions is the mutation requested for a row. The zero value is impotent:
// it identifies a record without changing anything.
type SyncActions struct {
	create bool
	update bool
	delete bool
	force  bool
}

// NewSyncActions builds a request. Delete cannot be combined with create or update.
func NewSyncActions(create, update, delete, force bool) (SyncActions, error) {
	if delete && create {
		return SyncActions{}, fmt.Errorf("%w: cannot delete and create", ErrInvalidSyncActions)
	}
	if delete && update {
		return SyncActions{}, fmt.Errorf("%w: cannot delete and update", ErrInvalidSyncActions)
	}
	return SyncActions{create: create, update: update, delete: delete, force: force}, nil
}

// ParseSyncActions decodes action flags: c, u and d (any case) request create,
// update and delete, * forces. Other characters are ignored.
func ParseSyncActions(flags string) (SyncActions, error) {
	lower := strings.ToLower(flags)
	return NewSyncActions(
		strings.Contains(lower, "c"),
		strings.Contains(lower, "u"),
		strings.Contains(lower, "d"),
		strings.Contains(lower, "*"),
	)
}

func (s SyncActions) Create() bool { return s.create }
func (s SyncActions) Update() bool { return s.update }
func (s SyncActions) Delete() bool { return s.delete }
func (s SyncActions) Force() bool  { return s.force }

// Impotent reports whether nothing may be mutated
func (s SyncActions) Impotent() bool {
	return !(s.create || s.update || s.delete)
}

// Flags encodes the request back into action flags
func (s SyncActions) Flags() string {
	var b strings.Builder
	if s.create {
		b.WriteByte('c')
	}
	if s.update {
		b.WriteByte('u')
	}
	if s.delete {
		b.WriteByte('d')
	}
	if s.force {
		b.WriteByte('*')
	}
	return b.String()
}

func (s SyncActions) String() string {
	return "SyncActions " + s.Flags()
}
