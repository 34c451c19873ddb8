package feed

import (
	"errors"
	"fmt"
	"io"

	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/selector"
)

// Reserved columns
const (
	FlagsColumn       = "action_flags"
	MatchOnColumn     = "match_on"
	ExternalKeyColumn = "external_key"
)

// ErrMissingFlags is returned for rows without an action_flags column
var ErrMissingFlags = errors.New("row has no " + FlagsColumn + " column")

// Builder builds the actions of one row
type Builder interface {
	Build(req action.SyncActions, matchOn []string, key string, fields map[string]string) (action.Group, error)
}

// RowFactory decodes the reserved columns of a row and builds its actions
type RowFactory struct {
	builder Builder
}

// NewRowFactory creates a row factory building through b
func NewRowFactory(b Builder) *RowFactory {
	return &RowFactory{builder: b}
}

// FromRow returns the actions of row. An empty row has none. The row itself is
// not modified.
func (f *RowFactory) FromRow(row map[string]string) (action.Group, error) {
	if len(row) == 0 {
		return nil, nil
	}

	fields := make(map[string]string, len(row))
	for name, value := range row {
		fields[name] = value
	}

	flags, ok := fields[FlagsColumn]
	if !ok {
		return nil, ErrMissingFlags
	}
	delete(fields, FlagsColumn)

	matchOn := selector.Parse(fields[MatchOnColumn])
	delete(fields, MatchOnColumn)

	key := fields[ExternalKeyColumn]
	delete(fields, ExternalKeyColumn)

	req, err := action.ParseSyncActions(flags)
	if err != nil {
		return nil, err
	}
	return f.builder.Build(req, matchOn, key, fields)
}

// RowError locates a row that could not be turned into actions
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row at line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

type liner interface {
	Line() int
}

// ReadAll builds the actions of every row of r. The first row that fails stops
// the read with a *RowError.
func (f *RowFactory) ReadAll(r Reader) ([]action.Group, error) {
	var groups []action.Group
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return groups, nil
		}
		if err != nil {
			return nil, err
		}

		group, err := f.FromRow(row)
		if err != nil {
			line := 0
			if l, ok := r.(liner); ok {
				line = l.Line()
			}
			return nil, &RowError{Line: line, Err: err}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
}
