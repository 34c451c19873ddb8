// Package selector turns a row's match expression into a query predicate.
//
// A match expression lists field names, optionally mixed with the postfix
// operators "&" (and), "|" (or) and "~" (not):
//
//	email               -> email = ?
//	email name          -> email = ? AND name = ?
//	email name & id |   -> (email = ? AND name = ?) OR id = ?
//	email ~             -> NOT (email = ?)
package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ammar0144/sync4go/pkg/db"
)

// ErrInvalidMatch is returned for expressions naming unknown fields or with
// unbalanced operators
var ErrInvalidMatch = errors.New("invalid match expression")

// Boolean operator tokens
const (
	OpAnd = "&"
	OpOr  = "|"
	OpNot = "~"
)

// IsOperator reports whether token is a boolean operator
func IsOperator(token string) bool {
	switch token {
	case OpAnd, OpOr, OpNot:
		return true
	}
	return false
}

// Selector locates records matching a row's values on the listed fields
type Selector struct {
	matchOn   []string
	values    map[string]string
	predicate *db.ConditionGroup
}

// New validates matchOn against the row's fields and builds its predicate.
// Both unknown fields and malformed operator sequences fail with ErrInvalidMatch.
func New(matchOn []string, fields map[string]string) (*Selector, error) {
	s := &Selector{
		matchOn: append([]string(nil), matchOn...),
		values:  make(map[string]string),
	}
	for _, token := range matchOn {
		if IsOperator(token) {
			continue
		}
		value, ok := fields[token]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidMatch, token)
		}
		s.values[token] = value
	}

	predicate, err := s.build()
	if err != nil {
		return nil, err
	}
	s.predicate = predicate
	return s, nil
}

// Parse splits a space delimited match_on value into tokens
func Parse(matchOn string) []string {
	return strings.Fields(matchOn)
}

// Empty reports whether the expression names no field
func (s *Selector) Empty() bool {
	return s == nil || len(s.values) == 0
}

// Fields lists the field names referenced, in expression order
func (s *Selector) Fields() []string {
	var fields []string
	for _, token := range s.matchOn {
		if !IsOperator(token) {
			fields = append(fields, token)
		}
	}
	return fields
}

// Resolve returns the predicate over field names and raw row values. Callers map
// field names to columns and convert values before rendering it.
func (s *Selector) Resolve() (*db.ConditionGroup, error) {
	if s == nil || s.predicate == nil {
		return nil, fmt.Errorf("%w: nothing to match on", ErrInvalidMatch)
	}
	return s.predicate, nil
}

func (s *Selector) String() string {
	if s == nil {
		return ""
	}
	return strings.Join(s.matchOn, " ")
}

func (s *Selector) equals(field string) db.Condition {
	return db.Condition{Field: field, Operator: db.Equal, Value: s.values[field]}
}

func (s *Selector) build() (*db.ConditionGroup, error) {
	if len(s.values) == 0 {
		if len(s.matchOn) > 0 {
			return nil, fmt.Errorf("%w: operators without fields", ErrInvalidMatch)
		}
		return nil, nil
	}

	hasOperator := false
	for _, token := range s.matchOn {
		if IsOperator(token) {
			hasOperator = true
			break
		}
	}
	if !hasOperator {
		group := db.NewConditionGroup(db.And)
		for _, field := range s.matchOn {
			group.Add(s.equals(field))
		}
		return group, nil
	}

	var stack []interface{}
	pop := func() interface{} {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top
	}

	for _, token := range s.matchOn {
		switch token {
		case OpNot:
			if len(stack) < 1 {
				return nil, fmt.Errorf("%w: %q needs one operand", ErrInvalidMatch, token)
			}
			stack = append(stack, negate(pop()))
		case OpAnd, OpOr:
			if len(stack) < 2 {
				return nil, fmt.Errorf("%w: %q needs two operands", ErrInvalidMatch, token)
			}
			right := pop()
			left := pop()
			operator := db.And
			if token == OpOr {
				operator = db.Or
			}
			stack = append(stack, db.NewConditionGroup(operator).Add(left, right))
		default:
			stack = append(stack, s.equals(token))
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d predicates left without an operator", ErrInvalidMatch, len(stack))
	}
	return asGroup(stack[0]), nil
}

func negate(item interface{}) *db.ConditionGroup {
	return asGroup(item).Not()
}

func asGroup(item interface{}) *db.ConditionGroup {
	if group, ok := item.(*db.ConditionGroup); ok {
		return group
	}
	return db.NewConditionGroup(db.And).Add(item)
}
