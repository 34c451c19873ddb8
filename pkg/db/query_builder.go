package db

import (
	"fmt"
	"reflect"
	"strings"
)

// Predicate rendering for GORM Where clauses.
//
// SECURITY WARNING:
// Rendering does NOT escape or validate column names. Field names MUST be mapped to
// validated column identifiers (see MapFields) before ToSQL is called.
// User input should ONLY be passed through the Value field of Condition structs,
// which are parameterized in the rendered SQL.
//
// Example:
//   group := db.NewConditionGroup(db.And).Where("email", db.Equal, email)
//   sql, args := group.ToSQL()
//   conn.Where(sql, args...).Find(&people)

// Operator represents SQL comparison operators
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
)

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	And LogicalOperator = "AND"
	Or  LogicalOperator = "OR"
)

// Condition represents a WHERE clause condition
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// ConditionGroup represents grouped conditions with logical operators
type ConditionGroup struct {
	Conditions []interface{} // Can be Condition or nested *ConditionGroup
	Operator   LogicalOperator
	Negate     bool // Render as NOT (...)
}

// NewConditionGroup creates an empty group joined by operator
func NewConditionGroup(operator LogicalOperator) *ConditionGroup {
	return &ConditionGroup{Operator: operator}
}

// Where adds a condition to the group
func (g *ConditionGroup) Where(field string, operator Operator, value interface{}) *ConditionGroup {
	g.Conditions = append(g.Conditions, Condition{
		Field:    field,
		Operator: operator,
		Value:    value,
	})
	return g
}

// Group adds a nested condition group
func (g *ConditionGroup) Group(operator LogicalOperator, fn func(*ConditionGroup)) *ConditionGroup {
	group := &ConditionGroup{Operator: operator}
	fn(group)
	g.Conditions = append(g.Conditions, group)
	return g
}

// Add appends already built conditions or groups
func (g *ConditionGroup) Add(items ...interface{}) *ConditionGroup {
	g.Conditions = append(g.Conditions, items...)
	return g
}

// Not returns a negated copy of the group
func (g *ConditionGroup) Not() *ConditionGroup {
	negated := *g
	negated.Negate = !g.Negate
	return &negated
}

// IsEmpty reports whether the group renders to no SQL at all
func (g *ConditionGroup) IsEmpty() bool {
	for _, item := range g.Conditions {
		switch cond := item.(type) {
		case Condition:
			return false
		case *ConditionGroup:
			if !cond.IsEmpty() {
				return false
			}
		}
	}
	return true
}

// Fields lists the field names referenced by the group, depth first
func (g *ConditionGroup) Fields() []string {
	var fields []string
	for _, item := range g.Conditions {
		switch cond := item.(type) {
		case Condition:
			fields = append(fields, cond.Field)
		case *ConditionGroup:
			fields = append(fields, cond.Fields()...)
		}
	}
	return fields
}

// MapFields returns a copy of the group with every condition passed through fn.
// It is used to turn attribute names into validated column names and raw values
// into typed ones before rendering.
func (g *ConditionGroup) MapFields(fn func(Condition) (Condition, error)) (*ConditionGroup, error) {
	mapped := &ConditionGroup{Operator: g.Operator, Negate: g.Negate}
	for _, item := range g.Conditions {
		switch cond := item.(type) {
		case Condition:
			c, err := fn(cond)
			if err != nil {
				return nil, err
			}
			mapped.Conditions = append(mapped.Conditions, c)
		case *ConditionGroup:
			sub, err := cond.MapFields(fn)
			if err != nil {
				return nil, err
			}
			mapped.Conditions = append(mapped.Conditions, sub)
		}
	}
	return mapped, nil
}

// ToSQL renders the group into a parameterized SQL fragment
func (g *ConditionGroup) ToSQL() (string, []interface{}) {
	sql, args := buildConditionGroup(g)
	if sql != "" && g.Negate {
		sql = "NOT (" + sql + ")"
	}
	return sql, args
}

// String renders the group with its placeholders, for logging
func (g *ConditionGroup) String() string {
	sql, args := g.ToSQL()
	if len(args) == 0 {
		return sql
	}
	return fmt.Sprintf("%s %v", sql, args)
}

// buildConditionGroup builds SQL for a condition group with proper logical operators
func buildConditionGroup(group *ConditionGroup) (string, []interface{}) {
	if len(group.Conditions) == 0 {
		return "", nil
	}

	var conditions []string
	var args []interface{}

	for _, item := range group.Conditions {
		switch cond := item.(type) {
		case Condition:
			condSQL, condArgs := buildCondition(cond)
			conditions = append(conditions, condSQL)
			args = append(args, condArgs...)
		case *ConditionGroup:
			groupSQL, groupArgs := buildConditionGroup(cond)
			if groupSQL == "" {
				continue
			}
			switch {
			case cond.Negate:
				groupSQL = "NOT (" + groupSQL + ")"
			case len(cond.Conditions) > 1:
				groupSQL = "(" + groupSQL + ")"
			}
			conditions = append(conditions, groupSQL)
			args = append(args, groupArgs...)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}

	operator := " " + string(group.Operator) + " "
	return strings.Join(conditions, operator), args
}

// buildCondition builds SQL for a single condition
func buildCondition(cond Condition) (string, []interface{}) {
	switch cond.Operator {
	case IsNull, IsNotNull:
		return fmt.Sprintf("%s %s", cond.Field, cond.Operator), nil
	case In, NotIn:
		return buildInCondition(cond)
	case Equal:
		if cond.Value == nil {
			return fmt.Sprintf("%s %s", cond.Field, IsNull), nil
		}
	}
	return fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), []interface{}{cond.Value}
}

// buildInCondition builds IN/NOT IN conditions with proper placeholder expansion
func buildInCondition(cond Condition) (string, []interface{}) {
	if cond.Value == nil {
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	v := reflect.ValueOf(cond.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		// Single value, treat as regular condition
		return fmt.Sprintf("%s %s (?)", cond.Field, cond.Operator), []interface{}{cond.Value}
	}

	length := v.Len()
	if length == 0 {
		// Empty slice - return condition that never matches
		if cond.Operator == In {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}

	placeholders := make([]string, length)
	args := make([]interface{}, length)
	for i := 0; i < length; i++ {
		placeholders[i] = "?"
		args[i] = v.Index(i).Interface()
	}

	sql := fmt.Sprintf("%s %s (%s)", cond.Field, cond.Operator, strings.Join(placeholders, ", "))
	return sql, args
}
