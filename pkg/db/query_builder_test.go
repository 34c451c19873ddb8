package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionGroup_ToSQL(t *testing.T) {
	t.Run("and of equalities", func(t *testing.T) {
		g := NewConditionGroup(And).Where("a", Equal, 1).Where("b", Equal, "x")
		sql, args := g.ToSQL()
		assert.Equal(t, "a = ? AND b = ?", sql)
		assert.Equal(t, []interface{}{1, "x"}, args)
	})

	t.Run("nested groups are parenthesized", func(t *testing.T) {
		g := NewConditionGroup(Or).
			Group(And, func(c *ConditionGroup) {
				c.Where("a", Equal, 1).Where("b", Equal, 2)
			}).
			Where("c", Equal, 3)
		sql, args := g.ToSQL()
		assert.Equal(t, "(a = ? AND b = ?) OR c = ?", sql)
		assert.Equal(t, []interface{}{1, 2, 3}, args)
	})

	t.Run("negation", func(t *testing.T) {
		g := NewConditionGroup(And).Where("a", Equal, 1).Not()
		sql, _ := g.ToSQL()
		assert.Equal(t, "NOT (a = ?)", sql)

		outer := NewConditionGroup(And).Add(g).Where("b", Equal, 2)
		sql, _ = outer.ToSQL()
		assert.Equal(t, "NOT (a = ?) AND b = ?", sql)
	})

	t.Run("nil equality becomes IS NULL", func(t *testing.T) {
		sql, args := NewConditionGroup(And).Where("a", Equal, nil).ToSQL()
		assert.Equal(t, "a IS NULL", sql)
		assert.Empty(t, args)
	})

	t.Run("in expands placeholders", func(t *testing.T) {
		sql, args := NewConditionGroup(And).Where("id", In, []uint64{1, 2, 3}).ToSQL()
		assert.Equal(t, "id IN (?, ?, ?)", sql)
		assert.Len(t, args, 3)

		sql, _ = NewConditionGroup(And).Where("id", In, []uint64{}).ToSQL()
		assert.Equal(t, "1 = 0", sql)
	})

	t.Run("empty", func(t *testing.T) {
		g := NewConditionGroup(And).Add(NewConditionGroup(Or))
		assert.True(t, g.IsEmpty())
		sql, _ := g.ToSQL()
		assert.Empty(t, sql)
	})
}

func TestConditionGroup_MapFields(t *testing.T) {
	g := NewConditionGroup(Or).
		Group(And, func(c *ConditionGroup) { c.Where("Email", Equal, "a@b.com") }).
		Where("Name", Equal, "Ann")

	mapped, err := g.MapFields(func(c Condition) (Condition, error) {
		c.Field = strings.ToLower(c.Field)
		return c, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, mapped.Fields())
	assert.Equal(t, []string{"Email", "Name"}, g.Fields(), "original must be untouched")

	_, err = g.MapFields(func(c Condition) (Condition, error) {
		return c, errors.New("unknown column")
	})
	assert.Error(t, err)
}
