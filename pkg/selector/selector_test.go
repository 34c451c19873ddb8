package selector

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var row = map[string]string{
	"email": "a@b.com",
	"name":  "Ann",
	"id":    "3",
	"a":     "1",
	"b":     "2",
	"c":     "3",
}

func TestSelector_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	tests := []struct {
		name    string
		matchOn string
	}{
		{name: "single", matchOn: "email"},
		{name: "implicit_and", matchOn: "email name"},
		{name: "postfix_and_or", matchOn: "a b & c |"},
		{name: "postfix_not", matchOn: "a ~"},
		{name: "postfix_not_group", matchOn: "email name & ~ id |"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Parse(tt.matchOn), row)
			require.NoError(t, err)
			predicate, err := s.Resolve()
			require.NoError(t, err)
			g.Assert(t, tt.name, []byte(predicate.String()))
		})
	}
}

func TestSelector_ImplicitAndKeepsOrder(t *testing.T) {
	s, err := New([]string{"name", "email", "id"}, row)
	require.NoError(t, err)
	predicate, err := s.Resolve()
	require.NoError(t, err)

	sql, args := predicate.ToSQL()
	assert.Equal(t, "name = ? AND email = ? AND id = ?", sql)
	assert.Equal(t, []interface{}{"Ann", "a@b.com", "3"}, args)
	assert.Equal(t, []string{"name", "email", "id"}, s.Fields())
}

func TestSelector_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		matchOn []string
	}{
		{name: "unknown field", matchOn: []string{"email", "phone"}},
		{name: "and needs two", matchOn: []string{"a", "&"}},
		{name: "or needs two", matchOn: []string{"|"}},
		{name: "not needs one", matchOn: []string{"~", "a"}},
		{name: "dangling operand", matchOn: []string{"a", "b", "&", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.matchOn, row)
			assert.ErrorIs(t, err, ErrInvalidMatch)
		})
	}
}

func TestSelector_Empty(t *testing.T) {
	s, err := New(nil, row)
	require.NoError(t, err)
	assert.True(t, s.Empty())

	_, err = s.Resolve()
	assert.ErrorIs(t, err, ErrInvalidMatch)

	var none *Selector
	assert.True(t, none.Empty())
}

func TestIsOperator(t *testing.T) {
	for _, op := range []string{"&", "|", "~"} {
		assert.True(t, IsOperator(op))
	}
	assert.False(t, IsOperator("email"))
	assert.Equal(t, []string{"email", "name", "&"}, Parse("  email name  & "))
}
