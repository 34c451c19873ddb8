package schema_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/sync4go/internal/testutil"
	"github.com/ammar0144/sync4go/pkg/schema"
)

func TestRegistry_Attributes(t *testing.T) {
	reg := testutil.NewRegistry(t, testutil.NewDB(t))

	people, ok := reg.Model("people")
	require.True(t, ok)
	assert.Equal(t, "Person", people.Name())
	assert.Equal(t, "id", people.PrimaryKey().DBName)

	byType, ok := reg.Lookup("person")
	require.True(t, ok)
	assert.Same(t, people, byType)

	tests := []struct {
		name     string
		kind     schema.Kind
		column   string
		nullable bool
		related  string
	}{
		{name: "email", kind: schema.KindColumn, column: "email"},
		{name: "Nickname", kind: schema.KindColumn, column: "nickname", nullable: true},
		{name: "birth_date", kind: schema.KindColumn, column: "birth_date", nullable: true},
		{name: "company_id", kind: schema.KindColumn, column: "company_id", nullable: true, related: "companies"},
		{name: "company", kind: schema.KindRelation, column: "company_id", nullable: true, related: "companies"},
		{name: "tags", kind: schema.KindManyValued, related: "tags"},
		{name: "notes", kind: schema.KindManyValued, related: "notes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr, ok := people.Attribute(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.kind, attr.Kind)
			assert.Equal(t, tt.column, attr.Column())
			assert.Equal(t, tt.nullable, attr.Nullable)
			assert.Equal(t, tt.related, attr.RelatedTable())
		})
	}

	profile, ok := people.Attribute("profile")
	require.True(t, ok)
	assert.True(t, profile.Structured)

	_, ok = people.Attribute("unknown")
	assert.False(t, ok)
}

func TestRegistry_DetectsGenericRelations(t *testing.T) {
	reg := testutil.NewRegistry(t, testutil.NewDB(t))

	notes, ok := reg.Model("notes")
	require.True(t, ok)
	require.Len(t, notes.GenericRelations(), 1)
	assert.Equal(t, schema.GenericRelation{TypeField: "owner_type", IDField: "owner_id"}, notes.GenericRelations()[0])

	ownerID, ok := notes.Attribute("owner_id")
	require.True(t, ok)
	assert.Equal(t, "owner_type", ownerID.GenericType)
}

func TestModel_ConvertAndSet(t *testing.T) {
	reg := testutil.NewRegistry(t, testutil.NewDB(t))
	people, _ := reg.Model("people")
	ctx := context.Background()
	p := people.New()

	set := func(name, raw string) {
		attr, ok := people.Attribute(name)
		require.True(t, ok)
		v, err := attr.Convert(raw)
		require.NoError(t, err)
		require.NoError(t, people.Set(ctx, p, attr, v))
	}

	set("email", "a@b.com")
	set("age", "42")
	set("birth_date", "1990-04-01")
	set("company_id", "7")
	set("profile", `{"lang":"en"}`)
	set("nickname", "")

	person := p.(*testutil.Person)
	assert.Equal(t, "a@b.com", person.Email)
	assert.Equal(t, 42, person.Age)
	require.NotNil(t, person.BirthDate)
	assert.Equal(t, time.Date(1990, 4, 1, 0, 0, 0, 0, time.UTC), person.BirthDate.UTC())
	require.NotNil(t, person.CompanyID)
	assert.EqualValues(t, 7, *person.CompanyID)
	assert.JSONEq(t, `{"lang":"en"}`, string(person.Profile))
	assert.Nil(t, person.Nickname)

	// text that is not JSON is kept as a JSON string
	set("profile", "plain text")
	assert.JSONEq(t, `"plain text"`, string(person.Profile))

	age, _ := people.Attribute("age")
	_, err := age.Convert("forty")
	assert.Error(t, err)
}

func TestModel_IsEmpty(t *testing.T) {
	reg := testutil.NewRegistry(t, testutil.NewDB(t))
	people, _ := reg.Model("people")
	ctx := context.Background()

	p := &testutil.Person{Age: 0, CompanyID: testutil.Ptr(uint64(0))}
	attr := func(name string) *schema.Attribute {
		a, ok := people.Attribute(name)
		require.True(t, ok)
		return a
	}

	assert.True(t, people.IsEmpty(ctx, p, attr("email")))
	assert.True(t, people.IsEmpty(ctx, p, attr("nickname")))
	assert.True(t, people.IsEmpty(ctx, p, attr("birth_date")))
	assert.False(t, people.IsEmpty(ctx, p, attr("age")), "0 is a value for plain columns")
	assert.True(t, people.IsEmpty(ctx, p, attr("company_id")), "0 is never a valid id")

	p.Email = "x@y.z"
	p.Nickname = testutil.Ptr("")
	assert.False(t, people.IsEmpty(ctx, p, attr("email")))
	assert.True(t, people.IsEmpty(ctx, p, attr("nickname")))
}

func TestModel_IDAndColumns(t *testing.T) {
	reg := testutil.NewRegistry(t, testutil.NewDB(t))
	people, _ := reg.Model("people")
	ctx := context.Background()

	p := &testutil.Person{}
	assert.Zero(t, people.ID(ctx, p))
	require.NoError(t, people.SetID(ctx, p, 12))
	assert.EqualValues(t, 12, people.ID(ctx, p))

	cols := people.Columns([]string{"email", "Email", "id", "company", "tags", "name"})
	assert.Equal(t, []string{"email", "company_id", "name"}, cols)
}

func TestRegistry_DisableAutoNow(t *testing.T) {
	manager := testutil.NewDB(t)
	reg := testutil.NewRegistry(t, manager)
	people, _ := reg.Model("people")
	ctx := context.Background()

	p := &testutil.Person{Email: "old@b.com"}
	require.NoError(t, manager.Conn(ctx).Create(p).Error)

	restore := reg.DisableAutoNow(people, []string{"email", "updated_at"})
	historic := time.Date(2001, 1, 2, 3, 4, 5, 0, time.UTC)
	p.UpdatedAt = historic
	require.NoError(t, manager.Conn(ctx).Save(p).Error)
	restore()
	restore()

	var loaded testutil.Person
	require.NoError(t, manager.Conn(ctx).First(&loaded, p.ID).Error)
	assert.True(t, historic.Equal(loaded.UpdatedAt.UTC()), "feed supplied timestamps are stored verbatim")

	require.NoError(t, manager.Conn(ctx).Save(p).Error)
	assert.False(t, historic.Equal(p.UpdatedAt.UTC()), "automatic timestamps are restored")
}
