package action_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/sync4go/internal/testenv"
	"github.com/ammar0144/sync4go/internal/testutil"
	"github.com/ammar0144/sync4go/pkg/action"
	"github.com/ammar0144/sync4go/pkg/mapping"
)

func run(t *testing.T, group action.Group) []interface{} {
	t.Helper()
	results := make([]interface{}, 0, len(group))
	for _, a := range group {
		obj, err := a.Execute(context.Background(), action.ExecOptions{})
		require.NoError(t, err, a.String())
		results = append(results, obj)
	}
	return results
}

func build(t *testing.T, f *action.Factory, flags string, matchOn []string, key string, fields map[string]string) action.Group {
	t.Helper()
	req, err := action.ParseSyncActions(flags)
	require.NoError(t, err)
	group, err := f.Build(req, matchOn, key, fields)
	require.NoError(t, err)
	return group
}

func loadPerson(t *testing.T, env *testenv.Env, email string) *testutil.Person {
	t.Helper()
	var p testutil.Person
	require.NoError(t, env.Manager.DB().Preload("Tags").Where("email = ?", email).First(&p).Error)
	return &p
}

func TestSyncActions(t *testing.T) {
	tests := []struct {
		flags    string
		want     string
		impotent bool
		wantErr  bool
	}{
		{flags: "", want: "", impotent: true},
		{flags: "c", want: "c"},
		{flags: "CU*", want: "cu*"},
		{flags: "ucx", want: "cu"},
		{flags: "d*", want: "d*"},
		{flags: "*", want: "*", impotent: true},
		{flags: "cd", wantErr: true},
		{flags: "ud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.flags, func(t *testing.T) {
			req, err := action.ParseSyncActions(tt.flags)
			if tt.wantErr {
				assert.ErrorIs(t, err, action.ErrInvalidSyncActions)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Flags())
			assert.Equal(t, tt.impotent, req.Impotent())
		})
	}
}

func TestFactory_NeedsSystemForExternalRelations(t *testing.T) {
	env := testenv.New(t)
	_, err := action.NewFactory(env.Model(t, "people"), env.Actions(), action.FactoryOptions{RelByExternalKey: true})
	assert.ErrorIs(t, err, action.ErrValidation)
}

func TestFactory_Build(t *testing.T) {
	env := testenv.New(t)
	sys := env.System(t, "S1")
	mapped := env.Factory(t, "people", action.FactoryOptions{System: sys})
	plain := env.Factory(t, "people", action.FactoryOptions{})

	tests := []struct {
		name    string
		factory *action.Factory
		flags   string
		key     string
		want    []string
	}{
		{name: "impotent", factory: plain, flags: "", want: []string{"*action.ModelAction"}},
		{name: "delete unmapped", factory: plain, flags: "d", key: "K1", want: []string{}},
		{name: "forced delete unmapped", factory: plain, flags: "d*", key: "K1", want: []string{"*action.DeleteAction"}},
		{name: "delete mapped", factory: mapped, flags: "d", key: "K1",
			want: []string{"*action.DeleteIfOnlyReferenceAction", "*action.DeleteExternalReferenceAction"}},
		{name: "forced delete mapped", factory: mapped, flags: "d*", key: "K1",
			want: []string{"*action.DeleteAction", "*action.DeleteExternalReferenceAction"}},
		{name: "delete without key", factory: mapped, flags: "d", key: " ", want: []string{}},
		{name: "create update mapped", factory: mapped, flags: "cu", key: "K1",
			want: []string{"*action.CreateWithReferenceAction", "*action.UpdateWithReferenceAction"}},
		{name: "create update unmapped", factory: plain, flags: "cu", key: "K1",
			want: []string{"*action.CreateAction", "*action.UpdateAction"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := build(t, tt.factory, tt.flags, []string{"email"}, tt.key, map[string]string{"email": "a@b.com"})
			got := make([]string, 0, len(group))
			for _, a := range group {
				got = append(got, fmt.Sprintf("%T", a))
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, mapped.IsExternallyMappable("K1"))
	assert.False(t, mapped.IsExternallyMappable("  "))
	assert.False(t, plain.IsExternallyMappable("K1"))
}

func TestFactory_BuildRejectsInvalidMatch(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})
	req, _ := action.ParseSyncActions("c")

	_, err := f.Build(req, []string{"email"}, "", map[string]string{"name": "Ann"})
	assert.ErrorIs(t, err, action.ErrValidation)

	_, err = f.Build(req, []string{"tags"}, "", map[string]string{"tags": "x"})
	assert.ErrorIs(t, err, action.ErrValidation)

	_, err = f.Build(req, []string{"&"}, "", map[string]string{"email": "a@b.com"})
	assert.ErrorIs(t, err, action.ErrValidation)
}

func TestCreate_Idempotent(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})
	fields := map[string]string{"email": "ann@example.com", "name": "Ann", "age": "41"}

	first := build(t, f, "c", []string{"email"}, "", fields)
	results := run(t, first)
	require.NotNil(t, results[0])
	assert.False(t, first[0].(action.Creator).AlreadyExisted())

	second := build(t, f, "c", []string{"email"}, "", fields)
	results = run(t, second)
	require.NotNil(t, results[0])
	assert.True(t, second[0].(action.Creator).AlreadyExisted())

	assert.EqualValues(t, 1, env.Count(t, "people"))
	p := loadPerson(t, env, "ann@example.com")
	assert.Equal(t, "Ann", p.Name)
	assert.Equal(t, 41, p.Age)
}

func TestUpdate_ForceAndNonForce(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})
	run(t, build(t, f, "c", []string{"email"}, "", map[string]string{"email": "ann@example.com", "name": "Ann"}))

	run(t, build(t, f, "u", []string{"email"}, "", map[string]string{
		"email": "ann@example.com", "name": "Bob", "nickname": "annie",
	}))
	p := loadPerson(t, env, "ann@example.com")
	assert.Equal(t, "Ann", p.Name, "unforced update keeps values")
	require.NotNil(t, p.Nickname)
	assert.Equal(t, "annie", *p.Nickname, "unforced update fills empty values")

	run(t, build(t, f, "u*", []string{"email"}, "", map[string]string{
		"email": "ann@example.com", "name": "Bob", "nickname": "",
	}))
	p = loadPerson(t, env, "ann@example.com")
	assert.Equal(t, "Bob", p.Name)
	assert.Nil(t, p.Nickname, "empty value clears a nullable column")
}

func TestUpdate_MissingRecordIsNoop(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})
	results := run(t, build(t, f, "u", []string{"email"}, "", map[string]string{"email": "ghost@example.com", "name": "Ghost"}))
	assert.Nil(t, results[0])
	assert.EqualValues(t, 0, env.Count(t, "people"))
}

func TestCreate_InvalidValueSkipsRow(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})
	results := run(t, build(t, f, "c", []string{"email"}, "", map[string]string{"email": "ann@example.com", "age": "forty"}))
	assert.Nil(t, results[0])
	assert.EqualValues(t, 0, env.Count(t, "people"))
}

func TestCreate_IntegrityErrorIsRecovered(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})
	fields := map[string]string{"email": "ann@example.com", "name": "Ann"}

	run(t, build(t, f, "c", nil, "", fields))
	results := run(t, build(t, f, "c", nil, "", fields))
	assert.Nil(t, results[0])
	assert.EqualValues(t, 1, env.Count(t, "people"))
}

func TestUpdate_IntegrityErrorIsRecovered(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})

	run(t, build(t, f, "c", []string{"email"}, "", map[string]string{"email": "a@example.com", "name": "A"}))
	run(t, build(t, f, "c", []string{"email"}, "", map[string]string{"email": "b@example.com", "name": "B"}))

	// taking B's email violates the unique index
	results := run(t, build(t, f, "u*", []string{"name"}, "", map[string]string{"name": "A", "email": "b@example.com"}))
	assert.Nil(t, results[0])

	a := loadPerson(t, env, "a@example.com")
	assert.Equal(t, "A", a.Name)
	assert.EqualValues(t, 2, env.Count(t, "people"))
}

func TestReferential_BelongsTo(t *testing.T) {
	env := testenv.New(t)
	companies := env.Factory(t, "companies", action.FactoryOptions{})
	people := env.Factory(t, "people", action.FactoryOptions{})

	run(t, build(t, companies, "c", []string{"name"}, "", map[string]string{"name": "Acme"}))
	run(t, build(t, companies, "c", []string{"name"}, "", map[string]string{"name": "Globex"}))

	run(t, build(t, people, "c", []string{"email"}, "", map[string]string{
		"email": "ann@example.com", "company=>name": "Acme",
	}))
	var acme, globex testutil.Company
	require.NoError(t, env.Manager.DB().Where("name = ?", "Acme").First(&acme).Error)
	require.NoError(t, env.Manager.DB().Where("name = ?", "Globex").First(&globex).Error)

	p := loadPerson(t, env, "ann@example.com")
	require.NotNil(t, p.CompanyID)
	assert.Equal(t, acme.ID, *p.CompanyID)

	run(t, build(t, people, "u", []string{"email"}, "", map[string]string{
		"email": "ann@example.com", "company=>name": "Globex",
	}))
	assert.Equal(t, acme.ID, *loadPerson(t, env, "ann@example.com").CompanyID, "unforced update keeps the link")

	run(t, build(t, people, "u*", []string{"email"}, "", map[string]string{
		"email": "ann@example.com", "company=>name": "Globex",
	}))
	assert.Equal(t, globex.ID, *loadPerson(t, env, "ann@example.com").CompanyID)

	results := run(t, build(t, people, "u*", []string{"email"}, "", map[string]string{
		"email": "ann@example.com", "company=>name": "Initech", "name": "Ann",
	}))
	require.NotNil(t, results[0], "an unmatched related record is skipped, not fatal")
	p = loadPerson(t, env, "ann@example.com")
	assert.Equal(t, "Ann", p.Name)
	assert.Equal(t, globex.ID, *p.CompanyID)
}

func TestReferential_ManyToMany(t *testing.T) {
	env := testenv.New(t)
	tags := env.Factory(t, "tags", action.FactoryOptions{})
	people := env.Factory(t, "people", action.FactoryOptions{})
	for _, name := range []string{"go", "sql", "csv"} {
		run(t, build(t, tags, "c", []string{"name"}, "", map[string]string{"name": name}))
	}
	tagNames := func() []string {
		p := loadPerson(t, env, "ann@example.com")
		names := make([]string, 0, len(p.Tags))
		for _, tag := range p.Tags {
			names = append(names, tag.Name)
		}
		return names
	}

	run(t, build(t, people, "c", []string{"email"}, "", map[string]string{"email": "ann@example.com", "tags=>+name": "go"}))
	assert.ElementsMatch(t, []string{"go"}, tagNames())

	run(t, build(t, people, "u", []string{"email"}, "", map[string]string{"email": "ann@example.com", "tags=>+name": "sql"}))
	assert.ElementsMatch(t, []string{"go"}, tagNames(), "unforced update leaves populated relations alone")

	run(t, build(t, people, "u*", []string{"email"}, "", map[string]string{"email": "ann@example.com", "tags=>+name": "sql"}))
	assert.ElementsMatch(t, []string{"go", "sql"}, tagNames())

	run(t, build(t, people, "u*", []string{"email"}, "", map[string]string{"email": "ann@example.com", "tags=>-name": "go"}))
	assert.ElementsMatch(t, []string{"sql"}, tagNames())

	run(t, build(t, people, "u*", []string{"email"}, "", map[string]string{"email": "ann@example.com", "tags=>=name": "csv"}))
	assert.ElementsMatch(t, []string{"csv"}, tagNames())

	run(t, build(t, people, "u*", []string{"email"}, "", map[string]string{"email": "ann@example.com", "tags=>name": "go"}))
	assert.ElementsMatch(t, []string{"csv"}, tagNames(), "directive without set operation is skipped")

	run(t, build(t, people, "u*", []string{"email"}, "", map[string]string{
		"email": "ann@example.com", "tags=>+name": "go", "tags=>-id": "1",
	}))
	assert.ElementsMatch(t, []string{"csv"}, tagNames(), "mixed set operations are skipped")

	assert.EqualValues(t, 3, env.Count(t, "tags"))
}

func TestReferential_HasManyPolymorphic(t *testing.T) {
	env := testenv.New(t)
	notes := env.Factory(t, "notes", action.FactoryOptions{})
	people := env.Factory(t, "people", action.FactoryOptions{})

	run(t, build(t, notes, "c", []string{"body"}, "", map[string]string{"body": "hello"}))
	run(t, build(t, people, "c", []string{"email"}, "", map[string]string{"email": "ann@example.com", "notes=>body": "hello"}))

	p := loadPerson(t, env, "ann@example.com")
	var note testutil.Note
	require.NoError(t, env.Manager.DB().Where("body = ?", "hello").First(&note).Error)
	assert.Equal(t, "people", note.OwnerType)
	assert.Equal(t, p.ID, note.OwnerID)
}

func TestRelByExternalKey(t *testing.T) {
	env := testenv.New(t)
	sys := env.System(t, "S1")
	companies := env.Factory(t, "companies", action.FactoryOptions{System: sys})
	people := env.Factory(t, "people", action.FactoryOptions{System: sys, RelByExternalKey: true})
	plainIDs := env.Factory(t, "people", action.FactoryOptions{System: sys, RelByExternalKey: true, Excluded: []string{"companies"}})

	results := run(t, build(t, companies, "c", []string{"name"}, "C-1", map[string]string{"name": "Acme"}))
	acme := results[0].(*testutil.Company)

	run(t, build(t, people, "c", []string{"email"}, "P-1", map[string]string{"email": "ann@example.com", "company_id": "C-1"}))
	p := loadPerson(t, env, "ann@example.com")
	require.NotNil(t, p.CompanyID)
	assert.Equal(t, acme.ID, *p.CompanyID)

	results = run(t, build(t, people, "c", []string{"email"}, "P-2", map[string]string{"email": "bob@example.com", "company_id": "C-404"}))
	assert.Nil(t, results[0], "unknown external key aborts the action")
	assert.EqualValues(t, 1, env.Count(t, "people"))

	run(t, build(t, plainIDs, "c", []string{"email"}, "P-3", map[string]string{
		"email": "cid@example.com", "company_id": fmt.Sprint(acme.ID),
	}))
	assert.Equal(t, acme.ID, *loadPerson(t, env, "cid@example.com").CompanyID, "excluded relations take plain ids")
}

func TestRelByExternalKey_Generic(t *testing.T) {
	env := testenv.New(t)
	sys := env.System(t, "S1")
	people := env.Factory(t, "people", action.FactoryOptions{System: sys})
	notes := env.Factory(t, "notes", action.FactoryOptions{System: sys, RelByExternalKey: true})

	results := run(t, build(t, people, "c", []string{"email"}, "P-1", map[string]string{"email": "ann@example.com"}))
	ann := results[0].(*testutil.Person)

	run(t, build(t, notes, "c", nil, "N-1", map[string]string{"body": "hi", "owner_type": "people", "owner_id": "P-1"}))
	var note testutil.Note
	require.NoError(t, env.Manager.DB().Where("body = ?", "hi").First(&note).Error)
	assert.Equal(t, ann.ID, note.OwnerID)

	results = run(t, build(t, notes, "c", nil, "N-2", map[string]string{"body": "orphan", "owner_id": "P-1"}))
	assert.Nil(t, results[0], "generic id without its type is rejected")
	assert.EqualValues(t, 1, env.Count(t, "notes"))
}

func TestCreateWithReference_LinksMapping(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	sys := env.System(t, "S1")
	f := env.Factory(t, "people", action.FactoryOptions{System: sys})

	group := build(t, f, "c", []string{"email"}, "P-1", map[string]string{"email": "ann@example.com", "name": "Ann"})
	results := run(t, group)
	ann := results[0].(*testutil.Person)

	m, err := env.Mappings.Get(ctx, sys.ID, "P-1", "people")
	require.NoError(t, err)
	assert.Equal(t, ann.ID, m.ObjectID)
	assert.Equal(t, m.ID, group[0].(action.Referenceable).Mapping().ID)

	// the mapping wins over the selector once linked
	group = build(t, f, "c", []string{"email"}, "P-1", map[string]string{"email": "renamed@example.com"})
	results = run(t, group)
	assert.Equal(t, ann.ID, results[0].(*testutil.Person).ID)
	assert.True(t, group[0].(action.Creator).AlreadyExisted())
	assert.EqualValues(t, 1, env.Count(t, "people"))

	// a record matched by the selector gets linked to a new key
	group = build(t, f, "c", []string{"email"}, "P-9", map[string]string{"email": "ann@example.com"})
	run(t, group)
	id, err := env.Mappings.Resolve(ctx, sys.ID, "P-9", "people")
	require.NoError(t, err)
	assert.Equal(t, ann.ID, id)
}

func TestUpdateWithReference(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	sys := env.System(t, "S1")
	f := env.Factory(t, "people", action.FactoryOptions{System: sys})
	plain := env.Factory(t, "people", action.FactoryOptions{})

	run(t, build(t, f, "c", []string{"email"}, "P-1", map[string]string{"email": "ann@example.com", "name": "Ann"}))

	// updates follow the mapping even when the matched value changed
	run(t, build(t, f, "u*", []string{"email"}, "P-1", map[string]string{"email": "ann@new.example.com", "name": "Ann B"}))
	p := loadPerson(t, env, "ann@new.example.com")
	assert.Equal(t, "Ann B", p.Name)

	// DESTRUCTIVE: a record matched by the selector while the key is linked to
	// another record is deleted, and its own field values are lost
	run(t, build(t, plain, "c", []string{"email"}, "", map[string]string{"email": "dup@example.com", "name": "Dup"}))
	require.EqualValues(t, 2, env.Count(t, "people"))
	run(t, build(t, f, "u*", []string{"email"}, "P-1", map[string]string{"email": "dup@example.com", "name": "Ann C"}))
	assert.EqualValues(t, 1, env.Count(t, "people"))
	p = loadPerson(t, env, "dup@example.com")
	assert.Equal(t, "Ann C", p.Name)

	id, err := env.Mappings.Resolve(ctx, sys.ID, "P-1", "people")
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)

	// an unmapped key links to the matched record
	run(t, build(t, f, "u", []string{"email"}, "P-2", map[string]string{"email": "dup@example.com"}))
	id, err = env.Mappings.Resolve(ctx, sys.ID, "P-2", "people")
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)
}

func TestDelete_Forced(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	sys := env.System(t, "S1")
	mapped := env.Factory(t, "people", action.FactoryOptions{System: sys})
	plain := env.Factory(t, "people", action.FactoryOptions{})

	run(t, build(t, mapped, "c", []string{"email"}, "P-1", map[string]string{"email": "ann@example.com"}))
	run(t, build(t, plain, "c", []string{"email"}, "", map[string]string{"email": "bob@example.com"}))

	// unforced delete without a key never removes anything
	run(t, build(t, plain, "d", []string{"email"}, "", map[string]string{"email": "bob@example.com"}))
	assert.EqualValues(t, 2, env.Count(t, "people"))

	run(t, build(t, plain, "d*", []string{"email"}, "", map[string]string{"email": "bob@example.com"}))
	assert.EqualValues(t, 1, env.Count(t, "people"))

	// located through the mapping when there are no match fields
	run(t, build(t, mapped, "d*", nil, "P-1", map[string]string{}))
	assert.EqualValues(t, 0, env.Count(t, "people"))
	_, err := env.Mappings.Get(ctx, sys.ID, "P-1", "people")
	assert.ErrorIs(t, err, mapping.ErrMappingNotFound)
}

func TestDeleteIfOnlyReference_SharedRecordSurvives(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	s1 := env.System(t, "S1")
	s2 := env.System(t, "S2")
	f1 := env.Factory(t, "people", action.FactoryOptions{System: s1})
	f2 := env.Factory(t, "people", action.FactoryOptions{System: s2})
	fields := map[string]string{"email": "ann@example.com"}

	run(t, build(t, f1, "c", []string{"email"}, "A", fields))
	run(t, build(t, f2, "c", []string{"email"}, "B", fields))
	require.EqualValues(t, 1, env.Count(t, "people"))

	// S1 lets go while S2 still links the record
	group := build(t, f1, "d", []string{"email"}, "A", fields)
	results := run(t, group)
	assert.Nil(t, results[0])
	assert.EqualValues(t, 1, env.Count(t, "people"))
	_, err := env.Mappings.Get(ctx, s1.ID, "A", "people")
	assert.ErrorIs(t, err, mapping.ErrMappingNotFound, "own reference is always removed")

	// S2 is the last reference, the record goes
	results = run(t, build(t, f2, "d", []string{"email"}, "B", fields))
	assert.NotNil(t, results[0])
	assert.EqualValues(t, 0, env.Count(t, "people"))
	n, err := env.Mappings.Count(ctx, "people")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteIfOnlyReference_ForeignKeyIsNotEnough(t *testing.T) {
	env := testenv.New(t)
	s1 := env.System(t, "S1")
	f := env.Factory(t, "people", action.FactoryOptions{System: s1})
	plain := env.Factory(t, "people", action.FactoryOptions{})

	run(t, build(t, plain, "c", []string{"email"}, "", map[string]string{"email": "ann@example.com"}))

	// the record is not linked by this key, so it stays
	results := run(t, build(t, f, "d", []string{"email"}, "A", map[string]string{"email": "ann@example.com"}))
	assert.Nil(t, results[0])
	assert.EqualValues(t, 1, env.Count(t, "people"))
}

func TestDeleteIfOnlyReference_ByMapping(t *testing.T) {
	env := testenv.New(t)
	s1 := env.System(t, "S1")
	s2 := env.System(t, "S2")
	f1 := env.Factory(t, "people", action.FactoryOptions{System: s1})
	f2 := env.Factory(t, "people", action.FactoryOptions{System: s2})

	run(t, build(t, f1, "c", []string{"email"}, "A", map[string]string{"email": "ann@example.com"}))
	run(t, build(t, f2, "c", []string{"email"}, "B", map[string]string{"email": "ann@example.com"}))

	group := build(t, f1, "d", nil, "A", map[string]string{})
	require.Len(t, group, 2)

	// only the conditional delete, the other system still links the record
	obj, err := group[0].Execute(context.Background(), action.ExecOptions{})
	require.NoError(t, err)
	assert.Nil(t, obj)
	assert.EqualValues(t, 1, env.Count(t, "people"))

	// drop the other system's reference, then the full group removes the record
	run(t, build(t, f2, "d", nil, "B", map[string]string{})[1:])
	run(t, group)
	assert.EqualValues(t, 0, env.Count(t, "people"))
}

func TestImpotentRowChangesNothing(t *testing.T) {
	env := testenv.New(t)
	f := env.Factory(t, "people", action.FactoryOptions{})
	group := build(t, f, "", []string{"email"}, "", map[string]string{"email": "ann@example.com"})
	results := run(t, group)
	assert.Nil(t, results[0])
	assert.Equal(t, action.TypeNone, group[0].Type())
	assert.EqualValues(t, 0, env.Count(t, "people"))
	assert.Contains(t, group[0].String(), "MatchFields:[email]")
}
