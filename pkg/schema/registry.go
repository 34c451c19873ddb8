package schema

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"gorm.io/gorm"
	gschema "gorm.io/gorm/schema"
)

// Registry resolves GORM models into attribute descriptors.
// Models are parsed once through GORM's schema cache and looked up by table name,
// which is also the content type recorded in external key mappings.
type Registry struct {
	db *gorm.DB

	mu       sync.RWMutex
	models   map[string]*Model
	generics map[string][]GenericRelation // table -> generic references declared for it
	autoNow  map[*gschema.Field]autoNowState
}

// GenericRelation is a type-erased reference made of a discriminator column holding
// the referenced table name and an id column
type GenericRelation struct {
	TypeField string
	IDField   string
}

// Option configures a model at registration
type Option func(*registration)

type registration struct {
	generics []GenericRelation
}

// WithGenericRelation declares a generic reference on the registered model
func WithGenericRelation(typeField, idField string) Option {
	return func(r *registration) {
		r.generics = append(r.generics, GenericRelation{TypeField: typeField, IDField: idField})
	}
}

// NewRegistry creates a registry bound to the schema cache of db
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{
		db:       db,
		models:   make(map[string]*Model),
		generics: make(map[string][]GenericRelation),
		autoNow:  make(map[*gschema.Field]autoNowState),
	}
}

// Register parses model (a pointer to a GORM model struct) and records it
func (r *Registry) Register(model interface{}, opts ...Option) (*Model, error) {
	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}

	stmt := &gorm.Statement{DB: r.db}
	if err := stmt.Parse(model); err != nil {
		return nil, fmt.Errorf("failed to parse model %T: %w", model, err)
	}
	s := stmt.Schema
	if len(s.PrimaryFields) != 1 {
		return nil, fmt.Errorf("model %s must have exactly one primary key", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[s.Table]; ok && len(reg.generics) == 0 {
		return existing, nil
	}

	r.generics[s.Table] = append(r.generics[s.Table], reg.generics...)
	// Polymorphic relations declared by this model are generic references on the other side
	for _, rel := range s.Relationships.Relations {
		if rel.Polymorphic == nil || rel.FieldSchema == nil {
			continue
		}
		r.addGeneric(rel.FieldSchema.Table, GenericRelation{
			TypeField: rel.Polymorphic.PolymorphicType.DBName,
			IDField:   rel.Polymorphic.PolymorphicID.DBName,
		})
	}

	m := &Model{registry: r, schema: s}
	m.build()
	r.models[s.Table] = m

	// generic references added above may belong to models registered earlier
	for _, other := range r.models {
		other.build()
	}
	return m, nil
}

func (r *Registry) addGeneric(table string, g GenericRelation) {
	for _, existing := range r.generics[table] {
		if existing == g {
			return
		}
	}
	r.generics[table] = append(r.generics[table], g)
}

// MustRegister is Register for static model sets; it panics on error
func (r *Registry) MustRegister(model interface{}, opts ...Option) *Model {
	m, err := r.Register(model, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Model returns the registered model for a table name
func (r *Registry) Model(table string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[table]
	return m, ok
}

// Lookup finds a registered model by table name or Go type name
func (r *Registry) Lookup(name string) (*Model, bool) {
	if m, ok := r.Model(name); ok {
		return m, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if normalize(m.schema.Name) == normalize(name) {
			return m, true
		}
	}
	return nil, false
}

// Tables lists the registered table names in order
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make([]string, 0, len(r.models))
	for t := range r.models {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// ============================================================================
// AUTOMATIC TIMESTAMPS
// ============================================================================

type autoNowState struct {
	create gschema.TimeType
	update gschema.TimeType
	users  int
}

// DisableAutoNow switches off automatic create/update timestamps on the named
// attributes of m so that feed supplied dates are stored verbatim. The returned
// function restores them; nested disables are reference counted.
func (r *Registry) DisableAutoNow(m *Model, names []string) (restore func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fields []*gschema.Field
	for _, name := range names {
		attr, ok := m.attrs[normalize(name)]
		if !ok || attr.Field == nil || !attr.AutoNow {
			continue
		}
		f := attr.Field
		state, ok := r.autoNow[f]
		if !ok {
			state = autoNowState{create: f.AutoCreateTime, update: f.AutoUpdateTime}
		}
		state.users++
		r.autoNow[f] = state
		f.AutoCreateTime = 0
		f.AutoUpdateTime = 0
		fields = append(fields, f)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, f := range fields {
				state := r.autoNow[f]
				state.users--
				if state.users > 0 {
					r.autoNow[f] = state
					continue
				}
				f.AutoCreateTime = state.create
				f.AutoUpdateTime = state.update
				delete(r.autoNow, f)
			}
		})
	}
}

// ============================================================================
// MODEL
// ============================================================================

// Model is the attribute view of one registered GORM model
type Model struct {
	registry *Registry
	schema   *gschema.Schema
	attrs    map[string]*Attribute
	generics []GenericRelation
}

// build indexes every column and relation under its normalized names
func (m *Model) build() {
	s := m.schema
	attrs := make(map[string]*Attribute)
	autoNow := func(f *gschema.Field) bool {
		return f.AutoCreateTime > 0 || f.AutoUpdateTime > 0
	}

	fkRelations := make(map[string]*gschema.Relationship)
	for _, rel := range s.Relationships.Relations {
		if rel.Type != gschema.BelongsTo {
			continue
		}
		for _, ref := range rel.References {
			if ref.ForeignKey != nil && !ref.OwnPrimaryKey {
				fkRelations[ref.ForeignKey.DBName] = rel
			}
		}
	}

	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		_, disabled := m.registry.autoNow[f]
		attr := &Attribute{
			Name:       f.DBName,
			Kind:       KindColumn,
			Field:      f,
			Relation:   fkRelations[f.DBName],
			Nullable:   nullable(f),
			Structured: structured(f),
			AutoNow:    autoNow(f) || disabled,
		}
		attrs[normalize(f.DBName)] = attr
		attrs[normalize(f.Name)] = attr
	}

	for _, rel := range s.Relationships.Relations {
		attr := &Attribute{Name: gschema.NamingStrategy{}.ColumnName("", rel.Name), Relation: rel}
		switch rel.Type {
		case gschema.BelongsTo:
			attr.Kind = KindRelation
			for _, ref := range rel.References {
				if ref.ForeignKey != nil && !ref.OwnPrimaryKey {
					attr.Field = ref.ForeignKey
					attr.Nullable = nullable(ref.ForeignKey)
				}
			}
		case gschema.HasOne:
			attr.Kind = KindRelation
		default:
			attr.Kind = KindManyValued
		}
		key := normalize(rel.Name)
		if _, clash := attrs[key]; !clash {
			attrs[key] = attr
		}
	}

	m.generics = append([]GenericRelation(nil), m.registry.generics[s.Table]...)
	for _, g := range m.generics {
		if attr, ok := attrs[normalize(g.IDField)]; ok {
			attr.GenericType = g.TypeField
		}
	}

	m.attrs = attrs
}

// Name returns the Go type name of the model
func (m *Model) Name() string {
	return m.schema.Name
}

// Table returns the table name, used as the mapping content type
func (m *Model) Table() string {
	return m.schema.Table
}

// Schema exposes the parsed GORM schema
func (m *Model) Schema() *gschema.Schema {
	return m.schema
}

// Type returns the model's struct type
func (m *Model) Type() reflect.Type {
	return m.schema.ModelType
}

// Attribute looks up an attribute by any of its names
func (m *Model) Attribute(name string) (*Attribute, bool) {
	attr, ok := m.attrs[normalize(name)]
	return attr, ok
}

// GenericRelations lists the generic references of the model
func (m *Model) GenericRelations() []GenericRelation {
	return m.generics
}

// PrimaryKey returns the primary key field
func (m *Model) PrimaryKey() *gschema.Field {
	return m.schema.PrimaryFields[0]
}

// New allocates a zero record of the model
func (m *Model) New() interface{} {
	return reflect.New(m.schema.ModelType).Interface()
}

// NewSlice allocates an empty []*T for the model
func (m *Model) NewSlice(capacity int) reflect.Value {
	return reflect.MakeSlice(reflect.SliceOf(reflect.PointerTo(m.schema.ModelType)), 0, capacity)
}

// ID reads the primary key of obj as an unsigned integer; 0 means unsaved
func (m *Model) ID(ctx context.Context, obj interface{}) uint64 {
	v, zero := m.PrimaryKey().ValueOf(ctx, reflect.ValueOf(obj))
	if zero {
		return 0
	}
	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	}
	return 0
}

// SetID assigns the primary key of obj
func (m *Model) SetID(ctx context.Context, obj interface{}, id uint64) error {
	return m.PrimaryKey().Set(ctx, reflect.ValueOf(obj), id)
}

// Get reads the column value of attr on obj
func (m *Model) Get(ctx context.Context, obj interface{}, attr *Attribute) interface{} {
	if attr.Field == nil {
		return nil
	}
	v, _ := attr.Field.ValueOf(ctx, reflect.ValueOf(obj))
	return v
}

// Set writes a converted value into the column of attr on obj
func (m *Model) Set(ctx context.Context, obj interface{}, attr *Attribute, value interface{}) error {
	if attr.Field == nil {
		return fmt.Errorf("attribute %s of %s cannot be assigned", attr.Name, m.Name())
	}
	if err := attr.Field.Set(ctx, reflect.ValueOf(obj), value); err != nil {
		return fmt.Errorf("failed to set %s.%s: %w", m.Name(), attr.Name, err)
	}
	return nil
}

// IsEmpty reports whether the column of attr holds no value on obj. Foreign key
// columns holding 0 count as empty since 0 is never a valid id.
func (m *Model) IsEmpty(ctx context.Context, obj interface{}, attr *Attribute) bool {
	v := m.Get(ctx, obj, attr)
	if isEmpty(v) {
		return true
	}
	if attr.Relation != nil {
		return reflect.Indirect(reflect.ValueOf(v)).IsZero()
	}
	return false
}

// Columns maps attribute names to the distinct writable columns they touch,
// skipping relations without a column and the primary key
func (m *Model) Columns(names []string) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, name := range names {
		attr, ok := m.Attribute(name)
		if !ok || attr.Field == nil || attr.Field.PrimaryKey || seen[attr.Field.DBName] {
			continue
		}
		seen[attr.Field.DBName] = true
		cols = append(cols, attr.Field.DBName)
	}
	return cols
}
