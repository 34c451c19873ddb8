package mapping

import (
	"context"
	"sync"
)

type stagingKey struct{}

// Staging holds mappings that point at records not yet written, so that rows
// later in the same batch can resolve them by external key
type Staging struct {
	mu       sync.RWMutex
	mappings map[Ref]*ExternalKeyMapping
	objects  map[Ref]interface{}
}

// WithStaging returns a context whose mapping lookups consult a fresh staging area
func WithStaging(ctx context.Context) (context.Context, *Staging) {
	staging := &Staging{
		mappings: make(map[Ref]*ExternalKeyMapping),
		objects:  make(map[Ref]interface{}),
	}
	return context.WithValue(ctx, stagingKey{}, staging), staging
}

func stagingFrom(ctx context.Context) *Staging {
	staging, _ := ctx.Value(stagingKey{}).(*Staging)
	return staging
}

// Stage makes m visible to lookups through the context. obj is the unwritten
// record m points at.
func (s *Staging) Stage(m *ExternalKeyMapping, obj interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.Ref()] = m
	s.objects[m.Ref()] = obj
}

// Pending returns the unwritten record staged with m, if m is staged in ctx
func Pending(ctx context.Context, m *ExternalKeyMapping) (interface{}, bool) {
	s := stagingFrom(ctx)
	if s == nil || m == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mappings[m.Ref()] != m {
		return nil, false
	}
	obj, ok := s.objects[m.Ref()]
	return obj, ok
}

// Len returns the number of staged mappings
func (s *Staging) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mappings)
}

func (s *Staging) get(ref Ref) *ExternalKeyMapping {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mappings[ref]
}

func (s *Staging) remove(ref Ref) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, ref)
	delete(s.objects, ref)
}
