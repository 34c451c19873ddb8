package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ammar0144/sync4go/pkg/db"
	"github.com/ammar0144/sync4go/pkg/redis"
	"github.com/ammar0144/sync4go/pkg/repository"
)

// ErrSystemNotFound is returned when an external system is missing and may not be created
var ErrSystemNotFound = errors.New("external system not found")

// Systems looks up external systems by name
type Systems struct {
	repo *repository.GenericRepository[ExternalSystem]
}

// NewSystems creates the external system lookup; cache may be nil
func NewSystems(manager *db.Manager, cache *redis.Manager) *Systems {
	return &Systems{repo: repository.NewGenericRepository[ExternalSystem](manager, cache)}
}

// Find returns the external system called name. When create is set a missing
// system is created with its name as description.
func (s *Systems) Find(ctx context.Context, name string, create bool) (*ExternalSystem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("external system name cannot be empty")
	}

	system, err := s.repo.First(ctx, "name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("failed to load external system %q: %w", name, err)
	}
	if system != nil {
		return system, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %q", ErrSystemNotFound, name)
	}

	system = &ExternalSystem{Name: name, Description: name}
	if err := s.repo.Create(ctx, system); err != nil {
		return nil, fmt.Errorf("failed to create external system %q: %w", name, err)
	}
	return system, nil
}
