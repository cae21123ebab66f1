package engine

import (
	"fmt"
	"sync"

	"github.com/perola/lifeline/pkg/api"
)

// lifecycleRegistry holds the fixed set of lifecycle shapes by entity type.
// It replaces ambient process-global registries with an explicit object
// owned by the dispatcher.
type lifecycleRegistry struct {
	mu     sync.RWMutex
	byType map[api.EntityType]api.LifecycleDefinition
}

func newLifecycleRegistry() *lifecycleRegistry {
	return &lifecycleRegistry{
		byType: make(map[api.EntityType]api.LifecycleDefinition),
	}
}

func (r *lifecycleRegistry) Register(def api.LifecycleDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byType[def.EntityType]; exists {
		return fmt.Errorf("lifecycle for entity type %q already registered", def.EntityType)
	}
	r.byType[def.EntityType] = def
	return nil
}

func (r *lifecycleRegistry) Get(entityType api.EntityType) (api.LifecycleDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byType[entityType]
	if !ok {
		return api.LifecycleDefinition{}, fmt.Errorf("%w: entity type %q", api.ErrLifecycleNotFound, entityType)
	}
	return def, nil
}
