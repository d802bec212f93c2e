package actions

import (
	"sync"

	"github.com/renholm/stagehand/pkg/schema"
)

// Registry is a thread-safe lookup of actions by kind.
type Registry struct {
	mu      sync.RWMutex
	actions map[schema.ActionKind]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[schema.ActionKind]Action),
	}
}

// Register adds an action to the registry. Returns an error on duplicates.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrKindValidation, "action is nil")
	}
	kind := action.Kind()
	if kind == "" {
		return schema.NewError(schema.ErrKindValidation, "action kind is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[kind]; exists {
		return schema.NewErrorf(schema.ErrKindValidation, "action kind %q already registered", kind)
	}
	r.actions[kind] = action
	return nil
}

// Get retrieves an action by kind.
func (r *Registry) Get(kind schema.ActionKind) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrKindAction, "no action registered for kind %q", kind)
	}
	return action, nil
}

// Has checks if an action kind is registered.
func (r *Registry) Has(kind schema.ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[kind]
	return ok
}
