package backends

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jedisct1/inferswitch/internal/types"
)

// Backend is a handle to a downstream inference provider. Concrete
// implementations that perform outbound network calls live outside this
// module; the router and the API layer only see this interface.
type Backend interface {
	Name() string

	// SupportsModel reports whether the backend serves the given model.
	// Backends with a dynamic model list accept any model.
	SupportsModel(model string) bool

	// DynamicModelList reports whether the model list is discovered at
	// runtime rather than declared in configuration.
	DynamicModelList() bool

	// Models returns the statically declared model list, nil for
	// dynamic backends.
	Models() []string

	CreateMessage(ctx context.Context, req *types.MessagesRequest) (*types.MessagesResponse, error)
	CreateMessageStream(ctx context.Context, req *types.MessagesRequest) (<-chan types.StreamEvent, error)
}

// Registry holds the registered backends in registration order.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	names    []string
	logger   *logrus.Logger
}

// NewRegistry creates an empty backend registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		backends: make(map[string]Backend),
		logger:   logger,
	}
}

// Register adds a backend, replacing any previous backend with the same
// name.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := b.Name()
	if _, exists := r.backends[name]; !exists {
		r.names = append(r.names, name)
	}
	r.backends[name] = b
	r.logger.WithField("backend", name).Info("Backend registered")
}

// Get returns a backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered backend names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// SupportedModels aggregates the static model lists of every registered
// backend. Dynamic backends contribute nothing.
func (r *Registry) SupportedModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []string
	for _, name := range r.names {
		models = append(models, r.backends[name].Models()...)
	}
	return models
}
