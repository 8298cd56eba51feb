package broker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/apperrors"
	"github.com/rs/zerolog"
)

// Settings are the per-account connection details handed to a Factory.
// Which fields are used depends on the broker.
type Settings struct {
	Broker      string
	AccountID   string
	BaseURL     string
	Token       string
	QueryID     string
	APIKey      string
	APISecret   string
	Paper       bool
	HTTPTimeout time.Duration
}

// Factory builds an Adapter for one configured account.
type Factory func(s Settings, log zerolog.Logger) (Adapter, error)

// Registry maps broker names to adapter factories. Adding a broker means
// registering a factory; nothing else branches on the broker name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds an adapter for the settings' broker.
func (r *Registry) New(s Settings, log zerolog.Logger) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[s.Broker]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownBroker, s.Broker)
	}
	a, err := f(s, log.With().Str("broker", s.Broker).Str("account", s.AccountID).Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create %s adapter for %s: %w", s.Broker, s.AccountID, err)
	}
	return a, nil
}

// Has reports whether a factory is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered broker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
