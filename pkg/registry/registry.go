// Package registry holds named realtime clients for an application that needs more than one
// connection, for example one per tenant. It replaces a process-wide client singleton: the
// application creates a Registry and passes it to whoever needs a client.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/listenify-platform/listenify-app/pkg/client"
)

// ErrNotFound is returned by Remove for unknown names.
var ErrNotFound = errors.New("registry: client not found")

// Registry maps names to independent clients. Clients share no mutable state.
type Registry struct {
	logger  *slog.Logger
	base    []client.Option
	clients sync.Map // name -> *client.Client
}

// New creates an empty registry. base options are applied to every client before the
// per-client options given to GetOrCreate.
func New(logger *slog.Logger, base ...client.Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, base: base}
}

// GetOrCreate returns the client registered under name, creating it when absent.
// created reports whether this call made it. A new client is not connected.
func (r *Registry) GetOrCreate(name string, opts ...client.Option) (c *client.Client, created bool) {
	if existing, ok := r.clients.Load(name); ok {
		return existing.(*client.Client), false
	}

	all := make([]client.Option, 0, len(r.base)+len(opts)+2)
	all = append(all, client.WithLogger(r.logger), client.WithName(name))
	all = append(all, r.base...)
	all = append(all, opts...)
	fresh := client.New(all...)

	actual, loaded := r.clients.LoadOrStore(name, fresh)
	if loaded {
		// Lost the race; the fresh client never connected.
		fresh.Close()
		return actual.(*client.Client), false
	}
	r.logger.Info(fmt.Sprintf("Registry: Created client %q (%s)", name, fresh.ID()))
	return fresh, true
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (*client.Client, bool) {
	v, ok := r.clients.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*client.Client), true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	var names []string
	r.clients.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	n := 0
	r.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Remove closes the client registered under name and forgets it.
func (r *Registry) Remove(name string) error {
	v, ok := r.clients.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r.logger.Info(fmt.Sprintf("Registry: Removing client %q", name))
	return v.(*client.Client).Close()
}

// CloseAll closes and forgets every client.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, name := range r.Names() {
		if err := r.Remove(name); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
