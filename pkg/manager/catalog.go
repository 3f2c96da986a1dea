package manager

import (
	"sort"
	"sync"

	"github.com/goose-run/agentcore/pkg/session"
)

// Catalog is the process-wide registry of installable extension
// descriptors, shared read-only across every session (§3 Ownership:
// "they may share the global extension registry (descriptors catalog)
// and the provider factory"; §9 "global mutable state ... initialized
// exactly once").
type Catalog struct {
	mu          sync.RWMutex
	inited      bool
	descriptors map[string]session.ExtensionDescriptor
}

// NewCatalog builds an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{descriptors: map[string]session.ExtensionDescriptor{}}
}

// Init populates the catalog exactly once; subsequent calls are no-ops.
// This is the lifecycle §9 requires: init -> immutable read -> teardown.
func (c *Catalog) Init(descriptors []session.ExtensionDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inited {
		return
	}
	for _, d := range descriptors {
		c.descriptors[d.Name] = d
	}
	c.inited = true
}

// Get returns the descriptor registered under name.
func (c *Catalog) Get(name string) (session.ExtensionDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descriptors[name]
	return d, ok
}

// List returns every registered descriptor, sorted by name for stable
// output.
func (c *Catalog) List() []session.ExtensionDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]session.ExtensionDescriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
