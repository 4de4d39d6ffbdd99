package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/marginalia/quill/go/ot"
)

// Context is the shared map of target ids to live capability objects.
// All mutations are atomic with respect to concurrent reads.
type Context struct {
	mu      sync.RWMutex
	targets map[string]*Target
}

// NewContext builds an empty context.
func NewContext() *Context {
	return &Context{targets: make(map[string]*Target)}
}

// Add registers target under a fresh random id and returns the id.
func (c *Context) Add(target *Target) string {
	var id = uuid.NewString()
	c.mu.Lock()
	c.targets[id] = target
	c.mu.Unlock()
	return id
}

// AddWithID registers target under a caller-chosen id, refusing ids
// already in use.
func (c *Context) AddWithID(id string, target *Target) error {
	if err := ot.CheckID(id); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.targets[id]; ok {
		return ot.BadUsef("target id %q is already bound", id)
	}
	c.targets[id] = target
	return nil
}

// Get resolves a target id, or a badId error.
func (c *Context) Get(id string) (*Target, error) {
	c.mu.RLock()
	var target, ok = c.targets[id]
	c.mu.RUnlock()
	if !ok {
		return nil, ot.BadIDf("unknown target %q", id)
	}
	return target, nil
}

// Remove drops a target binding.
func (c *Context) Remove(id string) {
	c.mu.Lock()
	delete(c.targets, id)
	c.mu.Unlock()
}

// Count of live targets.
func (c *Context) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.targets)
}
