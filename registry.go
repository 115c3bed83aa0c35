package raid

import (
	"sync"

	"github.com/google/uuid"
)

// Catalog is the process-wide list of arrays (§9 "Global list of
// arrays"), mutated only on the application thread. Worker threads may
// call the read-only lookups; Insert/Remove are application-thread-only
// by convention (not enforced here — the apploop.Dispatcher is what
// actually serialises access in a running process).
type Catalog struct {
	mu      sync.RWMutex
	byName  map[string]*Array
	byUUID  map[uuid.UUID]*Array
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName: make(map[string]*Array),
		byUUID: make(map[uuid.UUID]*Array),
	}
}

// Insert adds a to the catalog, indexed by name and (if non-null) UUID.
func (c *Catalog) Insert(a *Array) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[a.Name] = a
	if a.UUID != (uuid.UUID{}) {
		c.byUUID[a.UUID] = a
	}
}

// Remove drops a from the catalog.
func (c *Catalog) Remove(a *Array) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byName, a.Name)
	delete(c.byUUID, a.UUID)
}

// FindByName returns the array named name, or nil if none exists.
func (c *Catalog) FindByName(name string) *Array {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byName[name]
}

// FindByUUID returns the array with the given UUID, or nil if none
// exists.
func (c *Catalog) FindByUUID(id uuid.UUID) *Array {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byUUID[id]
}

// Iter calls fn for every array currently in the catalog. fn must not
// mutate the catalog.
func (c *Catalog) Iter(fn func(*Array)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.byName {
		fn(a)
	}
}

// Len returns the number of arrays currently catalogued.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}
