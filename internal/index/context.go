package index

import "sync"

// indexContext is one generation of a named context. Re-initializing a
// name installs a new indexContext; the old one is orphaned, never reset.
type indexContext struct {
	name       string
	generation uint64

	mu             sync.RWMutex
	state          State
	graph          *Graph
	persistenceKey string
	token          string
	loadedFromSave bool
	writers        int
}

// ContextInfo is a point-in-time view of one context.
type ContextInfo struct {
	Name           string `json:"name"`
	State          State  `json:"state"`
	ItemCount      int    `json:"itemCount"`
	Capacity       int    `json:"capacity"`
	PersistenceKey string `json:"persistenceKey,omitempty"`
	LoadedFromSave bool   `json:"loadedFromSave"`
	Active         bool   `json:"active"`
}

func (c *indexContext) info() ContextInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := ContextInfo{
		Name:           c.name,
		State:          c.state,
		PersistenceKey: c.persistenceKey,
		LoadedFromSave: c.loadedFromSave,
	}
	if c.graph != nil {
		info.ItemCount = c.graph.Count()
		info.Capacity = c.graph.Capacity()
	}
	return info
}

// install sets the graph and the state it implies.
func (c *indexContext) install(g *Graph, loaded bool, persistenceKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.graph = g
	c.loadedFromSave = loaded
	c.persistenceKey = persistenceKey
	c.state = StateReadyEmpty
	if g.Count() > 0 {
		c.state = StateReadyPopulated
	}
}

func (c *indexContext) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
