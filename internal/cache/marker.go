package cache

import "sync"

// MarkerCache maps subject ids to the renderer's marker handles.
type MarkerCache struct {
	mu      sync.RWMutex
	markers map[string]string
}

func NewMarkerCache() *MarkerCache {
	return &MarkerCache{
		markers: make(map[string]string),
	}
}

// Get retrieves the marker handle for a subject
func (c *MarkerCache) Get(subjectID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.markers[subjectID]
	return h, ok
}

func (c *MarkerCache) Set(subjectID, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[subjectID] = handle
}

func (c *MarkerCache) Delete(subjectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markers, subjectID)
}

// Drain empties the cache and returns what it held.
func (c *MarkerCache) Drain() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.markers
	c.markers = make(map[string]string)
	return out
}

func (c *MarkerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markers)
}
