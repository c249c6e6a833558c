package cache

import (
	"sort"
	"sync"

	"github.com/studyhub/locsync/pkg/core"
)

// SubjectCache holds the latest known position per subject. The controller
// is its only writer; readers get copies.
type SubjectCache struct {
	m        sync.RWMutex
	subjects map[string]core.TrackedSubject
}

func NewSubjectCache() *SubjectCache {
	return &SubjectCache{
		subjects: make(map[string]core.TrackedSubject),
	}
}

func (c *SubjectCache) Get(id string) (core.TrackedSubject, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	s, ok := c.subjects[id]
	return s, ok
}

// Upsert stores s, replacing any previous entry for the same subject.
// It reports whether the subject was newly created.
func (c *SubjectCache) Upsert(s core.TrackedSubject) bool {
	c.m.Lock()
	defer c.m.Unlock()
	_, existed := c.subjects[s.SubjectID]
	c.subjects[s.SubjectID] = s
	return !existed
}

func (c *SubjectCache) Delete(id string) bool {
	c.m.Lock()
	defer c.m.Unlock()
	_, ok := c.subjects[id]
	delete(c.subjects, id)
	return ok
}

// Self returns the current user's entry.
func (c *SubjectCache) Self() (core.TrackedSubject, bool) {
	c.m.RLock()
	defer c.m.RUnlock()
	for _, s := range c.subjects {
		if s.IsCurrentUser {
			return s, true
		}
	}
	return core.TrackedSubject{}, false
}

// PeerIDs returns the ids of every subject that is not the current user.
func (c *SubjectCache) PeerIDs() []string {
	c.m.RLock()
	defer c.m.RUnlock()
	ids := make([]string, 0, len(c.subjects))
	for id, s := range c.subjects {
		if !s.IsCurrentUser {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns every subject, self first, then peers by id.
func (c *SubjectCache) All() []core.TrackedSubject {
	c.m.RLock()
	defer c.m.RUnlock()
	out := make([]core.TrackedSubject, 0, len(c.subjects))
	for _, s := range c.subjects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsCurrentUser != out[j].IsCurrentUser {
			return out[i].IsCurrentUser
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	return out
}

func (c *SubjectCache) Len() int {
	c.m.RLock()
	defer c.m.RUnlock()
	return len(c.subjects)
}

func (c *SubjectCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.subjects = make(map[string]core.TrackedSubject)
}
