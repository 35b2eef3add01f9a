package history

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Guizzs26/go-trigger-sync/internal/db"
)

// Cache keeps histories in memory. Only the inactive time of a history ever
// changes; Inactivated records it on the cached copy. The active history of a
// trigger is dropped with Invalidate whenever the trigger is rebuilt.
type Cache struct {
	store *Store
	db    db.Querier

	mu     sync.RWMutex
	byID   map[int]*TriggerHistory
	active map[string]*TriggerHistory
	loads  singleflight.Group
}

func NewCache(store *Store, q db.Querier) *Cache {
	return &Cache{
		store:  store,
		db:     q,
		byID:   make(map[int]*TriggerHistory),
		active: make(map[string]*TriggerHistory),
	}
}

func (c *Cache) Get(ctx context.Context, id int) (*TriggerHistory, error) {
	c.mu.RLock()
	h, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := c.loads.Do("id:"+strconv.Itoa(id), func() (any, error) {
		return c.store.Get(ctx, c.db, id)
	})
	if err != nil {
		return nil, err
	}
	h = v.(*TriggerHistory)
	c.Put(h)
	return h, nil
}

// Active returns the current history of a trigger, or nil when none is installed
func (c *Cache) Active(ctx context.Context, triggerID string) (*TriggerHistory, error) {
	c.mu.RLock()
	h, ok := c.active[triggerID]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := c.loads.Do("active:"+triggerID, func() (any, error) {
		return c.store.FindActive(ctx, c.db, triggerID)
	})
	if err != nil {
		return nil, err
	}
	h, _ = v.(*TriggerHistory)
	if h == nil {
		return nil, nil
	}
	c.mu.Lock()
	c.active[triggerID] = h
	c.byID[h.ID] = h
	c.mu.Unlock()
	return h, nil
}

// Put caches a stored history by id
func (c *Cache) Put(h *TriggerHistory) {
	c.mu.Lock()
	c.byID[h.ID] = h
	c.mu.Unlock()
}

// Inactivated swaps the cached history for a copy carrying its inactive time
func (c *Cache) Inactivated(id int, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.byID[id]
	if !ok {
		return
	}
	inactive := *h
	inactive.InactiveTime = &at
	c.byID[id] = &inactive
}

func (c *Cache) Invalidate(triggerID string) {
	c.mu.Lock()
	delete(c.active, triggerID)
	c.mu.Unlock()
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.active = make(map[string]*TriggerHistory)
	c.mu.Unlock()
}
