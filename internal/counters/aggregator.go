package counters

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/orderfeed/internal/model"
)

type snapshot struct {
	counters  model.Counters
	updatedAt time.Time
}

// Aggregator exposes the latest counter snapshot.
type Aggregator struct {
	current atomic.Pointer[snapshot]
	now     func() time.Time

	mu           sync.Mutex
	observers    map[int]func(model.Counters)
	nextObserver int
}

// New creates an Aggregator holding the zero snapshot.
func New() *Aggregator {
	a := &Aggregator{
		now:       time.Now,
		observers: make(map[int]func(model.Counters)),
	}
	a.current.Store(&snapshot{})
	return a
}

// Update replaces the snapshot with c, clamping negative counts to zero,
// and returns the stored value.
func (a *Aggregator) Update(c model.Counters) model.Counters {
	c = clamp(c)
	a.current.Store(&snapshot{counters: c, updatedAt: a.now()})

	a.mu.Lock()
	fns := make([]func(model.Counters), 0, len(a.observers))
	for _, fn := range a.observers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
	return c
}

// Current returns the latest snapshot.
func (a *Aggregator) Current() model.Counters {
	return a.current.Load().counters
}

// UpdatedAt returns when the snapshot was last replaced, zero if never.
func (a *Aggregator) UpdatedAt() time.Time {
	return a.current.Load().updatedAt
}

// OnUpdate registers fn for every replacement. The returned func removes it.
func (a *Aggregator) OnUpdate(fn func(model.Counters)) func() {
	a.mu.Lock()
	id := a.nextObserver
	a.nextObserver++
	a.observers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.observers, id)
		a.mu.Unlock()
	}
}

// FromStats derives counters from a full statistics snapshot.
func FromStats(s model.Stats) model.Counters {
	return model.Counters{
		NewOrders:     s.NewOrders,
		TotalOrders:   s.TotalOrders,
		PendingOrders: s.PendingOrders,
	}
}

func clamp(c model.Counters) model.Counters {
	c.NewOrders = max(c.NewOrders, 0)
	c.TotalOrders = max(c.TotalOrders, 0)
	c.PendingOrders = max(c.PendingOrders, 0)
	return c
}
