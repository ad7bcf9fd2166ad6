package router

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rickgao/orderfeed/internal/model"
)

// Window remembers recently delivered order identities. Identities leave
// the window when it is full or after its TTL.
type Window struct {
	cache *expirable.LRU[string, time.Time]
}

// NewWindow creates a window of size identities. A size of 1 with no TTL
// suppresses only immediately repeated identities.
func NewWindow(size int, ttl time.Duration) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		cache: expirable.NewLRU[string, time.Time](size, nil, ttl),
	}
}

// Seen reports whether key is in the window, recording it if not.
func (w *Window) Seen(key string) bool {
	if _, ok := w.cache.Get(key); ok {
		return true
	}
	w.cache.Add(key, time.Now())
	return false
}

// Len returns the number of remembered identities.
func (w *Window) Len() int {
	return w.cache.Len()
}

// OrderIDKey identifies an order event by order id alone.
func OrderIDKey(ev model.OrderEvent) string {
	return ev.OrderRef().ID
}

// RevisionKey identifies an order event by kind, order id and status, so
// the same change seen on both transports collapses while later changes to
// the order are still delivered. A new order is created once and is keyed
// by id alone.
func RevisionKey(ev model.OrderEvent) string {
	o := ev.OrderRef()
	if ev.Kind() == model.KindNewOrder {
		return string(ev.Kind()) + "/" + o.ID
	}
	return string(ev.Kind()) + "/" + o.ID + "/" + string(o.Status)
}
