package counters

import (
	"sync"
	"testing"

	"github.com/rickgao/orderfeed/internal/model"
)

func TestAggregator_ZeroValue(t *testing.T) {
	a := New()
	if got := a.Current(); got != (model.Counters{}) {
		t.Errorf("Current() = %+v, want zero", got)
	}
	if !a.UpdatedAt().IsZero() {
		t.Error("UpdatedAt() should be zero before the first update")
	}
}

func TestAggregator_LatestSnapshotWins(t *testing.T) {
	a := New()

	a.Update(FromStats(model.Stats{NewOrders: 3, TotalOrders: 40, PendingOrders: 5, CompletedOrders: 30}))
	a.Update(FromStats(model.Stats{NewOrders: 0, TotalOrders: 41, PendingOrders: 0}))

	want := model.Counters{NewOrders: 0, TotalOrders: 41, PendingOrders: 0}
	if got := a.Current(); got != want {
		t.Errorf("Current() = %+v, want %+v", got, want)
	}
	if a.UpdatedAt().IsZero() {
		t.Error("UpdatedAt() not set after update")
	}
}

func TestAggregator_NoFieldMerge(t *testing.T) {
	a := New()

	a.Update(model.Counters{NewOrders: 7, TotalOrders: 10, PendingOrders: 2})
	// A later snapshot that only carries totals zeroes the rest.
	got := a.Update(model.Counters{TotalOrders: 11})

	if want := (model.Counters{TotalOrders: 11}); got != want {
		t.Errorf("Update() = %+v, want %+v", got, want)
	}
	if a.Current() != got {
		t.Errorf("Current() = %+v, want %+v", a.Current(), got)
	}
}

func TestAggregator_ClampsNegative(t *testing.T) {
	a := New()

	got := a.Update(model.Counters{NewOrders: -1, TotalOrders: 5, PendingOrders: -3})

	if want := (model.Counters{NewOrders: 0, TotalOrders: 5, PendingOrders: 0}); got != want {
		t.Errorf("Update() = %+v, want %+v", got, want)
	}
}

func TestAggregator_Observers(t *testing.T) {
	a := New()

	var seen []model.Counters
	unsubscribe := a.OnUpdate(func(c model.Counters) { seen = append(seen, c) })

	a.Update(model.Counters{TotalOrders: 1})
	unsubscribe()
	a.Update(model.Counters{TotalOrders: 2})

	if len(seen) != 1 || seen[0] != (model.Counters{TotalOrders: 1}) {
		t.Errorf("observed = %+v, want one snapshot with TotalOrders 1", seen)
	}
}

func TestAggregator_ConcurrentReaders(t *testing.T) {
	a := New()
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Update(model.Counters{NewOrders: n, TotalOrders: n, PendingOrders: n})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c := a.Current()
				// Snapshots are replaced whole, so fields always agree.
				if c.NewOrders != c.TotalOrders || c.NewOrders != c.PendingOrders {
					t.Errorf("torn snapshot %+v", c)
					return
				}
			}
		}()
	}
	wg.Wait()
}
