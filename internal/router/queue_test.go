package router

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_PushPop(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		val, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("popped %d, want %d", val, i)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned true")
	}
}

func TestQueue_GrowsAt70Percent(t *testing.T) {
	q := NewQueue[int](10)

	for i := 0; i < 7; i++ {
		q.Push(i)
	}

	stats := q.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20 after 70%% fill", stats.Capacity)
	}
	if stats.Grows != 1 {
		t.Errorf("Grows = %d, want 1", stats.Grows)
	}
	if stats.MaxDepth != 7 {
		t.Errorf("MaxDepth = %d, want 7", stats.MaxDepth)
	}
}

func TestQueue_GrowPreservesOrderAcrossWrap(t *testing.T) {
	q := NewQueue[int](10)

	for i := 1; i <= 5; i++ {
		q.Push(i)
	}
	for i := 1; i <= 5; i++ {
		q.TryPop()
	}

	// head is now 5; pushes 6..11 wrap to slot 0, 12 forces growth.
	for i := 6; i <= 12; i++ {
		q.Push(i)
	}
	if q.Stats().Grows != 1 {
		t.Fatalf("Grows = %d, want 1", q.Stats().Grows)
	}

	for want := 6; want <= 12; want++ {
		got, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestQueue_PopWaits(t *testing.T) {
	q := NewQueue[int](4)
	received := make(chan int, 1)

	go func() {
		if val, ok := q.Pop(context.Background()); ok {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("popped %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked Pop")
	}
}

func TestQueue_PopHonoursContext(t *testing.T) {
	q := NewQueue[int](4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop should return false when ctx is done")
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Close()
	q.Close()

	if q.Push(3) {
		t.Error("Push should return false after Close")
	}

	ctx := context.Background()
	for _, want := range []int{1, 2} {
		got, ok := q.Pop(ctx)
		if !ok || got != want {
			t.Errorf("Pop() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if _, ok := q.Pop(ctx); ok {
		t.Error("Pop should return false when closed and empty")
	}
}

func TestQueue_CloseUnblocksPop(t *testing.T) {
	q := NewQueue[int](4)
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Pop")
	}
}

func TestQueue_ManyProducers(t *testing.T) {
	q := NewQueue[int](2)
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(seen) < producers*perProducer {
		val, ok := q.Pop(ctx)
		if !ok {
			t.Fatalf("Pop failed after %d items", len(seen))
		}
		seen[val] = true
	}
	wg.Wait()

	stats := q.Stats()
	if stats.Pushed != producers*perProducer || stats.Popped != producers*perProducer {
		t.Errorf("stats = %+v", stats)
	}
}

func TestNewQueue_MinCapacity(t *testing.T) {
	if got := NewQueue[int](0).Stats().Capacity; got != 1 {
		t.Errorf("Capacity = %d, want 1 for initial capacity 0", got)
	}
	if got := NewQueue[int](-5).Stats().Capacity; got != 1 {
		t.Errorf("Capacity = %d, want 1 for negative initial capacity", got)
	}
}
