package credential

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/orderfeed/internal/metrics"
)

// fakeClock is a manual clock and Scheduler.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

// Advance moves the clock forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.fn()
	}
}

// Active returns the armed timers.
func (c *fakeClock) Active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var active []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			active = append(active, t)
		}
	}
	return active
}

type monitorFixture struct {
	clock     *fakeClock
	store     *MemoryStore
	monitor   *Monitor
	metrics   *metrics.Metrics
	mu        sync.Mutex
	redirects []string
}

func newMonitorFixture(t *testing.T, token string) *monitorFixture {
	t.Helper()

	f := &monitorFixture{
		clock:   newFakeClock(),
		store:   NewMemoryStore(),
		metrics: metrics.New(nil),
	}
	if token != "" {
		f.setToken(t, token)
	}

	f.monitor = NewMonitor(f.store, MonitorConfig{
		Key:      "auth_token",
		LoginURL: "/login",
		OnRedirect: func(url string) {
			f.mu.Lock()
			f.redirects = append(f.redirects, url)
			f.mu.Unlock()
		},
		Metrics:   f.metrics,
		Scheduler: f.clock,
		Now:       f.clock.Now,
	})
	t.Cleanup(f.monitor.Stop)
	return f
}

func (f *monitorFixture) setToken(t *testing.T, token string) {
	t.Helper()
	if err := f.store.Set(context.Background(), "auth_token", token); err != nil {
		t.Fatalf("store.Set failed: %v", err)
	}
}

func (f *monitorFixture) start(t *testing.T) {
	t.Helper()
	if err := f.monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func (f *monitorFixture) redirectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.redirects)
}

func (f *monitorFixture) invalidations() float64 {
	return testutil.ToFloat64(f.metrics.CredentialInvalidations)
}

func TestMonitor_SchedulesRecheckBeforeExpiry(t *testing.T) {
	f := newMonitorFixture(t, "")
	f.setToken(t, signToken(t, f.clock.Now().Add(400*time.Second)))
	f.start(t)

	if got := f.monitor.NextRecheck(); got != 100*time.Second {
		t.Errorf("NextRecheck() = %v, want 100s", got)
	}
	active := f.clock.Active()
	if len(active) != 1 {
		t.Fatalf("active timers = %d, want 1", len(active))
	}
	if active[0].delay != 100*time.Second {
		t.Errorf("timer delay = %v, want 100s", active[0].delay)
	}
}

func TestMonitor_RecheckFloor(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"short lived", 30 * time.Second, 60 * time.Second},
		{"just over lead", 310 * time.Second, 60 * time.Second},
		{"long lived", time.Hour, time.Hour - 300*time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMonitorFixture(t, signToken(t, newFakeClock().Now().Add(tt.ttl)))
			f.start(t)

			if got := f.monitor.NextRecheck(); got != tt.want {
				t.Errorf("NextRecheck() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_NeverHoldsTwoTimers(t *testing.T) {
	f := newMonitorFixture(t, "")
	f.setToken(t, signToken(t, f.clock.Now().Add(time.Hour)))
	f.start(t)

	for i := 0; i < 5; i++ {
		f.monitor.NotifyForeground()
		f.monitor.Check()
	}

	if n := len(f.clock.Active()); n != 1 {
		t.Errorf("active timers = %d, want 1", n)
	}
}

func TestMonitor_ShortLivedTokenInvalidatedOnce(t *testing.T) {
	f := newMonitorFixture(t, "")
	f.setToken(t, signToken(t, f.clock.Now().Add(30*time.Second)))
	f.start(t)

	token, err := f.monitor.ValidForChannel()
	if err != nil || token == "" {
		t.Fatalf("ValidForChannel() = %q, %v, want a token", token, err)
	}

	// The 60s floor fires after expiry.
	f.clock.Advance(60 * time.Second)

	if got := f.invalidations(); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}
	if !f.monitor.Invalidated() {
		t.Error("Invalidated() = false after expiry")
	}
	if cur := f.monitor.Current(); cur != "" {
		t.Errorf("Current() = %q, want empty", cur)
	}
	stored, err := f.store.Get(context.Background(), "auth_token")
	if err != nil {
		t.Fatalf("store.Get failed: %v", err)
	}
	if stored != "" {
		t.Errorf("stored credential = %q, want empty", stored)
	}

	// Further checks do not invalidate again.
	f.monitor.ForceInvalidate()
	f.monitor.NotifyForeground()
	if _, err := f.monitor.ValidForChannel(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("ValidForChannel() error = %v, want ErrNoCredential", err)
	}
	f.clock.Advance(10 * time.Minute)

	if got := f.invalidations(); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}
	if got := f.redirectCount(); got != 1 {
		t.Errorf("redirects = %d, want 1", got)
	}
	if n := len(f.clock.Active()); n != 0 {
		t.Errorf("active timers = %d, want 0", n)
	}
}

func TestMonitor_RedirectAfterDelay(t *testing.T) {
	f := newMonitorFixture(t, "")
	f.setToken(t, signToken(t, f.clock.Now().Add(time.Hour)))
	f.start(t)

	f.monitor.ForceInvalidate()
	if got := f.redirectCount(); got != 0 {
		t.Errorf("redirects right after invalidation = %d, want 0", got)
	}

	f.clock.Advance(500 * time.Millisecond)
	if got := f.redirectCount(); got != 0 {
		t.Errorf("redirects after 500ms = %d, want 0", got)
	}

	f.clock.Advance(500 * time.Millisecond)
	if got := f.redirectCount(); got != 1 {
		t.Fatalf("redirects after 1s = %d, want 1", got)
	}
	if f.redirects[0] != "/login" {
		t.Errorf("redirect url = %q, want /login", f.redirects[0])
	}
}

func TestMonitor_ValidForChannel(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		f := newMonitorFixture(t, "")
		f.start(t)

		if _, err := f.monitor.ValidForChannel(); !errors.Is(err, ErrNoCredential) {
			t.Errorf("error = %v, want ErrNoCredential", err)
		}
		if got := f.invalidations(); got != 0 {
			t.Errorf("invalidations = %v, want 0", got)
		}
	})

	t.Run("expired at read time", func(t *testing.T) {
		f := newMonitorFixture(t, "")
		f.setToken(t, signToken(t, f.clock.Now().Add(10*time.Second)))
		f.start(t)

		f.clock.mu.Lock()
		f.clock.now = f.clock.now.Add(11 * time.Second)
		f.clock.mu.Unlock()

		if _, err := f.monitor.ValidForChannel(); !errors.Is(err, ErrCredentialExpired) {
			t.Errorf("error = %v, want ErrCredentialExpired", err)
		}
		if got := f.invalidations(); got != 1 {
			t.Errorf("invalidations = %v, want 1", got)
		}
	})

	t.Run("malformed in store", func(t *testing.T) {
		f := newMonitorFixture(t, "not-a-token")
		f.start(t)

		if _, err := f.monitor.ValidForChannel(); !errors.Is(err, ErrNoCredential) {
			t.Errorf("error = %v, want ErrNoCredential", err)
		}
		if got := f.invalidations(); got != 1 {
			t.Errorf("invalidations = %v, want 1", got)
		}
	})
}

func TestMonitor_StoreChangeRevalidates(t *testing.T) {
	store := NewMemoryStore()
	clock := newFakeClock()

	newTab := func() *Monitor {
		m := NewMonitor(store, MonitorConfig{Scheduler: clock, Now: clock.Now})
		t.Cleanup(m.Stop)
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		return m
	}
	a, b := newTab(), newTab()

	seen := make(chan Validation, 4)
	unsubscribe := b.OnCredential(func(v Validation) { seen <- v })
	defer unsubscribe()

	token := signToken(t, clock.Now().Add(time.Hour))
	if err := store.Set(context.Background(), "auth_token", token); err != nil {
		t.Fatalf("store.Set failed: %v", err)
	}

	select {
	case v := <-seen:
		if !v.Valid {
			t.Error("observer saw an invalid credential after store write")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for store change")
	}
	deadline := time.Now().Add(time.Second)
	for a.Current() != token && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.Current() != token || b.Current() != token {
		t.Error("both monitors should hold the new credential")
	}

	// Logout in one tab clears the other.
	a.ForceInvalidate()
	select {
	case v := <-seen:
		if v.Valid {
			t.Error("observer saw a valid credential after logout")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for removal")
	}
	if cur := b.Current(); cur != "" {
		t.Errorf("Current() = %q, want empty", cur)
	}
}

func TestMonitor_TokenSourceAndCookie(t *testing.T) {
	f := newMonitorFixture(t, "")
	token := signToken(t, f.clock.Now().Add(time.Hour))
	f.setToken(t, token)
	f.start(t)

	tok, err := f.monitor.Token()
	if err != nil {
		t.Fatalf("Token() error: %v", err)
	}
	if tok.AccessToken != token || tok.TokenType != "Bearer" {
		t.Errorf("token = %q/%q, want the stored credential as Bearer", tok.AccessToken, tok.TokenType)
	}
	if !tok.Expiry.Equal(f.clock.Now().Add(time.Hour)) {
		t.Errorf("Expiry = %v, want %v", tok.Expiry, f.clock.Now().Add(time.Hour))
	}

	cookie := f.monitor.Cookie()
	if cookie == nil {
		t.Fatal("Cookie() = nil")
	}
	if cookie.Name != "auth_token" || cookie.Value != token || cookie.MaxAge != 3600 {
		t.Errorf("cookie = %s=%q max-age %d", cookie.Name, cookie.Value, cookie.MaxAge)
	}

	f.monitor.ForceInvalidate()
	if _, err := f.monitor.Token(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Token() error = %v, want ErrNoCredential", err)
	}
	if f.monitor.Cookie() != nil {
		t.Error("Cookie() should be nil after invalidation")
	}
}

func TestMonitor_UnsubscribeObserver(t *testing.T) {
	f := newMonitorFixture(t, "")
	f.start(t)

	calls := 0
	unsubscribe := f.monitor.OnCredential(func(Validation) { calls++ })
	f.monitor.Check()
	unsubscribe()
	f.monitor.Check()

	if calls != 1 {
		t.Errorf("observer calls = %d, want 1", calls)
	}
}
