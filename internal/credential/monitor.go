package credential

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/rickgao/orderfeed/internal/metrics"
)

// Default re-check timing.
const (
	DefaultMinRecheck    = 60 * time.Second
	DefaultRefreshLead   = 300 * time.Second
	DefaultRedirectDelay = time.Second
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Key           string        // Store key holding the credential
	MinRecheck    time.Duration // Floor for the re-check delay
	RefreshLead   time.Duration // Re-check this long before expiry
	RedirectDelay time.Duration // Delay between invalidation and the redirect hook
	LoginURL      string

	// OnRedirect is invoked with LoginURL after a forced invalidation.
	OnRedirect func(loginURL string)

	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Scheduler Scheduler
	Now       func() time.Time
}

// Monitor owns the current credential.
type Monitor struct {
	cfg     MonitorConfig
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	sched   Scheduler
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	current      string
	recheck      Timer
	recheckDelay time.Duration
	redirect     Timer
	invalidated  bool
	observers    map[int]func(Validation)
	nextObserver int
}

// NewMonitor creates a Monitor over store.
func NewMonitor(store Store, cfg MonitorConfig) *Monitor {
	if cfg.Key == "" {
		cfg.Key = "auth_token"
	}
	if cfg.MinRecheck <= 0 {
		cfg.MinRecheck = DefaultMinRecheck
	}
	if cfg.RefreshLead <= 0 {
		cfg.RefreshLead = DefaultRefreshLead
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = DefaultRedirectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = realScheduler{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		cfg:       cfg,
		store:     store,
		logger:    logger.With("component", "credential_monitor", "key", cfg.Key),
		metrics:   metrics.OrNop(cfg.Metrics),
		sched:     sched,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[int]func(Validation)),
	}
}

// Start subscribes to store changes and performs the first validation.
func (m *Monitor) Start(ctx context.Context) error {
	changes, err := m.store.Watch(m.ctx, m.cfg.Key)
	if err != nil {
		return fmt.Errorf("watch credential: %w", err)
	}

	m.wg.Add(1)
	go m.watchLoop(changes)

	value, err := m.store.Get(ctx, m.cfg.Key)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	v := m.apply(value, "startup")
	m.logger.Info("credential monitor started", "valid", v.Valid, "expires_in", v.TimeUntilExpiry)
	return nil
}

// Stop cancels the store subscription and all timers.
func (m *Monitor) Stop() {
	m.cancel()

	m.mu.Lock()
	m.stopRecheckLocked()
	if m.redirect != nil {
		m.redirect.Stop()
		m.redirect = nil
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) watchLoop(changes <-chan string) {
	defer m.wg.Done()
	for value := range changes {
		m.apply(value, "store_change")
	}
}

// Current returns the last known credential without validating it.
func (m *Monitor) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ValidForChannel returns the credential only if it is valid right now.
// A stored credential that is expired or malformed is invalidated.
func (m *Monitor) ValidForChannel() (string, error) {
	token := m.Current()
	if token == "" {
		return "", ErrNoCredential
	}

	v := Validate(token, m.now())
	if v.Valid {
		return token, nil
	}

	m.ForceInvalidate()
	if v.Malformed() {
		return "", ErrCredentialInvalid
	}
	return "", ErrCredentialExpired
}

// Check re-reads the store and re-validates immediately.
func (m *Monitor) Check() Validation {
	value, err := m.store.Get(m.ctx, m.cfg.Key)
	if err != nil {
		m.logger.Warn("failed to read credential, keeping last value", "error", err)
		value = m.Current()
	}
	return m.apply(value, "check")
}

// NotifyForeground signals that the client became active again.
func (m *Monitor) NotifyForeground() {
	m.apply(m.readOrCurrent(), "foreground")
}

func (m *Monitor) readOrCurrent() string {
	value, err := m.store.Get(m.ctx, m.cfg.Key)
	if err != nil {
		m.logger.Warn("failed to read credential", "error", err)
		return m.Current()
	}
	return value
}

// apply adopts value as the current credential, re-arms the re-check timer
// and notifies observers.
func (m *Monitor) apply(value, reason string) Validation {
	m.metrics.CredentialChecks.Inc()
	v := Validate(value, m.now())

	m.mu.Lock()
	m.current = value
	m.stopRecheckLocked()

	invalidate := false
	switch {
	case value == "":
	case v.Valid:
		m.invalidated = false
		delay := max(m.cfg.MinRecheck, v.TimeUntilExpiry-m.cfg.RefreshLead)
		m.recheckDelay = delay
		m.recheck = m.sched.AfterFunc(delay, m.onRecheck)
	default:
		invalidate = true
	}
	observers := m.observerSnapshotLocked()
	m.mu.Unlock()

	m.logger.Debug("credential validated",
		"reason", reason,
		"present", value != "",
		"valid", v.Valid,
		"expires_in", v.TimeUntilExpiry,
	)

	if invalidate {
		m.ForceInvalidate()
	}
	for _, fn := range observers {
		fn(v)
	}
	return v
}

func (m *Monitor) onRecheck() {
	if m.ctx.Err() != nil {
		return
	}
	m.apply(m.readOrCurrent(), "scheduled")
}

func (m *Monitor) stopRecheckLocked() {
	if m.recheck != nil {
		m.recheck.Stop()
		m.recheck = nil
	}
	m.recheckDelay = 0
}

// NextRecheck returns the delay of the armed re-check timer, or 0 when none
// is armed.
func (m *Monitor) NextRecheck() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recheckDelay
}

// ForceInvalidate clears the credential from the store and schedules the
// login redirect. Calls made while already invalidated are ignored.
func (m *Monitor) ForceInvalidate() {
	m.mu.Lock()
	if m.invalidated {
		m.mu.Unlock()
		return
	}
	m.invalidated = true
	m.current = ""
	m.stopRecheckLocked()
	m.mu.Unlock()

	m.metrics.CredentialInvalidations.Inc()
	m.logger.Warn("credential invalidated", "redirect", m.cfg.LoginURL)

	if err := m.store.Delete(m.ctx, m.cfg.Key); err != nil {
		m.logger.Error("failed to clear credential", "error", err)
	}

	m.mu.Lock()
	if m.redirect != nil {
		m.redirect.Stop()
	}
	m.redirect = m.sched.AfterFunc(m.cfg.RedirectDelay, m.onRedirect)
	m.mu.Unlock()
}

// Invalidated reports whether the credential was force-invalidated and no
// valid credential has been seen since.
func (m *Monitor) Invalidated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidated
}

func (m *Monitor) onRedirect() {
	m.mu.Lock()
	m.redirect = nil
	m.mu.Unlock()

	if m.ctx.Err() != nil || m.cfg.OnRedirect == nil {
		return
	}
	m.cfg.OnRedirect(m.cfg.LoginURL)
}

// OnCredential registers fn to run after every validation. The returned
// func removes it.
func (m *Monitor) OnCredential(fn func(Validation)) func() {
	m.mu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) observerSnapshotLocked() []func(Validation) {
	fns := make([]func(Validation), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	return fns
}

// Token implements oauth2.TokenSource.
func (m *Monitor) Token() (*oauth2.Token, error) {
	token, err := m.ValidForChannel()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      Validate(token, m.now()).ExpiresAt,
	}, nil
}

// Cookie mirrors the valid credential into a cookie that expires with it.
// It returns nil when there is no valid credential.
func (m *Monitor) Cookie() *http.Cookie {
	token := m.Current()
	v := Validate(token, m.now())
	if !v.Valid {
		return nil
	}
	return &http.Cookie{
		Name:     m.cfg.Key,
		Value:    token,
		Path:     "/",
		Expires:  v.ExpiresAt,
		MaxAge:   int(v.Seconds()),
		SameSite: http.SameSiteLaxMode,
	}
}
