package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/orderfeed/internal/config"
	"github.com/rickgao/orderfeed/internal/connection"
	"github.com/rickgao/orderfeed/internal/counters"
	"github.com/rickgao/orderfeed/internal/credential"
	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/model"
	"github.com/rickgao/orderfeed/internal/router"
	"github.com/rickgao/orderfeed/internal/stream"
)

// ShutdownTimeout bounds the component shutdown after Run's ctx is done.
const ShutdownTimeout = 10 * time.Second

// Options carries dependencies that are not part of the file config.
type Options struct {
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	OnRedirect func(loginURL string) // Called after the credential is force-invalidated
}

// Session is one running order feed for a store.
type Session struct {
	id     string
	cfg    config.FeedConfig
	logger *slog.Logger

	monitor  *credential.Monitor
	manager  *connection.Manager
	router   *router.Router
	counters *counters.Aggregator
	stream   *stream.Coordinator // nil when the fallback is disabled

	recover chan struct{}
}

// New assembles a session over store.
func New(cfg config.FeedConfig, store credential.Store, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger = logger.With("session", id, "tenant", cfg.Tenant.ID)

	s := &Session{
		id:       id,
		cfg:      cfg,
		logger:   logger,
		counters: counters.New(),
		recover:  make(chan struct{}, 1),
	}

	s.monitor = credential.NewMonitor(store, credential.MonitorConfig{
		Key:           cfg.Credential.Key,
		MinRecheck:    cfg.Credential.MinRecheck,
		RefreshLead:   cfg.Credential.RefreshLead,
		RedirectDelay: cfg.Credential.RedirectDelay,
		LoginURL:      cfg.Credential.LoginURL,
		OnRedirect:    opts.OnRedirect,
		Logger:        logger,
		Metrics:       opts.Metrics,
	})

	s.manager = connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.Primary.URL,
		TenantID:             cfg.Tenant.ID,
		MaxReconnectAttempts: cfg.Primary.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Primary.ReconnectDelay,
		HeartbeatInterval:    cfg.Primary.HeartbeatInterval,
		ActionTimeout:        cfg.Primary.ActionTimeout,
		HandshakeTimeout:     cfg.Primary.HandshakeTimeout,
		WriteTimeout:         cfg.Primary.WriteTimeout,
		InitialOrdersLimit:   cfg.Primary.InitialOrdersLimit,
	}, s.monitor, opts.Metrics, logger)

	s.router = router.New(router.Config{
		DedupSize: cfg.Dedup.WindowSize,
		DedupTTL:  cfg.Dedup.TTL,
	}, s.counters, opts.Metrics, logger)

	if cfg.Fallback.Enabled {
		s.stream = stream.New(stream.Config{
			URL:      cfg.Fallback.URL,
			TenantID: cfg.Tenant.ID,
			Retry:    cfg.Fallback.Retry,
		}, s.monitor, s.router, opts.Metrics, logger)
	}

	return s
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// Monitor returns the credential monitor.
func (s *Session) Monitor() *credential.Monitor { return s.monitor }

// Manager returns the primary channel manager.
func (s *Session) Manager() *connection.Manager { return s.manager }

// Router returns the event router.
func (s *Session) Router() *router.Router { return s.router }

// Counters returns the counter aggregator.
func (s *Session) Counters() *counters.Aggregator { return s.counters }

// Stream returns the fallback coordinator, or nil when disabled.
func (s *Session) Stream() *stream.Coordinator { return s.stream }

// Subscribe registers h for events of kind.
func (s *Session) Subscribe(kind model.Kind, h router.Handler) func() {
	return s.router.Subscribe(kind, h)
}

// RequestAction asks the backend to move an order to status.
func (s *Session) RequestAction(ctx context.Context, orderID string, status model.OrderStatus) (*connection.ActionAck, error) {
	return s.manager.RequestAction(ctx, orderID, status)
}

// Run starts every component and blocks until ctx is done or a component
// fails. Components are stopped before Run returns.
func (s *Session) Run(ctx context.Context) error {
	if err := s.monitor.Start(ctx); err != nil {
		return err
	}
	defer s.monitor.Stop()

	if err := s.router.Start(ctx); err != nil {
		return err
	}
	if err := s.manager.Start(ctx); err != nil {
		return err
	}
	defer s.shutdown()

	unsubscribe := s.monitor.OnCredential(func(v credential.Validation) {
		if !v.Valid {
			return
		}
		select {
		case s.recover <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.pump(gctx)
		return nil
	})

	g.Go(func() error {
		s.recoverLoop(gctx)
		return nil
	})

	if s.stream != nil {
		g.Go(func() error {
			return s.stream.Run(gctx)
		})
	}

	if err := s.manager.Connect(gctx); err != nil {
		s.logger.Warn("initial connect failed", "error", err, "state", s.manager.State())
	}

	s.logger.Info("session running", "fallback", s.stream != nil)
	return g.Wait()
}

// pump forwards primary channel events into the router.
func (s *Session) pump(ctx context.Context) {
	messages := s.manager.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			s.router.Submit(router.RawEvent{
				Source:     router.SourcePrimary,
				Type:       msg.Event,
				Data:       msg.Data,
				ReceivedAt: msg.ReceivedAt,
			})
		}
	}
}

// recoverLoop reconnects the primary channel when a valid credential shows
// up after an auth failure. Automatic reconnects never leave AuthError.
func (s *Session) recoverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.recover:
		}

		if s.manager.State() != connection.StateAuthError {
			continue
		}
		s.logger.Info("new credential available, reconnecting primary channel")
		if err := s.manager.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("reconnect with new credential failed", "error", err)
		}
	}
}

func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.manager.Stop(ctx)
	if err := s.router.Stop(ctx); err != nil {
		s.logger.Warn("router stop incomplete", "error", err)
	}
	s.logger.Info("session stopped")
}

// Health is a point-in-time view of the session.
type Health struct {
	Session         string         `json:"session"`
	Tenant          string         `json:"tenant"`
	State           string         `json:"state"`
	Attempts        int            `json:"attempts"`
	LastPong        time.Time      `json:"lastPong,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	CredentialValid bool           `json:"credentialValid"`
	NextRecheck     time.Duration  `json:"nextRecheck"`
	StreamEnabled   bool           `json:"streamEnabled"`
	StreamConnected bool           `json:"streamConnected"`
	Counters        model.Counters `json:"counters"`
	Router          router.Stats   `json:"router"`
}

// Healthy reports whether at least one transport is delivering events.
func (h Health) Healthy() bool {
	return h.State == connection.StateConnected.String() || h.StreamConnected
}

// Health returns the current session health.
func (s *Session) Health() Health {
	stats := s.manager.Stats()
	h := Health{
		Session:         s.id,
		Tenant:          s.cfg.Tenant.ID,
		State:           stats.State.String(),
		Attempts:        stats.Attempts,
		LastPong:        stats.LastPong,
		LastError:       stats.LastError,
		CredentialValid: credential.Validate(s.monitor.Current(), time.Now()).Valid,
		NextRecheck:     s.monitor.NextRecheck(),
		StreamEnabled:   s.stream != nil,
		Counters:        s.counters.Current(),
		Router:          s.router.Stats(),
	}
	if s.stream != nil {
		h.StreamConnected = s.stream.Status().Connected
	}
	return h
}
