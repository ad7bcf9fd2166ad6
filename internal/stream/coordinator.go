package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/router"
)

var (
	ErrUnauthorized = errors.New("stream unauthorized")
	ErrBadStatus    = errors.New("unexpected stream status")
	ErrContentType  = errors.New("unexpected stream content type")
	ErrStreamClosed = errors.New("stream closed by server")
)

// Credentials supplies the bearer token and the cookie mirror.
type Credentials interface {
	oauth2.TokenSource
	Cookie() *http.Cookie
}

// Sink receives raw events. *router.Router implements it.
type Sink interface {
	Submit(router.RawEvent) bool
}

// Config holds configuration for the Coordinator.
type Config struct {
	URL      string
	TenantID string
	Retry    time.Duration     // Reconnect pacing until the server sends retry:
	Base     http.RoundTripper // Defaults to http.DefaultTransport
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Retry: 5 * time.Second,
	}
}

// Status describes the stream connection.
type Status struct {
	Connected   bool
	Failures    int // Consecutive failed attempts
	LastEventID string
	LastError   error
	At          time.Time
}

// Coordinator maintains the fallback stream.
type Coordinator struct {
	cfg     Config
	creds   Credentials
	sink    Sink
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	status    Status
	listeners map[int]func(Status)
	nextID    int
}

// New creates a Coordinator.
func New(cfg Config, creds Credentials, sink Sink, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry <= 0 {
		cfg.Retry = DefaultConfig().Retry
	}
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return &Coordinator{
		cfg:   cfg,
		creds: creds,
		sink:  sink,
		client: &http.Client{
			Transport: &oauth2.Transport{Source: creds, Base: base},
		},
		limiter:   rate.NewLimiter(rate.Every(cfg.Retry), 1),
		metrics:   metrics.OrNop(m),
		logger:    logger.With("component", "stream"),
		listeners: make(map[int]func(Status)),
	}
}

// Run keeps the stream open until ctx is done. Failures are reported to
// status listeners and retried at the current pacing.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("fallback stream starting", "url", c.cfg.URL, "tenant", c.cfg.TenantID)

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		err := c.stream(ctx)
		if ctx.Err() != nil {
			c.setStatus(func(s *Status) { s.Connected = false })
			c.logger.Info("fallback stream stopped")
			return nil
		}

		c.metrics.StreamErrors.Inc()
		c.logger.Warn("fallback stream failed", "error", err)
		c.setStatus(func(s *Status) {
			s.Connected = false
			s.Failures++
			s.LastError = err
		})
	}
}

// stream performs one connection and reads it until it ends.
func (c *Coordinator) stream(ctx context.Context) error {
	req, err := c.newRequest(ctx)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		return fmt.Errorf("%w: %q", ErrContentType, mt)
	}

	c.metrics.StreamConnected.Set(1)
	defer c.metrics.StreamConnected.Set(0)
	c.setStatus(func(s *Status) {
		s.Connected = true
		s.Failures = 0
		s.LastError = nil
	})
	c.logger.Info("fallback stream connected")

	reader := NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamClosed
			}
			return fmt.Errorf("read stream: %w", err)
		}
		c.handle(ev)
	}
}

func (c *Coordinator) newRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("storeId", c.cfg.TenantID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := c.Status().LastEventID; id != "" {
		req.Header.Set("Last-Event-ID", id)
	}
	if cookie := c.creds.Cookie(); cookie != nil {
		req.AddCookie(cookie)
	}
	return req, nil
}

// handle forwards one event to the sink.
func (c *Coordinator) handle(ev Event) {
	if ev.ID != "" {
		c.setStatus(func(s *Status) { s.LastEventID = ev.ID })
	}
	if ev.Retry > 0 {
		c.limiter.SetLimit(rate.Every(ev.Retry))
		c.logger.Debug("stream retry updated", "retry", ev.Retry)
	}
	if ev.Data == "" {
		return
	}

	kind, data := ev.Type, json.RawMessage(ev.Data)
	if kind == "message" {
		// Unnamed events carry the primary channel's envelope.
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err == nil && env.Event != "" {
			kind, data = env.Event, env.Data
		}
	}

	c.sink.Submit(router.RawEvent{
		Source:     router.SourceFallback,
		Type:       kind,
		Data:       data,
		ReceivedAt: time.Now(),
	})
}

// Status returns the current stream status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnStatus registers fn for status changes. The returned func removes it.
func (c *Coordinator) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// setStatus applies mutate and notifies listeners when the connection
// state or error changed.
func (c *Coordinator) setStatus(mutate func(*Status)) {
	c.mu.Lock()
	before := c.status
	mutate(&c.status)
	c.status.At = time.Now()
	after := c.status
	changed := before.Connected != after.Connected || before.Failures != after.Failures
	fns := make([]func(Status), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range fns {
		fn(after)
	}
}
