package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/orderfeed/internal/counters"
	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/model"
)

// Router normalizes raw events from both transports, suppresses duplicate
// order events and delivers the rest to subscribers. All deliveries go
// through one serial path.
type Router struct {
	cfg     Config
	sink    CounterSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	queue  *Queue[RawEvent]
	window *Window

	// routeMu serializes Route so subscribers observe one event at a time.
	routeMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[model.Kind]map[uint64]Handler
	all    map[uint64]Handler
	nextID uint64

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu     sync.Mutex
	received    int64
	routed      int64
	duplicates  int64
	parseErrors int64
	unknown     int64
}

// New creates an Event Router. sink may be nil.
func New(cfg Config, sink CounterSink, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = def.DedupSize
	}
	if cfg.DedupKey == nil {
		cfg.DedupKey = def.DedupKey
	}

	return &Router{
		cfg:     cfg,
		sink:    sink,
		metrics: metrics.OrNop(m),
		logger:  logger.With("component", "router"),
		queue:   NewQueue[RawEvent](cfg.QueueSize),
		window:  NewWindow(cfg.DedupSize, cfg.DedupTTL),
		subs:    make(map[model.Kind]map[uint64]Handler),
		all:     make(map[uint64]Handler),
	}
}

// Start begins draining the inbound queue.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("event router started",
		"queue_size", r.cfg.QueueSize,
		"dedup_size", r.cfg.DedupSize,
		"dedup_ttl", r.cfg.DedupTTL,
	)
	return nil
}

// Stop closes the inbound queue and waits for queued events to be routed.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping event router")
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		r.logger.Info("event router stopped")
	case <-ctx.Done():
		r.logger.Warn("event router stop timed out", "pending", r.queue.Len())
		err = ctx.Err()
	}

	if r.cancel != nil {
		r.cancel()
	}
	return err
}

// Submit queues raw for routing. It returns false after Stop.
func (r *Router) Submit(raw RawEvent) bool {
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now()
	}
	return r.queue.Push(raw)
}

func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		raw, ok := r.queue.Pop(r.ctx)
		if !ok {
			return
		}
		r.Route(raw)
	}
}

// Route normalizes and delivers a single event synchronously. It reports
// whether subscribers were invoked.
func (r *Router) Route(raw RawEvent) bool {
	r.routeMu.Lock()
	defer r.routeMu.Unlock()

	source := string(raw.Source)
	r.count(&r.received)
	r.metrics.EventsReceived.WithLabelValues(source).Inc()

	ev, err := normalize(raw)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			r.count(&r.unknown)
			r.logger.Debug("skipping event", "type", raw.Type, "source", source)
			return false
		}
		r.count(&r.parseErrors)
		r.metrics.ParseErrors.WithLabelValues(source).Inc()
		r.logger.Warn("failed to parse event", "type", raw.Type, "source", source, "error", err)
		return false
	}

	kind := string(ev.Kind())
	switch e := ev.(type) {
	case model.OrderEvent:
		if r.window.Seen(r.cfg.DedupKey(e)) {
			r.count(&r.duplicates)
			r.metrics.EventsDuplicate.WithLabelValues(kind, source).Inc()
			r.logger.Debug("duplicate event dropped",
				"kind", kind, "order_id", e.OrderRef().ID, "source", source)
			return false
		}
	case model.StatsUpdated:
		if r.sink != nil {
			r.sink.Update(counters.FromStats(e.Stats))
		}
	case model.CountersUpdated:
		if r.sink != nil {
			r.sink.Update(e.Counters)
		}
	}

	d := Delivery{Event: ev, Source: raw.Source, ReceivedAt: raw.ReceivedAt}
	for _, h := range r.handlers(ev.Kind()) {
		h(d)
	}

	r.count(&r.routed)
	r.metrics.EventsRouted.WithLabelValues(kind, source).Inc()
	return true
}

// Subscribe registers h for events of kind. The returned func removes it.
func (r *Router) Subscribe(kind model.Kind, h Handler) func() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	id := r.nextID
	r.nextID++
	if r.subs[kind] == nil {
		r.subs[kind] = make(map[uint64]Handler)
	}
	r.subs[kind][id] = h

	return func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		delete(r.subs[kind], id)
	}
}

// SubscribeAll registers h for every event kind.
func (r *Router) SubscribeAll(h Handler) func() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	id := r.nextID
	r.nextID++
	r.all[id] = h

	return func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		delete(r.all, id)
	}
}

func (r *Router) handlers(kind model.Kind) []Handler {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()

	hs := make([]Handler, 0, len(r.subs[kind])+len(r.all))
	for _, h := range r.subs[kind] {
		hs = append(hs, h)
	}
	for _, h := range r.all {
		hs = append(hs, h)
	}
	return hs
}

func (r *Router) count(n *int64) {
	r.statsMu.Lock()
	*n++
	r.statsMu.Unlock()
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	return Stats{
		Received:    r.received,
		Routed:      r.routed,
		Duplicates:  r.duplicates,
		ParseErrors: r.parseErrors,
		Unknown:     r.unknown,
		Queue:       r.queue.Stats(),
	}
}
