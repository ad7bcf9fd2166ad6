package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/orderfeed/internal/metrics"
	"github.com/rickgao/orderfeed/internal/model"
)

// Credentials supplies the bearer credential for the channel.
type Credentials interface {
	// ValidForChannel returns a credential valid at the instant of the call.
	ValidForChannel() (string, error)

	// ForceInvalidate clears the credential after the server refused it.
	ForceInvalidate()
}

// pendingAction is an update_order_status waiting for its acknowledgement.
type pendingAction struct {
	requestID string
	orderID   string
	result    chan actionResult
}

type actionResult struct {
	ack *ActionAck
	err error
}

// Manager owns the primary channel of one store.
type Manager struct {
	cfg       ManagerConfig
	creds     Credentials
	logger    *slog.Logger
	metrics   *metrics.Metrics
	newClient func(ClientConfig, *slog.Logger) Client

	// Output to Event Router
	out chan RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Wakes the supervisor after every transition
	wake chan struct{}

	mu           sync.Mutex
	state        State
	attempts     int
	gen          uint64 // Incremented per dial; events from older dials are ignored
	client       Client
	connCancel   context.CancelFunc
	supervise    bool // Set by Connect, cleared by Disconnect
	reconnecting bool
	lastPong     time.Time
	lastErr      error
	pending      []*pendingAction
	listeners    map[int]func(StateChange)
	nextListener int
	stopped      bool
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, creds Credentials, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultManagerConfig()
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if cfg.ReconnectDelay < 0 {
		cfg.ReconnectDelay = 0
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaults.ActionTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.InitialOrdersLimit <= 0 {
		cfg.InitialOrdersLimit = defaults.InitialOrdersLimit
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = defaults.MessageBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		creds:     creds,
		logger:    logger.With("component", "connection_manager", "tenant", cfg.TenantID),
		metrics:   metrics.OrNop(m),
		newClient: NewClient,
		out:       make(chan RawMessage, cfg.MessageBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		listeners: make(map[int]func(StateChange)),
	}
}

// Start runs the reconnect supervisor until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.superviseLoop()

	m.logger.Info("connection manager started",
		"max_reconnect_attempts", m.cfg.MaxReconnectAttempts,
		"reconnect_delay", m.cfg.ReconnectDelay,
	)
	return nil
}

// Stop tears down the channel and waits for all goroutines.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.supervise = false
	change, changed := m.teardownLocked(evDisconnect, "manager stopped", false, nil)
	m.mu.Unlock()
	if changed {
		m.publish(change)
	}

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(m.out)
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Messages returns the output channel for the Event Router.
func (m *Manager) Messages() <-chan RawMessage {
	return m.out
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempts since the last successful connect.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastPong returns when the last heartbeat acknowledgement arrived.
func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		State:          m.state,
		Attempts:       m.attempts,
		LastPong:       m.lastPong,
		PendingActions: len(m.pending),
	}
	if m.lastErr != nil {
		stats.LastError = m.lastErr.Error()
	}
	return stats
}

// OnStateChange registers fn for every transition. The returned func removes it.
func (m *Manager) OnStateChange(fn func(StateChange)) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Connect opens the channel. It is a no-op while connected or connecting,
// and re-enables automatic reconnection after Disconnect. The returned error
// is informational; State reflects the outcome.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.supervise = true
	m.mu.Unlock()

	return m.connect(ctx)
}

// ResetAttempts clears the reconnect counter so Reconnect is allowed again
// after the limit was reached.
func (m *Manager) ResetAttempts() {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.wakeSupervisor()
}

func (m *Manager) connect(ctx context.Context) error {
	if m.busy() {
		return nil
	}

	token, err := m.creds.ValidForChannel()
	if err != nil {
		// An expired credential has already been invalidated by the monitor.
		m.metrics.AuthFailures.Inc()
		m.fail(0, fmt.Errorf("%w: %w", ErrAuthFailure, err), true)
		return fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}

	channelURL, err := withToken(m.cfg.URL, token)
	if err != nil {
		m.fail(0, err, false)
		return err
	}

	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting || m.stopped {
		m.mu.Unlock()
		return nil
	}
	change := m.applyLocked(evConnect, "dialing", false, nil)
	m.gen++
	gen := m.gen
	m.mu.Unlock()
	m.publish(change)

	client := m.newClient(ClientConfig{
		URL:              channelURL,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.MessageBufferSize,
	}, m.logger)

	if err := client.Connect(ctx); err != nil {
		auth := isAuthFailure(err)
		if auth {
			err = fmt.Errorf("%w: %w", ErrAuthFailure, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrTransient, err)
		}
		m.fail(gen, err, auth)
		return err
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting || m.stopped {
		// Disconnected while dialing.
		m.mu.Unlock()
		client.Close()
		return ErrDisconnected
	}
	connCtx, connCancel := context.WithCancel(m.ctx)
	m.client = client
	m.connCancel = connCancel
	m.attempts = 0
	m.lastErr = nil
	change = m.applyLocked(evOpened, "connected", false, nil)
	// Registered under mu so Stop cannot reach wg.Wait first.
	m.wg.Add(2)
	m.mu.Unlock()

	m.logger.Info("primary channel connected")
	m.publish(change)

	go m.readLoop(gen, client)
	go m.heartbeatLoop(connCtx, client)

	m.join(client)
	return nil
}

// busy reports whether a connection exists or is being established.
func (m *Manager) busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected || m.state == StateConnecting || m.stopped
}

// join subscribes to the store room and requests the first page of orders.
func (m *Manager) join(client Client) {
	if err := m.send(client, EventJoinStore, JoinStorePayload{TenantID: m.cfg.TenantID}); err != nil {
		m.logger.Warn("failed to join store", "error", err)
		return
	}
	err := m.send(client, EventRequestOrders, RequestOrdersPayload{
		TenantID: m.cfg.TenantID,
		Page:     1,
		Limit:    m.cfg.InitialOrdersLimit,
	})
	if err != nil {
		m.logger.Warn("failed to request orders", "error", err)
	}
}

func (m *Manager) send(client Client, event string, payload any) error {
	if err := client.Emit(event, payload); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Disconnect closes the channel, stops the heartbeat and rejects pending
// actions. The credential is kept. Automatic reconnection stays off until
// the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.supervise = false
	change, changed := m.teardownLocked(evDisconnect, "client disconnect", false, nil)
	m.mu.Unlock()

	if changed {
		m.logger.Info("primary channel disconnected")
		m.publish(change)
	}
}

// Reconnect waits ReconnectDelay, then tears down and reconnects. It is
// refused past MaxReconnectAttempts, in AuthError, and while connected or
// connecting.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.reconnect(ctx, false)
}

// reconnect implements Reconnect. Automatic attempts are abandoned when
// Disconnect is called during the delay.
func (m *Manager) reconnect(ctx context.Context, auto bool) error {
	m.mu.Lock()
	switch {
	case m.stopped:
		m.mu.Unlock()
		return ErrAlreadyClosed
	case m.state == StateAuthError:
		m.mu.Unlock()
		return ErrAuthFailure
	case m.state == StateConnected || m.state == StateConnecting:
		m.mu.Unlock()
		return nil
	case m.reconnecting:
		m.mu.Unlock()
		return ErrReconnectInProgress
	case m.attempts >= m.cfg.MaxReconnectAttempts:
		m.mu.Unlock()
		return ErrReconnectLimit
	}
	m.attempts++
	attempt := m.attempts
	m.reconnecting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
		m.wakeSupervisor()
	}()

	m.metrics.ReconnectAttempts.Inc()
	m.logger.Info("attempting reconnection",
		"attempt", attempt,
		"max", m.cfg.MaxReconnectAttempts,
		"delay", m.cfg.ReconnectDelay,
	)

	timer := time.NewTimer(m.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	case <-timer.C:
	}

	m.mu.Lock()
	if m.stopped || (auto && !m.supervise) || (m.state != StateDisconnected && m.state != StateConnectionError) {
		m.mu.Unlock()
		return nil
	}
	change, changed := m.teardownLocked(evDisconnect, "reconnecting", false, nil)
	m.mu.Unlock()
	if changed {
		m.publish(change)
	}

	return m.connect(ctx)
}

// superviseLoop re-evaluates reconnect eligibility after every transition.
func (m *Manager) superviseLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}

		for m.shouldReconnect() {
			if err := m.reconnect(m.ctx, true); err != nil && !errors.Is(err, ErrTransient) {
				m.logger.Debug("reconnect stopped", "error", err)
				break
			}
		}
	}
}

func (m *Manager) shouldReconnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil || m.stopped || !m.supervise || m.reconnecting {
		return false
	}
	if m.state != StateDisconnected && m.state != StateConnectionError {
		return false
	}
	return m.attempts < m.cfg.MaxReconnectAttempts
}

func (m *Manager) wakeSupervisor() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// readLoop forwards event messages until the client's read side ends.
func (m *Manager) readLoop(gen uint64, client Client) {
	defer m.wg.Done()

	for frame := range client.Frames() {
		m.handleFrame(gen, frame)
	}

	err := client.Err()
	if err == nil {
		// Closed locally.
		return
	}

	reason, passive, closed := classifyClose(err)
	switch {
	case isAuthFailure(err):
		m.fail(gen, fmt.Errorf("%w: %w", ErrAuthFailure, err), true)
	case closed:
		m.closed(gen, reason, passive)
	default:
		m.fail(gen, fmt.Errorf("%w: %w", ErrTransient, err), false)
	}
}

func (m *Manager) handleFrame(gen uint64, frame Frame) {
	env := frame.Envelope
	switch env.Event {
	case EventConnected, EventJoinedStore:
		m.logger.Debug("server acknowledged", "event", env.Event)

	case EventPong:
		var pong PongPayload
		if err := json.Unmarshal(env.Data, &pong); err != nil {
			m.logger.Debug("unparseable pong payload", "error", err)
		}
		m.logger.Debug("pong", "server_ts", pong.Timestamp)
		m.mu.Lock()
		m.lastPong = frame.ReceivedAt
		m.mu.Unlock()
		m.metrics.LastPong.Set(float64(frame.ReceivedAt.Unix()))

	case EventOrderStatusUpdated:
		var ack ActionAck
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			m.logger.Warn("unparseable action ack", "error", err)
			return
		}
		m.resolve(&ack)

	case EventError:
		var payload ErrorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			m.logger.Debug("unparseable error payload", "error", err)
			// Some servers send the message as a bare string.
			if json.Unmarshal(env.Data, &payload.Message) != nil {
				payload.Message = string(env.Data)
			}
		}
		serverErr := &ServerError{Message: payload.Message}
		if hasAuthMarker(payload.Message) {
			m.fail(gen, fmt.Errorf("%w: %w", ErrAuthFailure, serverErr), true)
			return
		}
		m.mu.Lock()
		m.lastErr = serverErr
		m.mu.Unlock()
		m.logger.Warn("server error", "message", payload.Message)

	default:
		raw := RawMessage{Event: env.Event, Data: env.Data, ReceivedAt: frame.ReceivedAt}
		select {
		case m.out <- raw:
		case <-m.ctx.Done():
		}
	}
}

// heartbeatLoop sends ping while the connection lives. A missing pong is
// only observable through LastPong.
func (m *Manager) heartbeatLoop(ctx context.Context, client Client) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.send(client, EventPing, PingPayload{Timestamp: time.Now().UnixMilli()}); err != nil {
				m.logger.Debug("failed to send ping", "error", err)
				continue
			}
			m.metrics.HeartbeatsSent.Inc()
		}
	}
}

// closed handles a close frame from the server.
func (m *Manager) closed(gen uint64, reason string, passive bool) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	change, changed := m.teardownLocked(evClosed, reason, passive, nil)
	m.mu.Unlock()

	if changed {
		m.logger.Info("primary channel closed", "reason", reason, "passive", passive)
		m.publish(change)
	}
}

// fail handles a dial or transport failure. gen 0 means no dial was made.
func (m *Manager) fail(gen uint64, err error, auth bool) {
	m.mu.Lock()
	if gen != 0 && gen != m.gen {
		m.mu.Unlock()
		return
	}
	ev := evFailed
	if auth {
		ev = evAuthRejected
	}
	m.lastErr = err
	change, changed := m.teardownLocked(ev, err.Error(), false, err)
	m.mu.Unlock()

	if auth {
		m.logger.Warn("credential rejected, automatic reconnect disabled", "error", err)
		if gen != 0 {
			m.metrics.AuthFailures.Inc()
			m.creds.ForceInvalidate()
		}
	} else {
		m.logger.Warn("primary channel failure", "error", err)
	}

	if changed {
		m.publish(change)
	}
}

// teardownLocked applies ev, closes the client and rejects pending actions.
// Must be called with m.mu held.
func (m *Manager) teardownLocked(ev event, reason string, passive bool, err error) (StateChange, bool) {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.gen++

	for _, p := range m.pending {
		p.result <- actionResult{err: ErrDisconnected}
	}
	m.pending = nil

	from := m.state
	change := m.applyLocked(ev, reason, passive, err)
	return change, change.To != from
}

// applyLocked runs the state machine. Must be called with m.mu held.
func (m *Manager) applyLocked(ev event, reason string, passive bool, err error) StateChange {
	from := m.state
	m.state = transition(from, ev)
	m.metrics.ConnectionState.Set(float64(m.state))

	return StateChange{
		From:     from,
		To:       m.state,
		Reason:   reason,
		Passive:  passive,
		Err:      err,
		Attempts: m.attempts,
		At:       time.Now(),
	}
}

// publish notifies listeners and the supervisor. Must not hold m.mu.
func (m *Manager) publish(change StateChange) {
	m.mu.Lock()
	fns := make([]func(StateChange), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.logger.Debug("state change",
		"from", change.From,
		"to", change.To,
		"reason", change.Reason,
		"attempts", change.Attempts,
	)

	for _, fn := range fns {
		fn(change)
	}
	m.wakeSupervisor()
}

// RequestAction asks the server to move an order to status and waits for
// the correlated acknowledgement.
func (m *Manager) RequestAction(ctx context.Context, orderID string, status model.OrderStatus) (*ActionAck, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	m.mu.Lock()
	if m.state != StateConnected || m.client == nil {
		m.mu.Unlock()
		m.metrics.ActionFailures.WithLabelValues("not_connected").Inc()
		return nil, ErrNotConnected
	}
	p := &pendingAction{
		requestID: uuid.NewString(),
		orderID:   orderID,
		result:    make(chan actionResult, 1),
	}
	m.pending = append(m.pending, p)
	client := m.client
	m.mu.Unlock()

	defer m.removePending(p)

	start := time.Now()
	err := m.send(client, EventUpdateOrderStatus, UpdateOrderStatusPayload{
		OrderID:   orderID,
		Status:    status,
		TenantID:  m.cfg.TenantID,
		RequestID: p.requestID,
	})
	if err != nil {
		m.metrics.ActionFailures.WithLabelValues("send").Inc()
		return nil, fmt.Errorf("send %s: %w", EventUpdateOrderStatus, err)
	}

	timer := time.NewTimer(m.cfg.ActionTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timer.C:
		m.metrics.ActionFailures.WithLabelValues("timeout").Inc()
		m.logger.Warn("action timed out", "order_id", orderID, "status", status)
		return nil, ErrActionTimeout

	case res := <-p.result:
		if res.err != nil {
			m.metrics.ActionFailures.WithLabelValues("disconnected").Inc()
			return nil, res.err
		}
		m.metrics.ActionDuration.Observe(time.Since(start).Seconds())
		if !res.ack.Success {
			m.metrics.ActionFailures.WithLabelValues("rejected").Inc()
			return res.ack, &ActionError{OrderID: orderID, Status: status, Message: res.ack.Error}
		}
		return res.ack, nil
	}
}

// resolve hands ack to the matching pending action: by request id when
// echoed, else the oldest pending action for the same order.
func (m *Manager) resolve(ack *ActionAck) {
	m.mu.Lock()
	idx := -1
	if ack.RequestID != "" {
		for i, p := range m.pending {
			if p.requestID == ack.RequestID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i, p := range m.pending {
			if p.orderID == ack.OrderID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		m.logger.Debug("unmatched action ack", "order_id", ack.OrderID)
		return
	}
	p := m.pending[idx]
	m.pending = append(m.pending[:idx], m.pending[idx+1:]...)
	m.mu.Unlock()

	p.result <- actionResult{ack: ack}
}

func (m *Manager) removePending(target *pendingAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.pending {
		if p == target {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// withToken adds the credential as the token query parameter.
func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
