package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/xray-triage-api/internal/models"
)

// ErrHubStopped is returned when subscribing to a hub that has shut down.
var ErrHubStopped = errors.New("stats hub stopped")

// Subscriber is a push channel to one live viewer.
type Subscriber interface {
	// Send writes one message. Implementations must honour ctx's deadline.
	Send(ctx context.Context, payload []byte) error
	Close() error
}

type snapshotSource interface {
	Snapshot(ctx context.Context) (models.AggregateSnapshot, error)
}

// SubscriberState tracks a subscriber through Connected, Streaming and Disconnected.
type SubscriberState int32

const (
	StateConnected SubscriberState = iota
	StateStreaming
	StateDisconnected
)

func (s SubscriberState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Drop reasons reported to metrics.
const (
	dropWriteFailed = "write_failed"
	dropTimeout     = "timeout"
	dropClientGone  = "client_closed"
	dropShutdown    = "shutdown"
)

// Subscription is the hub's handle on one subscriber.
type Subscription struct {
	id        string
	sub       Subscriber
	state     atomic.Int32
	closeOnce sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Subscription) State() SubscriberState { return SubscriberState(s.state.Load()) }

func (s *Subscription) disconnect() {
	s.state.Store(int32(StateDisconnected))
	s.closeOnce.Do(func() { _ = s.sub.Close() })
}

// StatsHubConfig tunes the broadcast cadence.
type StatsHubConfig struct {
	Interval     time.Duration
	WriteTimeout time.Duration
}

// StatsHub pushes aggregate snapshots to every subscriber on a fixed interval. One
// snapshot is computed per tick and fanned out concurrently; a subscriber whose push
// fails or exceeds the write timeout is disconnected and removed.
type StatsHub struct {
	source  snapshotSource
	metrics *MetricsService
	logger  *zap.Logger
	cfg     StatsHubConfig

	mu      sync.Mutex
	subs    map[string]*Subscription
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStatsHub constructs a hub. WriteTimeout is capped at Interval.
func NewStatsHub(source snapshotSource, metrics *MetricsService, logger *zap.Logger, cfg StatsHubConfig) *StatsHub {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 || cfg.WriteTimeout > cfg.Interval {
		cfg.WriteTimeout = cfg.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHub{
		source:  source,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		subs:    make(map[string]*Subscription),
	}
}

// Start launches the broadcast loop. It is a no-op when already running or stopped.
func (h *StatsHub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running || h.stopped {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.running = true
	go h.loop(loopCtx, h.done)
	h.logger.Info("stats hub started", zap.Duration("interval", h.cfg.Interval))
}

// Stop ends the broadcast loop, then disconnects and drains every subscriber.
func (h *StatsHub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	h.mu.Lock()
	remaining := make([]*Subscription, 0, len(h.subs))
	for id, s := range h.subs {
		remaining = append(remaining, s)
		delete(h.subs, id)
	}
	h.running = false
	h.mu.Unlock()

	for _, s := range remaining {
		s.disconnect()
		h.metrics.RecordDroppedSubscriber(dropShutdown)
	}
	h.metrics.SetStreamSubscribers(0)
	h.logger.Info("stats hub stopped", zap.Int("drained", len(remaining)))
}

// Subscribe pushes an initial snapshot to sub and adds it to the broadcast set. A
// failed snapshot is retried once; if it still fails the subscriber is registered
// without a push. If the initial push fails the subscriber is disconnected and an
// error is returned.
func (h *StatsHub) Subscribe(ctx context.Context, sub Subscriber) (*Subscription, error) {
	s := &Subscription{id: uuid.NewString(), sub: sub}
	s.state.Store(int32(StateConnected))

	if h.isStopped() {
		s.disconnect()
		return s, ErrHubStopped
	}

	payload, err := h.encodeSnapshot(ctx)
	if err != nil {
		// One immediate retry; after that the subscriber waits for the next tick.
		payload, err = h.encodeSnapshot(ctx)
	}
	if err != nil {
		h.logger.Warn("initial stats snapshot unavailable", zap.String("subscriber_id", s.id), zap.Error(err))
	} else if pushErr := h.push(ctx, s, payload); pushErr != nil {
		s.disconnect()
		h.metrics.RecordDroppedSubscriber(dropWriteFailed)
		return s, pushErr
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		s.disconnect()
		return s, ErrHubStopped
	}
	s.state.Store(int32(StateStreaming))
	h.subs[s.id] = s
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetStreamSubscribers(count)
	h.logger.Debug("stats subscriber added", zap.String("subscriber_id", s.id), zap.Int("subscribers", count))
	return s, nil
}

// Unsubscribe removes a subscriber after its client went away.
func (h *StatsHub) Unsubscribe(id string) {
	h.remove(id, dropClientGone)
}

// Count returns the number of streaming subscribers.
func (h *StatsHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// BroadcastOnce computes one snapshot and pushes it to every current subscriber.
// It returns the number of successful deliveries.
func (h *StatsHub) BroadcastOnce(ctx context.Context) int {
	targets := h.snapshotSubscribers()
	if len(targets) == 0 {
		return 0
	}

	payload, err := h.encodeSnapshot(ctx)
	if err != nil {
		h.logger.Warn("stats snapshot failed, skipping broadcast", zap.Error(err))
		return 0
	}

	type result struct {
		id  string
		err error
	}
	results := make(chan result, len(targets))
	for _, s := range targets {
		go func(s *Subscription) {
			results <- result{id: s.id, err: h.push(ctx, s, payload)}
		}(s)
	}

	pending := make(map[string]struct{}, len(targets))
	for _, s := range targets {
		pending[s.id] = struct{}{}
	}

	timer := time.NewTimer(h.cfg.WriteTimeout)
	defer timer.Stop()

	delivered := 0
	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.id)
			if r.err != nil {
				h.logger.Debug("stats push failed", zap.String("subscriber_id", r.id), zap.Error(r.err))
				h.remove(r.id, dropWriteFailed)
				continue
			}
			delivered++
		case <-timer.C:
			for id := range pending {
				h.remove(id, dropTimeout)
			}
			pending = nil
		}
	}

	h.metrics.RecordBroadcast()
	return delivered
}

func (h *StatsHub) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.BroadcastOnce(ctx)
		}
	}
}

func (h *StatsHub) push(ctx context.Context, s *Subscription, payload []byte) error {
	pushCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return s.sub.Send(pushCtx, payload)
}

func (h *StatsHub) encodeSnapshot(ctx context.Context) ([]byte, error) {
	snapshot, err := h.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.StatsMessage{Type: models.StatsUpdateType, Data: snapshot})
}

func (h *StatsHub) snapshotSubscribers() []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

func (h *StatsHub) remove(id, reason string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	count := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.disconnect()
	h.metrics.RecordDroppedSubscriber(reason)
	h.metrics.SetStreamSubscribers(count)
	h.logger.Debug("stats subscriber removed", zap.String("subscriber_id", id), zap.String("reason", reason))
}

func (h *StatsHub) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
