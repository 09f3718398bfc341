package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/chain"
	"github.com/truly-network/eventlistener/pkg/events"
	"github.com/truly-network/eventlistener/pkg/ingest"
	"github.com/truly-network/eventlistener/pkg/retry"
)

// State of the contract event subscription.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by a second Start. A process holds one subscription.
var ErrAlreadyStarted = errors.New("subscription already started")

// Dispatcher accepts decoded events for processing. Dispatch must not block.
type Dispatcher interface {
	Dispatch(raw events.RawEvent)
}

type Option func(*Manager)

// WithOrigin sets the block events are delivered from. Default chain.OriginLatest.
func WithOrigin(o chain.Origin) Option { return func(m *Manager) { m.origin = o } }

// WithRetry sets the backoff used for the startup connection.
func WithRetry(cfg retry.Config) Option { return func(m *Manager) { m.retry = cfg } }

func WithStats(s *ingest.Stats) Option { return func(m *Manager) { m.stats = s } }

// OnStateChange registers fn to be called on every state transition.
func OnStateChange(fn func(State)) Option { return func(m *Manager) { m.onStateChange = fn } }

// Manager owns the single long-lived event subscription. It hands every event
// to the dispatcher and logs transport errors without stopping.
type Manager struct {
	source     chain.Source
	dispatcher Dispatcher
	logger     *zap.Logger

	origin        chain.Origin
	retry         retry.Config
	stats         *ingest.Stats
	onStateChange func(State)

	state   atomic.Int32
	started atomic.Bool
	closed  atomic.Bool

	mu        sync.Mutex
	handle    chain.Handle
	closeOnce sync.Once
}

func NewManager(source chain.Source, dispatcher Dispatcher, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		source:     source,
		dispatcher: dispatcher,
		logger:     logger,
		origin:     chain.OriginLatest,
		retry:      retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	ingest.SubscriptionState.Set(float64(s))
	m.logger.Debug("Subscription state changed", zap.Stringer("state", s))
	if m.onStateChange != nil {
		m.onStateChange(s)
	}
}

// Start opens the subscription, retrying the connection with backoff.
// It returns once the subscription is live or the retries are exhausted.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	m.setState(Connecting)

	var h chain.Handle
	err := retry.WithBackoff(ctx, m.retry, m.logger, "subscribe to contract events", func() error {
		if m.closed.Load() {
			return retry.Permanent(errors.New("subscription closed"))
		}
		var err error
		h, err = m.source.Subscribe(ctx, m.origin, m.onEvent)
		return err
	})
	if err != nil {
		m.setState(Disconnected)
		return err
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		h.Close()
		return nil
	}
	m.handle = h
	m.setState(Subscribed)
	m.mu.Unlock()

	go m.watch(h)
	return nil
}

func (m *Manager) onEvent(raw events.RawEvent, err error) {
	if m.closed.Load() {
		return
	}
	if err != nil {
		ingest.TransportErrors.Inc()
		if m.stats != nil {
			m.stats.TransportError()
		}
		m.logger.Error("Subscription error", zap.Error(err))
		return
	}
	m.logger.Debug("Event received",
		zap.String("eventName", raw.Name),
		zap.String("transaction", raw.TransactionHash),
		zap.Uint64("block", raw.BlockNumber))
	m.dispatcher.Dispatch(raw)
}

func (m *Manager) watch(h chain.Handle) {
	<-h.Done()
	if m.closed.Load() {
		return
	}
	m.logger.Error("Subscription ended, no further events will be received", zap.Error(h.Err()))
	m.setState(Disconnected)
}

// Close ends the subscription. Only the first call has any effect.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)

		m.mu.Lock()
		h := m.handle
		m.handle = nil
		m.mu.Unlock()

		if h != nil {
			h.Close()
		}
		m.setState(Disconnected)
		m.logger.Info("Subscription closed")
	})
}
