package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/truly-network/eventlistener/pkg/chain"
	"github.com/truly-network/eventlistener/pkg/events"
	"github.com/truly-network/eventlistener/pkg/ingest"
	"github.com/truly-network/eventlistener/pkg/retry"
)

type fakeHandle struct {
	done   chan struct{}
	closed atomic.Int32
	once   sync.Once
	err    error
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Close() {
	h.closed.Add(1)
	h.once.Do(func() { close(h.done) })
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error            { return h.err }

// drop simulates the transport going away.
func (h *fakeHandle) drop(err error) {
	h.err = err
	h.once.Do(func() { close(h.done) })
}

type fakeSource struct {
	mu       sync.Mutex
	failures int
	calls    int
	origin   chain.Origin
	onEvent  chain.EventFunc
	handle   *fakeHandle
}

func (s *fakeSource) Subscribe(_ context.Context, origin chain.Origin, onEvent chain.EventFunc) (chain.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	s.origin = origin
	s.onEvent = onEvent
	s.handle = newFakeHandle()
	return s.handle, nil
}

type fakeDispatcher struct {
	mu  sync.Mutex
	got []events.RawEvent
}

func (d *fakeDispatcher) Dispatch(raw events.RawEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, raw)
}

func (d *fakeDispatcher) events() []events.RawEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]events.RawEvent(nil), d.got...)
}

var fastRetry = retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestStartSubscribesOnce(t *testing.T) {
	source := &fakeSource{}
	rec := &stateRecorder{}
	m := NewManager(source, &fakeDispatcher{}, zaptest.NewLogger(t),
		WithOrigin(chain.OriginGenesis), WithRetry(fastRetry), OnStateChange(rec.record))

	assert.Equal(t, Disconnected, m.State())
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, Subscribed, m.State())
	assert.Equal(t, chain.OriginGenesis, source.origin)

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, 1, source.calls)

	m.Close()
	assert.Equal(t, []State{Connecting, Subscribed, Disconnected}, rec.all())
}

func TestEventsAreDispatchedAndErrorsSkipped(t *testing.T) {
	source := &fakeSource{}
	dispatcher := &fakeDispatcher{}
	stats := ingest.NewStats()
	m := NewManager(source, dispatcher, zaptest.NewLogger(t), WithRetry(fastRetry), WithStats(stats))
	require.NoError(t, m.Start(context.Background()))
	defer m.Close()

	source.onEvent(events.RawEvent{Name: "Transfer", SubjectID: "1"}, nil)
	source.onEvent(events.RawEvent{}, errors.New("decode log: bad data"))
	source.onEvent(events.RawEvent{Name: "Paused"}, nil)

	got := dispatcher.events()
	require.Len(t, got, 2)
	assert.Equal(t, "Transfer", got[0].Name)
	assert.Equal(t, "Paused", got[1].Name)
	assert.Equal(t, Subscribed, m.State())
	assert.Equal(t, int64(1), stats.Snapshot().TransportErrors)
}

func TestCloseIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	dispatcher := &fakeDispatcher{}
	m := NewManager(source, dispatcher, zaptest.NewLogger(t), WithRetry(fastRetry))
	require.NoError(t, m.Start(context.Background()))

	m.Close()
	m.Close()

	assert.Equal(t, int32(1), source.handle.closed.Load())
	assert.Equal(t, Disconnected, m.State())

	source.onEvent(events.RawEvent{Name: "Transfer"}, nil)
	assert.Empty(t, dispatcher.events())
}

func TestCloseBeforeStart(t *testing.T) {
	source := &fakeSource{}
	m := NewManager(source, &fakeDispatcher{}, zaptest.NewLogger(t), WithRetry(fastRetry))
	m.Close()

	err := m.Start(context.Background())
	assert.Error(t, err)
	assert.Zero(t, source.calls)
	assert.Equal(t, Disconnected, m.State())
}

func TestStartRetriesDial(t *testing.T) {
	source := &fakeSource{failures: 2}
	m := NewManager(source, &fakeDispatcher{}, zaptest.NewLogger(t), WithRetry(fastRetry))
	require.NoError(t, m.Start(context.Background()))
	defer m.Close()

	assert.Equal(t, 3, source.calls)
	assert.Equal(t, Subscribed, m.State())
}

func TestStartGivesUp(t *testing.T) {
	source := &fakeSource{failures: 10}
	m := NewManager(source, &fakeDispatcher{}, zaptest.NewLogger(t), WithRetry(fastRetry))

	err := m.Start(context.Background())
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, Disconnected, m.State())
}

func TestTransportClosureDisconnects(t *testing.T) {
	source := &fakeSource{}
	m := NewManager(source, &fakeDispatcher{}, zaptest.NewLogger(t), WithRetry(fastRetry))
	require.NoError(t, m.Start(context.Background()))

	source.handle.drop(errors.New("websocket: close 1006"))

	assert.Eventually(t, func() bool { return m.State() == Disconnected }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, source.calls, "no reconnect")

	m.Close()
	assert.Equal(t, int32(1), source.handle.closed.Load())
}
