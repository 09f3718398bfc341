package listener

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/truly-network/eventlistener/pkg/chain"
	"github.com/truly-network/eventlistener/pkg/config"
	"github.com/truly-network/eventlistener/pkg/db"
	"github.com/truly-network/eventlistener/pkg/db/memory"
	"github.com/truly-network/eventlistener/pkg/events"
	"github.com/truly-network/eventlistener/pkg/ingest"
	"github.com/truly-network/eventlistener/pkg/redis"
	"github.com/truly-network/eventlistener/pkg/retry"
	"github.com/truly-network/eventlistener/pkg/subscription"
)

const testNetworkID = 1669986775736

type stubHandle struct {
	done chan struct{}
	once sync.Once
}

func (h *stubHandle) Close()                { h.once.Do(func() { close(h.done) }) }
func (h *stubHandle) Done() <-chan struct{} { return h.done }
func (h *stubHandle) Err() error            { return nil }

// stubSource hands out a handle and keeps the callback so tests can emit events.
type stubSource struct {
	mu      sync.Mutex
	onEvent chain.EventFunc
}

func (s *stubSource) Subscribe(_ context.Context, _ chain.Origin, onEvent chain.EventFunc) (chain.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = onEvent
	return &stubHandle{done: make(chan struct{})}, nil
}

func (s *stubSource) emit(raw events.RawEvent) {
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	fn(raw, nil)
}

func newTestApp(t *testing.T, logger *zap.Logger) (*App, *stubSource, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Config{
		Environment: config.EnvDevelopment,
		NetworkID:   testNetworkID,
		Tables:      db.TableNames{EventsByToken: "eventsByToken", EventsSystem: "eventsSystem"},
		Addr:        ":0",
		StatsCron:   "0 */1 * * * *",
	}

	store := memory.NewStore()
	for _, def := range db.EventTables(cfg.Tables) {
		require.NoError(t, store.CreateTable(ctx, def))
	}
	classifier, err := events.NewClassifier(events.DefaultShard)
	require.NoError(t, err)

	stats := ingest.NewStats()
	pipeline := &ingest.Pipeline{
		Classifier: classifier,
		Writer:     ingest.NewWriter(store, cfg.Tables, logger),
		Stats:      stats,
		Logger:     logger,
	}
	dispatcher := ingest.NewDispatcher(ctx, pipeline, 0, logger)
	source := &stubSource{}
	manager := subscription.NewManager(source, dispatcher, logger,
		subscription.WithStats(stats),
		subscription.WithRetry(retry.Config{MaxRetries: 1}))

	app := &App{
		Config:     cfg,
		Store:      store,
		Stats:      stats,
		Dispatcher: dispatcher,
		Manager:    manager,
		Logger:     logger,
	}
	require.NoError(t, app.SetupScheduler(cfg.StatsCron))
	app.SetupServer()
	t.Cleanup(func() {
		manager.Close()
		dispatcher.StopAndWait()
	})
	return app, source, store
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	app, _, _ := newTestApp(t, zaptest.NewLogger(t))
	router := app.NewRouter()

	assert.Equal(t, http.StatusOK, get(t, router, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/readyz").Code)

	require.NoError(t, app.Manager.Start(context.Background()))
	assert.Equal(t, http.StatusOK, get(t, router, "/readyz").Code)

	app.Manager.Close()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, router, "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/healthz").Code)
}

func TestStatsEndpoint(t *testing.T) {
	app, source, store := newTestApp(t, zaptest.NewLogger(t))
	require.NoError(t, app.Manager.Start(context.Background()))

	source.emit(events.RawEvent{Name: "Transfer", TransactionHash: "0x1", SubjectID: "9"})
	source.emit(events.RawEvent{Name: "Paused", TransactionHash: "0x2"})

	require.Eventually(t, func() bool {
		return app.Stats.Snapshot().Written == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, store.Items("eventsByToken"), 1)
	assert.Len(t, store.Items("eventsSystem"), 1)

	rec := get(t, app.NewRouter(), "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "subscribed", body.State)
	assert.Equal(t, int64(2), body.Received)
	assert.Equal(t, int64(1), body.Subject)
	assert.Equal(t, int64(1), body.System)
	assert.Equal(t, int64(1), body.ByName["Transfer"])
}

func TestMetricsEndpoint(t *testing.T) {
	app, _, _ := newTestApp(t, zaptest.NewLogger(t))
	rec := get(t, app.NewRouter(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "eventlistener_transport_errors_total")
	assert.Contains(t, string(body), "eventlistener_subscription_state")
}

func TestFeedUnavailableWithoutRedis(t *testing.T) {
	app, _, _ := newTestApp(t, zaptest.NewLogger(t))
	assert.Equal(t, http.StatusServiceUnavailable, get(t, app.NewRouter(), "/ws").Code)
}

func TestLogStats(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	app, _, _ := newTestApp(t, zap.New(core))
	app.LogStats()

	entries := logs.FilterMessage("Ingestion stats").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "disconnected", entries[0].ContextMap()["state"])

	assert.Error(t, app.SetupScheduler("not a cron spec"))
}

func TestKindFilter(t *testing.T) {
	f := newKindFilter()
	assert.True(t, f.matches("subject"))
	assert.True(t, f.matches("system"))

	f.unsubscribe("subject")
	assert.False(t, f.matches("subject"))
	assert.True(t, f.matches("system"))

	f.unsubscribe("*")
	assert.False(t, f.matches("system"))

	f.subscribe("subject")
	assert.True(t, f.matches("subject"))
	assert.False(t, f.matches("system"))

	assert.True(t, validKind("*"))
	assert.False(t, validKind("token"))
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseWhenDone(t *testing.T) {
	closed := make(chan struct{}, 2)
	c := closerFunc(func() error {
		closed <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	closeWhenDone(ctx, c)
	assert.Empty(t, closed)
	cancel()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after cancel")
	}

	ctx, cancel = context.WithCancel(context.Background())
	stop := closeWhenDone(ctx, c)
	assert.True(t, stop())
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, closed)
}

func TestFeedRelaysStoredRecords(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)
	app, _, _ := newTestApp(t, logger)
	app.Redis = redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), logger)
	publisher := redis.NewPublisher(app.Redis, testNetworkID)

	srv := httptest.NewServer(app.NewRouter())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(publisher.Channel())[publisher.Channel()] > 0
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	subject := &events.SubjectRecord{SubjectID: "42", EventID: 1, EventName: "Transfer", TxHash: "0xa"}
	require.NoError(t, publisher.Notify(ctx, "eventsByToken", subject))

	msg := readMessage(t, conn)
	assert.Equal(t, events.EventStoredType, msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "subject", payload["kind"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "unsubscribe", Kind: "subject"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "unsubscribed", msg.Type)

	require.NoError(t, publisher.Notify(ctx, "eventsByToken", subject))
	system := &events.SystemRecord{EventID: 2, EventName: "Paused", TxHash: "0xb"}
	require.NoError(t, publisher.Notify(ctx, "eventsSystem", system))

	msg = readMessage(t, conn)
	assert.Equal(t, events.EventStoredType, msg.Type)
	assert.Equal(t, "system", msg.Payload.(map[string]interface{})["kind"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", Kind: "token"}))
	assert.Equal(t, "error", readMessage(t, conn).Type)
}
