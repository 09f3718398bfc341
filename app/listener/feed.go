package listener

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	// allKinds subscribes a client to every record kind.
	allKinds = "*"
)

// ClientMessage represents messages sent by feed clients.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Kind   string `json:"kind"`   // "subject", "system" or "*"
}

// ServerMessage represents messages sent to feed clients.
type ServerMessage struct {
	Type    string      `json:"type"` // "event.stored", "subscribed", "unsubscribed", "error"
	Payload interface{} `json:"payload"`
}

// kindFilter tracks which record kinds a client receives. New clients get all kinds.
type kindFilter struct {
	mu    sync.RWMutex
	kinds map[string]bool
}

func newKindFilter() *kindFilter {
	return &kindFilter{kinds: map[string]bool{allKinds: true}}
}

func (f *kindFilter) subscribe(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds[kind] = true
}

func (f *kindFilter) unsubscribe(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == allKinds {
		clear(f.kinds)
		return
	}
	delete(f.kinds, kind)
	if f.kinds[allKinds] {
		// narrowing "*" keeps the remaining kinds
		delete(f.kinds, allKinds)
		for _, k := range []string{events.KindSubject.String(), events.KindSystem.String()} {
			if k != kind {
				f.kinds[k] = true
			}
		}
	}
}

func (f *kindFilter) matches(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.kinds[allKinds] || f.kinds[kind]
}

func validKind(kind string) bool {
	return kind == allKinds || kind == events.KindSubject.String() || kind == events.KindSystem.String()
}

// HandleFeed upgrades the request to a websocket and streams stored records
// relayed from the Redis event.stored channel.
//
// Client sends: {"action": "subscribe", "kind": "subject"}
// Server sends: {"type": "event.stored", "payload": {...}}
func (a *App) HandleFeed(w http.ResponseWriter, r *http.Request) {
	if a.Redis == nil {
		http.Error(w, "Live feed not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			a.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	a.Logger.Info("Feed client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// unblocks ReadJSON once any goroutine gives up on the client
	defer closeWhenDone(ctx, conn)()

	filter := newKindFilter()
	send := make(chan ServerMessage, 256)
	var wg sync.WaitGroup

	guard := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					a.Logger.Error("Panic in feed goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("remote_addr", r.RemoteAddr))
					cancel()
				}
			}()
			fn()
		}()
	}

	guard("relay", func() { a.relayStored(ctx, send, filter) })
	guard("ping", func() { a.sendPings(ctx, conn) })
	guard("writer", func() {
		a.writeMessages(ctx, conn, send)
		cancel()
	})

	a.readClientMessages(ctx, conn, cancel, filter, send)

	cancel()
	wg.Wait()

	a.Logger.Info("Feed client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// closeWhenDone closes c as soon as ctx ends. The returned func cancels that.
func closeWhenDone(ctx context.Context, c io.Closer) func() bool {
	return context.AfterFunc(ctx, func() { _ = c.Close() })
}

// relayStored forwards notifications from Redis to send until ctx ends.
func (a *App) relayStored(ctx context.Context, send chan<- ServerMessage, filter *kindFilter) {
	channel := events.GetStoredChannel(a.Config.NetworkID)
	pubsub := a.Redis.Subscribe(ctx, channel)
	defer func() { _ = pubsub.Close() }()

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		a.Logger.Warn("Failed to confirm Redis subscription", zap.String("channel", channel), zap.Error(err))
		select {
		case send <- ServerMessage{Type: "error", Payload: map[string]string{"message": "live feed unavailable"}}:
		case <-ctx.Done():
		}
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				a.Logger.Error("Failed to parse Redis message", zap.Error(err), zap.String("channel", msg.Channel))
				continue
			}
			kind, _ := payload["kind"].(string)
			if !filter.matches(kind) {
				continue
			}
			select {
			case send <- ServerMessage{Type: events.EventStoredType, Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
func (a *App) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				a.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages is the only writer of data frames on conn.
func (a *App) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				a.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

func (a *App) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, filter *kindFilter, send chan<- ServerMessage) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	reply := func(msg ServerMessage) bool {
		select {
		case send <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				a.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !validKind(msg.Kind) {
			if !reply(ServerMessage{Type: "error", Payload: map[string]string{"message": "kind must be subject, system or *"}}) {
				return
			}
			continue
		}

		var out ServerMessage
		switch msg.Action {
		case "subscribe":
			filter.subscribe(msg.Kind)
			out = ServerMessage{Type: "subscribed", Payload: map[string]string{"kind": msg.Kind}}
		case "unsubscribe":
			filter.unsubscribe(msg.Kind)
			out = ServerMessage{Type: "unsubscribed", Payload: map[string]string{"kind": msg.Kind}}
		default:
			out = ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
		}
		if !reply(out) {
			return
		}
	}
}
