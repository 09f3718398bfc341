package listener

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/ingest"
	"github.com/truly-network/eventlistener/pkg/subscription"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	ingest.StatsSnapshot
	State   string `json:"state"`
	Running int64  `json:"running"`
}

// NewRouter returns the operations router.
func (a *App) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Ready() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")

	r.HandleFunc("/stats", a.HandleStats).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/ws", a.HandleFeed).Methods("GET")

	return r
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	a.Server = &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Ready reports whether the contract subscription is live.
func (a *App) Ready() bool {
	return a.Manager != nil && a.Manager.State() == subscription.Subscribed
}

func (a *App) HandleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		StatsSnapshot: a.Stats.Snapshot(),
		State:         a.Manager.State().String(),
		Running:       a.Dispatcher.Running(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.Logger.Error("Failed to encode stats", zap.Error(err))
	}
}
