package ingest

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/truly-network/eventlistener/pkg/events"
)

// Stats counts ingestion outcomes since process start. Safe for concurrent use.
type Stats struct {
	started time.Time

	byName          *xsync.Map[string, *xsync.Counter]
	subject         *xsync.Counter
	system          *xsync.Counter
	written         *xsync.Counter
	failed          *xsync.Counter
	published       *xsync.Counter
	transportErrors *xsync.Counter
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Since           time.Time        `json:"since"`
	Received        int64            `json:"received"`
	ByName          map[string]int64 `json:"byName"`
	Subject         int64            `json:"subject"`
	System          int64            `json:"system"`
	Written         int64            `json:"written"`
	Failed          int64            `json:"failed"`
	Published       int64            `json:"published"`
	TransportErrors int64            `json:"transportErrors"`
}

func NewStats() *Stats {
	return &Stats{
		started:         time.Now().UTC(),
		byName:          xsync.NewMap[string, *xsync.Counter](),
		subject:         xsync.NewCounter(),
		system:          xsync.NewCounter(),
		written:         xsync.NewCounter(),
		failed:          xsync.NewCounter(),
		published:       xsync.NewCounter(),
		transportErrors: xsync.NewCounter(),
	}
}

func (s *Stats) classified(name string, kind events.Kind) {
	c, _ := s.byName.LoadOrStore(name, xsync.NewCounter())
	c.Inc()
	if kind == events.KindSubject {
		s.subject.Inc()
	} else {
		s.system.Inc()
	}
}

// TransportError records an error delivered by the subscription.
func (s *Stats) TransportError() { s.transportErrors.Inc() }

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Since:           s.started,
		ByName:          make(map[string]int64, s.byName.Size()),
		Subject:         s.subject.Value(),
		System:          s.system.Value(),
		Written:         s.written.Value(),
		Failed:          s.failed.Value(),
		Published:       s.published.Value(),
		TransportErrors: s.transportErrors.Value(),
	}
	s.byName.Range(func(name string, c *xsync.Counter) bool {
		snap.ByName[name] = c.Value()
		return true
	})
	snap.Received = snap.Subject + snap.System
	return snap
}
