package ingest

import (
	"context"
	"math"
	"runtime/debug"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/events"
)

// Handler processes a single raw event.
type Handler interface {
	Handle(ctx context.Context, raw events.RawEvent) error
}

// Dispatcher runs every event on its own task so the subscription never waits
// for a write. Tasks are independent: there is no ordering between them.
type Dispatcher struct {
	ctx     context.Context
	handler Handler
	pool    pond.Pool
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. maxInFlight <= 0 leaves concurrency
// unbounded; a positive value caps concurrent tasks while queueing the rest.
func NewDispatcher(ctx context.Context, handler Handler, maxInFlight int, logger *zap.Logger) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = math.MaxInt
	}
	return &Dispatcher{
		ctx:     ctx,
		handler: handler,
		pool:    pond.NewPool(maxInFlight, pond.WithContext(ctx)),
		logger:  logger,
	}
}

// Dispatch schedules raw and returns immediately.
func (d *Dispatcher) Dispatch(raw events.RawEvent) {
	d.pool.Submit(func() {
		InFlight.Inc()
		defer InFlight.Dec()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("Panic while handling event",
					zap.String("eventName", raw.Name),
					zap.String("transaction", raw.TransactionHash),
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())))
			}
		}()
		_ = d.handler.Handle(d.ctx, raw)
	})
}

// Running returns the number of tasks currently executing.
func (d *Dispatcher) Running() int64 { return d.pool.RunningWorkers() }

// Stop stops accepting events. In-flight tasks are not awaited.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// StopAndWait stops accepting events and waits for in-flight tasks.
func (d *Dispatcher) StopAndWait() {
	d.pool.StopAndWait()
}
