package listener

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/logging"
)

// Closer is the long-lived connection the lifecycle tears down first.
type Closer interface {
	Close()
}

// shutdownTimeout bounds each shutdown hook.
const shutdownTimeout = 10 * time.Second

// Lifecycle turns SIGINT or SIGTERM into an orderly exit with status 0.
type Lifecycle struct {
	logger *zap.Logger
	conn   Closer
	exit   func(int)

	signals  chan os.Signal
	hooks    []func(context.Context)
	once     sync.Once
	shutting atomic.Bool
}

// NewLifecycle returns a Lifecycle closing conn on shutdown and then calling exit.
func NewLifecycle(logger *zap.Logger, conn Closer, exit func(int)) *Lifecycle {
	return &Lifecycle{
		logger:  logger,
		conn:    conn,
		exit:    exit,
		signals: make(chan os.Signal, 1),
	}
}

// OnShutdown registers fn to run after the connection is closed, in order.
func (l *Lifecycle) OnShutdown(fn func(ctx context.Context)) {
	l.hooks = append(l.hooks, fn)
}

// ShuttingDown reports whether Shutdown has begun.
func (l *Lifecycle) ShuttingDown() bool { return l.shutting.Load() }

// Watch blocks until SIGINT or SIGTERM arrives, then shuts down. It returns
// without shutting down if ctx is cancelled first.
func (l *Lifecycle) Watch(ctx context.Context) {
	signal.Notify(l.signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(l.signals)

	select {
	case sig := <-l.signals:
		l.logger.Info("Received " + signalName(sig))
		l.Shutdown()
	case <-ctx.Done():
	}
}

// Shutdown closes the connection, runs the hooks, flushes the logger and
// exits with status 0. Only the first call has any effect.
func (l *Lifecycle) Shutdown() {
	l.once.Do(func() {
		l.shutting.Store(true)
		l.logger.Info("Shutting down...")

		l.conn.Close()

		for _, hook := range l.hooks {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			hook(ctx)
			cancel()
		}

		l.logger.Info("さようなら!")
		logging.Flush(l.logger)
		l.exit(0)
	})
}

func signalName(sig os.Signal) string {
	switch sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return sig.String()
	}
}
