package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/events"
)

// Notifier is told about every record that was written successfully.
// Implementations must be best-effort and never block for long.
type Notifier interface {
	Notify(ctx context.Context, table string, rec events.Record) error
}

// Pipeline classifies one raw event and writes the resulting record.
type Pipeline struct {
	Classifier *events.Classifier
	Writer     *Writer
	Notifier   Notifier // optional
	Stats      *Stats
	Logger     *zap.Logger
}

// Handle runs classify, write and notify for raw. The returned error is the
// write error, already logged by the Writer; callers only need it for tests.
func (p *Pipeline) Handle(ctx context.Context, raw events.RawEvent) error {
	rec := p.Classifier.Classify(raw)
	EventsReceived.WithLabelValues(rec.Kind().String()).Inc()
	p.Stats.classified(raw.Name, rec.Kind())

	p.Logger.Debug("Event classified",
		zap.String("eventName", raw.Name),
		zap.String("transaction", raw.TransactionHash),
		zap.Uint64("block", raw.BlockNumber),
		zap.Stringer("kind", rec.Kind()),
		zap.Int64("eventID", rec.ID()))

	if err := p.Writer.Write(ctx, rec); err != nil {
		p.Stats.failed.Inc()
		return err
	}
	p.Stats.written.Inc()

	if p.Notifier != nil {
		if err := p.Notifier.Notify(ctx, p.Writer.TableFor(rec), rec); err != nil {
			p.Logger.Warn("Failed to publish stored event",
				zap.String("eventName", rec.Name()),
				zap.Int64("eventID", rec.ID()),
				zap.Error(err))
			return nil
		}
		p.Stats.published.Inc()
	}
	return nil
}
