package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/db"
	"github.com/truly-network/eventlistener/pkg/events"
)

// Writer persists records with a single create-only write per record.
//
// A failed write is logged with the event's name and transaction and returned
// to the caller. It is not retried or queued; the record is lost.
type Writer struct {
	store  db.Store
	tables db.TableNames
	logger *zap.Logger
}

func NewWriter(store db.Store, tables db.TableNames, logger *zap.Logger) *Writer {
	return &Writer{store: store, tables: tables, logger: logger}
}

// TableFor returns the table rec is written to.
func (w *Writer) TableFor(rec events.Record) string {
	return events.TableFor(w.tables, rec.Kind())
}

// Write issues exactly one CreateItem for rec.
func (w *Writer) Write(ctx context.Context, rec events.Record) error {
	table := w.TableFor(rec)

	start := time.Now()
	err := w.store.CreateItem(ctx, table, rec.Item())
	WriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		WritesTotal.WithLabelValues(table, "error").Inc()
		w.logger.Error("PutItem failed",
			zap.String("eventName", rec.Name()),
			zap.String("transaction", rec.Transaction()),
			zap.Int64("eventID", rec.ID()),
			zap.String("table", table),
			zap.Error(err))
		return fmt.Errorf("write %s event from %s: %w", rec.Name(), rec.Transaction(), err)
	}

	WritesTotal.WithLabelValues(table, "ok").Inc()
	w.logger.Info("PutItem succeeded",
		zap.String("eventName", rec.Name()),
		zap.Int64("eventID", rec.ID()),
		zap.String("table", table))
	return nil
}
