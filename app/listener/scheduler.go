package listener

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// SetupScheduler registers the periodic stats summary.
func (a *App) SetupScheduler(cronSpec string) error {
	logger := cronLogger{logger: a.Logger.Sugar()}
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))
	a.CronSpec = cronSpec

	_, err := a.Cron.AddFunc(cronSpec, a.LogStats)
	return err
}

// LogStats writes one summary line of the ingestion counters.
func (a *App) LogStats() {
	snap := a.Stats.Snapshot()
	a.Logger.Info("Ingestion stats",
		zap.String("state", a.Manager.State().String()),
		zap.Int64("received", snap.Received),
		zap.Int64("subject", snap.Subject),
		zap.Int64("system", snap.System),
		zap.Int64("written", snap.Written),
		zap.Int64("failed", snap.Failed),
		zap.Int64("published", snap.Published),
		zap.Int64("transportErrors", snap.TransportErrors),
		zap.Int64("running", a.Dispatcher.Running()))
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("Stats cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron stops the scheduler and waits for a running job.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}
