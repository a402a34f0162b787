package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobStore is the persistence surface the janitor needs.
type JobStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically purges removal job records past their retention window.
type Janitor struct {
	store     JobStore
	retention time.Duration
	logger    *zap.Logger
	cron      *cron.Cron
}

// New builds a janitor that keeps job records for the given retention window.
func New(store JobStore, retention time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		store:     store,
		retention: retention,
		logger:    logger.Named("janitor"),
		cron:      cron.New(),
	}
}

// Start schedules the hourly cleanup. It returns immediately; the cron
// scheduler runs sweeps on its own goroutine.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@hourly", j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.retention)
	deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("purged expired job records",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}
