package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Restore loads checkpointed lineages so report numbers survive a restart.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	lineages, err := e.store.LoadLineages(ctx)
	if err != nil {
		return 0, err
	}
	restored, skipped := e.dedup.Restore(lineages)
	for _, err := range skipped {
		if e.metrics != nil {
			e.metrics.InvariantViolations.Inc()
		}
		if e.logger != nil {
			e.logger.Warn("checkpointed lineage skipped", "error", err)
		}
	}
	if e.metrics != nil {
		e.metrics.Lineages.Set(float64(e.dedup.Len()))
	}
	if e.logger != nil {
		e.logger.Info("lineages restored", "restored", restored, "loaded", len(lineages))
	}
	return restored, nil
}

// Collect evicts idle lineages. Evicted ids are deleted from the store on
// the next checkpoint.
func (e *Engine) Collect() int {
	removed := e.dedup.Sweep()
	e.queueDeletes(removed)
	if e.metrics != nil {
		e.metrics.Lineages.Set(float64(e.dedup.Len()))
	}
	if len(removed) > 0 && e.logger != nil {
		e.logger.Debug("lineages expired", "count", len(removed))
	}
	return len(removed)
}

// Checkpoint writes every live lineage and deletes evicted ones.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.SaveLineages(ctx, e.dedup.Snapshot()); err != nil {
		return err
	}
	e.pendingMu.Lock()
	ids := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	if err := e.store.DeleteLineages(ctx, ids); err != nil {
		e.queueDeletes(ids)
		return err
	}
	return nil
}

func (e *Engine) queueDeletes(ids []string) {
	if len(ids) == 0 {
		return
	}
	e.pendingMu.Lock()
	e.pending = append(e.pending, ids...)
	e.pendingMu.Unlock()
}

// StartMaintenance schedules lineage GC and checkpoints until ctx is done,
// then writes a final checkpoint. The returned channel closes once that
// flush has finished.
func (e *Engine) StartMaintenance(ctx context.Context) (<-chan struct{}, error) {
	cfg := e.Config()
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(cfg.Dedup.GCSchedule, func() { e.Collect() }); err != nil {
		return nil, err
	}
	if e.store != nil {
		if _, err := c.AddFunc(cfg.Storage.CheckpointSchedule, func() {
			if err := e.Checkpoint(ctx); err != nil && e.logger != nil {
				e.logger.Warn("checkpoint failed", "error", err)
			}
		}); err != nil {
			return nil, err
		}
	}
	c.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		<-c.Stop().Done()
		e.Collect()
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Checkpoint(flushCtx); err != nil && e.logger != nil {
			e.logger.Error("final checkpoint failed", "error", err)
		}
	}()
	return done, nil
}
