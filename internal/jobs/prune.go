package jobs

import (
	"context"

	"go.uber.org/zap"
)

// Pruner — всё, что умеет вычистить сгоревшие записи у всех арендаторов.
type Pruner interface {
	PruneAll(ctx context.Context) (int, error)
}

// PruneJob — периодическая чистка журнала: баллы сгорают и без новых загрузок.
func PruneJob(p Pruner, log *zap.Logger) Job {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context) error {
		n, err := p.PruneAll(ctx)
		pruneExpired.Add(float64(n))
		if n > 0 {
			log.Info("expired ledger entries pruned", zap.Int("entries", n))
		}
		if err != nil {
			pruneFailedRuns.Inc()
		}
		return err
	}
}
