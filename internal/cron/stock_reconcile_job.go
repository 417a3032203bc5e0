package cron

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/internal/stock"
	"github.com/stockyardhq/stockyard-backend/pkg/logger"
)

// StockReconcileJobParams configure the allocated counter reconciliation.
type StockReconcileJobParams struct {
	Logger *logger.Logger
	DB     txRunner
}

// NewStockReconcileJob builds the cron job that repairs the denormalized
// quantity_allocated cache on stock rows. The allocation rows are the source
// of truth; the cache only exists so list views avoid the aggregate.
func NewStockReconcileJob(params StockReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	return &stockReconcileJob{logg: params.Logger, db: params.DB}, nil
}

type stockReconcileJob struct {
	logg *logger.Logger
	db   txRunner
}

func (j *stockReconcileJob) Name() string { return "stock-reconcile" }

func (j *stockReconcileJob) Run(ctx context.Context) error {
	corrected := 0
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := stock.NewRepository(tx)
		drift, err := repo.AllocationDrift(ctx)
		if err != nil {
			return fmt.Errorf("query allocation drift: %w", err)
		}
		for _, d := range drift {
			if err := repo.SetAllocatedCounter(ctx, d.StockID, d.Actual); err != nil {
				return fmt.Errorf("correct stock %d: %w", d.StockID, err)
			}
			driftCtx := j.logg.WithFields(ctx, map[string]any{
				"stock_id": d.StockID,
				"cached":   d.Cached,
				"actual":   d.Actual,
			})
			j.logg.Warn(driftCtx, "allocated counter drift corrected")
		}
		corrected = len(drift)
		return nil
	})
	if err != nil {
		return err
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": corrected})
	j.logg.Info(logCtx, "stock reconcile complete")
	return nil
}
