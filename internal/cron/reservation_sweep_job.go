package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/internal/stock"
	"github.com/stockyardhq/stockyard-backend/pkg/enums"
	"github.com/stockyardhq/stockyard-backend/pkg/logger"
	"github.com/stockyardhq/stockyard-backend/pkg/outbox"
	"github.com/stockyardhq/stockyard-backend/pkg/outbox/payloads"
)

const defaultSweepBatchSize = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ReservationSweepJobParams configure the expired reservation sweep.
type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Outbox    outboxEmitter
	BatchSize int
}

// NewReservationSweepJob builds the cron job that deletes expired reservation
// rows. Availability reads already ignore expired rows; the sweep only keeps
// the tables from accumulating dead weight.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &reservationSweepJob{
		logg:      params.Logger,
		db:        params.DB,
		outbox:    params.Outbox,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type reservationSweepJob struct {
	logg      *logger.Logger
	db        txRunner
	outbox    outboxEmitter
	batchSize int
	now       func() time.Time
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.sweepStockReservations(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.sweepPreorderReservations(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *reservationSweepJob) sweepStockReservations(ctx context.Context) error {
	cutoff := j.now().UTC()
	total := 0
	for {
		removed := 0
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := stock.NewRepository(tx)
			expired, err := repo.ExpiredReservations(ctx, cutoff, j.batchSize)
			if err != nil {
				return fmt.Errorf("query expired reservations: %w", err)
			}
			if len(expired) == 0 {
				return nil
			}
			ids := make([]int64, 0, len(expired))
			byLine := make(map[uuid.UUID]int)
			for _, row := range expired {
				ids = append(ids, row.ID)
				byLine[row.CheckoutLineID] += row.QuantityReserved
			}
			if err := repo.DeleteReservationsByID(ctx, ids); err != nil {
				return fmt.Errorf("delete expired reservations: %w", err)
			}
			for lineID, quantity := range byLine {
				event := outbox.DomainEvent{
					EventType:     enums.EventReservationExpired,
					AggregateType: enums.AggregateCheckoutLine,
					AggregateID:   lineID,
					Version:       1,
					OccurredAt:    cutoff,
					Data: payloads.ReservationExpiredEvent{
						CheckoutLineID: lineID,
						Quantity:       quantity,
						ExpiredAt:      cutoff,
					},
				}
				if err := j.outbox.Emit(ctx, tx, event); err != nil {
					return fmt.Errorf("queue expiry event: %w", err)
				}
			}
			removed = len(expired)
			return nil
		})
		if err != nil {
			return err
		}
		total += removed
		if removed < j.batchSize {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": total})
	j.logg.Info(logCtx, "reservation sweep complete")
	return nil
}

func (j *reservationSweepJob) sweepPreorderReservations(ctx context.Context) error {
	cutoff := j.now().UTC()
	total := 0
	for {
		removed := 0
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := stock.NewRepository(tx)
			expired, err := repo.ExpiredPreorderReservations(ctx, cutoff, j.batchSize)
			if err != nil {
				return fmt.Errorf("query expired preorder reservations: %w", err)
			}
			if len(expired) == 0 {
				return nil
			}
			ids := make([]int64, 0, len(expired))
			byLine := make(map[uuid.UUID]int)
			for _, row := range expired {
				ids = append(ids, row.ID)
				byLine[row.CheckoutLineID] += row.QuantityReserved
			}
			if err := repo.DeletePreorderReservationsByID(ctx, ids); err != nil {
				return fmt.Errorf("delete expired preorder reservations: %w", err)
			}
			for lineID, quantity := range byLine {
				event := outbox.DomainEvent{
					EventType:     enums.EventReservationExpired,
					AggregateType: enums.AggregateCheckoutLine,
					AggregateID:   lineID,
					Version:       1,
					OccurredAt:    cutoff,
					Data: payloads.ReservationExpiredEvent{
						CheckoutLineID: lineID,
						Quantity:       quantity,
						ExpiredAt:      cutoff,
					},
				}
				if err := j.outbox.Emit(ctx, tx, event); err != nil {
					return fmt.Errorf("queue expiry event: %w", err)
				}
			}
			removed = len(expired)
			return nil
		})
		if err != nil {
			return err
		}
		total += removed
		if removed < j.batchSize {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": total})
	j.logg.Info(logCtx, "preorder reservation sweep complete")
	return nil
}
