package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
	"github.com/stockyardhq/stockyard-backend/pkg/logger"
)

const defaultRelayBatchSize = 100

type outboxDrain interface {
	FetchUnpublished(limit int) ([]models.OutboxEvent, error)
	MarkPublished(id int64) error
	MarkFailed(id int64, err error) error
}

type eventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload []byte) error
}

// OutboxRelayJobParams configure the outbox drain.
type OutboxRelayJobParams struct {
	Logger    *logger.Logger
	Outbox    outboxDrain
	Publisher eventPublisher
	BatchSize int
}

// NewOutboxRelayJob builds the cron job that fans queued outbox rows out to
// the event channels. A row that fails to publish keeps its attempt count and
// last error and is retried on the next cycle.
func NewOutboxRelayJob(params OutboxRelayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultRelayBatchSize
	}
	return &outboxRelayJob{
		logg:      params.Logger,
		outbox:    params.Outbox,
		publisher: params.Publisher,
		batchSize: batchSize,
	}, nil
}

type outboxRelayJob struct {
	logg      *logger.Logger
	outbox    outboxDrain
	publisher eventPublisher
	batchSize int
}

func (j *outboxRelayJob) Name() string { return "outbox-relay" }

func (j *outboxRelayJob) Run(ctx context.Context) error {
	rows, err := j.outbox.FetchUnpublished(j.batchSize)
	if err != nil {
		return fmt.Errorf("fetch unpublished events: %w", err)
	}

	published := 0
	var errs []error
	for _, row := range rows {
		if err := j.publisher.PublishEvent(ctx, string(row.EventType), row.Payload); err != nil {
			errs = append(errs, fmt.Errorf("publish event %d: %w", row.ID, err))
			if markErr := j.outbox.MarkFailed(row.ID, err); markErr != nil {
				errs = append(errs, fmt.Errorf("mark event %d failed: %w", row.ID, markErr))
			}
			continue
		}
		if err := j.outbox.MarkPublished(row.ID); err != nil {
			errs = append(errs, fmt.Errorf("mark event %d published: %w", row.ID, err))
			continue
		}
		published++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": published})
	j.logg.Info(logCtx, "outbox relay complete")
	return multierr.Combine(errs...)
}
