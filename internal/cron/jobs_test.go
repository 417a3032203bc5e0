package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
	"github.com/stockyardhq/stockyard-backend/pkg/enums"
	"github.com/stockyardhq/stockyard-backend/pkg/logger"
	"github.com/stockyardhq/stockyard-backend/pkg/outbox"
)

func newJobTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cron_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Stock{},
		&models.Allocation{},
		&models.Reservation{},
		&models.PreorderReservation{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type dbTxRunner struct {
	db *gorm.DB
}

func (r dbTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestReservationSweepJobDeletesExpiredRows(t *testing.T) {
	db := newJobTestDB(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	expiredLine := uuid.New()

	rows := []models.Reservation{
		{CheckoutLineID: expiredLine, StockID: 1, QuantityReserved: 2, ReservedUntil: now.Add(-time.Minute)},
		{CheckoutLineID: expiredLine, StockID: 2, QuantityReserved: 3, ReservedUntil: now.Add(-time.Hour)},
		{CheckoutLineID: uuid.New(), StockID: 1, QuantityReserved: 4, ReservedUntil: now.Add(time.Hour)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed reservation: %v", err)
		}
	}

	sink := &recordingEmitter{}
	jobIface, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		DB:     dbTxRunner{db: db},
		Outbox: sink,
	})
	if err != nil {
		t.Fatalf("NewReservationSweepJob: %v", err)
	}
	job := jobIface.(*reservationSweepJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var remaining []models.Reservation
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("load reservations: %v", err)
	}
	if len(remaining) != 1 || remaining[0].QuantityReserved != 4 {
		t.Fatalf("expected only the active hold to survive, got %+v", remaining)
	}

	// Both expired rows belong to one checkout line; one aggregated event.
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 expiry event, got %d", len(sink.events))
	}
	event := sink.events[0]
	if event.EventType != enums.EventReservationExpired || event.AggregateID != expiredLine {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestReservationSweepJobSweepsPreorders(t *testing.T) {
	db := newJobTestDB(t)
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	rows := []models.PreorderReservation{
		{CheckoutLineID: uuid.New(), ChannelListingID: 1, QuantityReserved: 2, ReservedUntil: now.Add(-time.Minute)},
		{CheckoutLineID: uuid.New(), ChannelListingID: 1, QuantityReserved: 5, ReservedUntil: now.Add(time.Hour)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed preorder reservation: %v", err)
		}
	}

	sink := &recordingEmitter{}
	jobIface, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		DB:     dbTxRunner{db: db},
		Outbox: sink,
	})
	if err != nil {
		t.Fatalf("NewReservationSweepJob: %v", err)
	}
	job := jobIface.(*reservationSweepJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var count int64
	db.Model(&models.PreorderReservation{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 surviving preorder hold, got %d", count)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 expiry event, got %d", len(sink.events))
	}
}

func TestStockReconcileJobRepairsDriftedCounters(t *testing.T) {
	db := newJobTestDB(t)

	drifted := models.Stock{WarehouseID: uuid.New(), VariantID: uuid.New(), Quantity: 10, QuantityAllocated: 9}
	healthy := models.Stock{WarehouseID: uuid.New(), VariantID: uuid.New(), Quantity: 5, QuantityAllocated: 2}
	for _, row := range []*models.Stock{&drifted, &healthy} {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed stock: %v", err)
		}
	}
	allocations := []models.Allocation{
		{OrderLineID: uuid.New(), StockID: drifted.ID, QuantityAllocated: 3},
		{OrderLineID: uuid.New(), StockID: drifted.ID, QuantityAllocated: 1},
		{OrderLineID: uuid.New(), StockID: healthy.ID, QuantityAllocated: 2},
	}
	for i := range allocations {
		if err := db.Create(&allocations[i]).Error; err != nil {
			t.Fatalf("seed allocation: %v", err)
		}
	}

	job, err := NewStockReconcileJob(StockReconcileJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		DB:     dbTxRunner{db: db},
	})
	if err != nil {
		t.Fatalf("NewStockReconcileJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A fresh struct per lookup; gorm carries a populated struct's primary
	// key into the next query's conditions.
	var repaired models.Stock
	if err := db.First(&repaired, drifted.ID).Error; err != nil {
		t.Fatalf("load drifted stock: %v", err)
	}
	if repaired.QuantityAllocated != 4 {
		t.Fatalf("expected cache repaired to 4, got %d", repaired.QuantityAllocated)
	}
	var untouched models.Stock
	if err := db.First(&untouched, healthy.ID).Error; err != nil {
		t.Fatalf("load healthy stock: %v", err)
	}
	if untouched.QuantityAllocated != 2 {
		t.Fatalf("healthy cache must be untouched, got %d", untouched.QuantityAllocated)
	}
}

type recordingPublisher struct {
	published []string
	failType  string
}

func (p *recordingPublisher) PublishEvent(_ context.Context, eventType string, _ []byte) error {
	if eventType == p.failType {
		return errTransport
	}
	p.published = append(p.published, eventType)
	return nil
}

var errTransport = errors.New("broker unavailable")

func TestOutboxRelayJobPublishesAndMarksRows(t *testing.T) {
	db := newJobTestDB(t)
	publishedAt := time.Now().Add(-time.Hour)

	rows := []models.OutboxEvent{
		{EventType: enums.EventStockReserved, AggregateType: enums.AggregateCheckoutLine, AggregateID: uuid.New(), Payload: json.RawMessage(`{"version":1}`)},
		{EventType: enums.EventStockDecreased, AggregateType: enums.AggregateStock, AggregateID: uuid.New(), Payload: json.RawMessage(`{"version":1}`)},
		{EventType: enums.EventStockAllocated, AggregateType: enums.AggregateOrderLine, AggregateID: uuid.New(), Payload: json.RawMessage(`{"version":1}`), PublishedAt: &publishedAt},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed outbox event: %v", err)
		}
	}

	sink := &recordingPublisher{failType: string(enums.EventStockDecreased)}
	job, err := NewOutboxRelayJob(OutboxRelayJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Outbox:    outbox.NewRepository(db),
		Publisher: sink,
	})
	if err != nil {
		t.Fatalf("NewOutboxRelayJob: %v", err)
	}

	if err := job.Run(context.Background()); !errors.Is(err, errTransport) {
		t.Fatalf("expected the publish failure to surface, got %v", err)
	}

	// Already-published rows are never fetched again.
	if len(sink.published) != 1 || sink.published[0] != string(enums.EventStockReserved) {
		t.Fatalf("unexpected published set: %v", sink.published)
	}

	var delivered models.OutboxEvent
	if err := db.First(&delivered, rows[0].ID).Error; err != nil {
		t.Fatalf("load delivered event: %v", err)
	}
	if delivered.PublishedAt == nil || delivered.AttemptCount != 0 {
		t.Fatalf("delivered row not marked published: %+v", delivered)
	}

	var failed models.OutboxEvent
	if err := db.First(&failed, rows[1].ID).Error; err != nil {
		t.Fatalf("load failed event: %v", err)
	}
	if failed.PublishedAt != nil || failed.AttemptCount != 1 || failed.LastError == nil {
		t.Fatalf("failed row must stay queued with its error: %+v", failed)
	}
}

func TestOutboxRelayJobRespectsBatchSize(t *testing.T) {
	db := newJobTestDB(t)

	for i := 0; i < 3; i++ {
		row := models.OutboxEvent{
			EventType:     enums.EventStockReserved,
			AggregateType: enums.AggregateCheckoutLine,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":1}`),
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed outbox event: %v", err)
		}
	}

	sink := &recordingPublisher{}
	job, err := NewOutboxRelayJob(OutboxRelayJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		Outbox:    outbox.NewRepository(db),
		Publisher: sink,
		BatchSize: 2,
	})
	if err != nil {
		t.Fatalf("NewOutboxRelayJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.published) != 2 {
		t.Fatalf("expected 2 events in the batch, got %d", len(sink.published))
	}
	var pending int64
	db.Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&pending)
	if pending != 1 {
		t.Fatalf("expected 1 event left for the next cycle, got %d", pending)
	}
}
