package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/pkg/config"
	pkgerrors "github.com/stockyardhq/stockyard-backend/pkg/errors"
	"github.com/stockyardhq/stockyard-backend/pkg/enums"
	"github.com/stockyardhq/stockyard-backend/pkg/logger"
	"github.com/stockyardhq/stockyard-backend/pkg/outbox"
	"github.com/stockyardhq/stockyard-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the entry point for every stock mutation. Each call runs its
// whole batch inside one transaction and queues outbox events alongside the
// mutation, so either both land or neither does.
type Service interface {
	ReserveStock(ctx context.Context, input ReserveStockInput) error
	ReservePreorder(ctx context.Context, input ReservePreorderInput) error
	AllocateStock(ctx context.Context, input AllocateStockInput) error
	AllocatePreorder(ctx context.Context, input AllocatePreorderInput) error
	DeallocateStock(ctx context.Context, input DeallocateStockInput) error
	DeallocateForOrder(ctx context.Context, orderID uuid.UUID) error
	DecreaseStock(ctx context.Context, input DecreaseStockInput) error
	IncreaseStock(ctx context.Context, input IncreaseStockInput) error
	CheckAvailable(ctx context.Context, input CheckAvailableInput) (int, error)
}

type service struct {
	db     *gorm.DB
	tx     txRunner
	outbox outboxPublisher
	cfg    config.ReservationConfig
	logg   *logger.Logger
}

// NewService wires the facade. db serves lock-free reads; tx runs mutations.
func NewService(db *gorm.DB, tx txRunner, publisher outboxPublisher, cfg config.ReservationConfig, logg *logger.Logger) Service {
	return &service{db: db, tx: tx, outbox: publisher, cfg: cfg, logg: logg}
}

// ReserveStockInput holds one checkout's reservation batch. SkipReplace skips
// dropping the lines' prior holds; use it only when none exist.
type ReserveStockInput struct {
	Lines       []ReservationLine
	CountryCode string
	ChannelSlug string
	SkipReplace bool
}

func (s *service) ReserveStock(ctx context.Context, input ReserveStockInput) error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.checkLineLimits(len(input.Lines), maxReservationQuantity(input.Lines)); err != nil {
		return err
	}
	reservedUntil := time.Now().UTC().Add(s.cfg.TTL())
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		channel, err := s.resolveChannel(ctx, tx, input.ChannelSlug)
		if err != nil {
			return err
		}
		err = ReserveStocks(ctx, tx, ReserveParams{
			Lines:         input.Lines,
			CountryCode:   input.CountryCode,
			ChannelID:     channel.ID,
			ReservedUntil: reservedUntil,
			SkipReplace:   input.SkipReplace,
		})
		if err != nil {
			return err
		}
		return s.emitReserved(ctx, tx, input.Lines, reservedUntil)
	})
	if err != nil {
		return translateEngineErr(err)
	}
	s.logg.Info(s.logg.WithField(ctx, "lines", len(input.Lines)), "stock reserved")
	return nil
}

// ReservePreorderInput holds one checkout's preorder reservation batch.
// SkipReplace skips dropping the lines' prior holds; use it only when none
// exist.
type ReservePreorderInput struct {
	Lines       []ReservationLine
	ChannelSlug string
	SkipReplace bool
}

func (s *service) ReservePreorder(ctx context.Context, input ReservePreorderInput) error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.checkLineLimits(len(input.Lines), maxReservationQuantity(input.Lines)); err != nil {
		return err
	}
	reservedUntil := time.Now().UTC().Add(s.cfg.TTL())
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		channel, err := s.resolveChannel(ctx, tx, input.ChannelSlug)
		if err != nil {
			return err
		}
		err = ReservePreorders(ctx, tx, PreorderReserveParams{
			Lines:         input.Lines,
			ChannelID:     channel.ID,
			ReservedUntil: reservedUntil,
			SkipReplace:   input.SkipReplace,
		})
		if err != nil {
			return err
		}
		return s.emitReserved(ctx, tx, input.Lines, reservedUntil)
	})
	if err != nil {
		return translateEngineErr(err)
	}
	s.logg.Info(s.logg.WithField(ctx, "lines", len(input.Lines)), "preorder reserved")
	return nil
}

func (s *service) emitReserved(ctx context.Context, tx *gorm.DB, lines []ReservationLine, reservedUntil time.Time) error {
	for _, line := range lines {
		if line.Quantity == 0 {
			continue
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventStockReserved,
			AggregateType: enums.AggregateCheckoutLine,
			AggregateID:   line.CheckoutLineID,
			Version:       1,
			Data: payloads.StockReservedEvent{
				CheckoutLineID: line.CheckoutLineID,
				VariantID:      line.VariantID,
				Quantity:       line.Quantity,
				ReservedUntil:  reservedUntil,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue reservation event")
		}
	}
	return nil
}

// AllocateStockInput holds one order's allocation batch. ExcludeCheckoutLineIDs
// names the checkout lines whose reservations are being converted into this
// order, so their own holds do not block the allocation.
type AllocateStockInput struct {
	Lines                  []AllocationLine
	CountryCode            string
	ChannelSlug            string
	ExcludeCheckoutLineIDs []uuid.UUID
}

func (s *service) AllocateStock(ctx context.Context, input AllocateStockInput) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		channel, err := s.resolveChannel(ctx, tx, input.ChannelSlug)
		if err != nil {
			return err
		}
		results, err := AllocateStocks(ctx, tx, AllocateParams{
			Lines:                  input.Lines,
			CountryCode:            input.CountryCode,
			ChannelID:              channel.ID,
			ExcludeCheckoutLineIDs: input.ExcludeCheckoutLineIDs,
		})
		if err != nil {
			return err
		}
		if len(input.ExcludeCheckoutLineIDs) > 0 {
			// The reservations just converted into allocations are spent.
			repo := NewRepository(tx)
			if err := repo.DeleteReservationsForLines(ctx, input.ExcludeCheckoutLineIDs); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop converted reservations")
			}
			if err := repo.DeletePreorderReservationsForLines(ctx, input.ExcludeCheckoutLineIDs); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop converted preorder reservations")
			}
		}
		for _, result := range results {
			event := outbox.DomainEvent{
				EventType:     enums.EventStockAllocated,
				AggregateType: enums.AggregateOrderLine,
				AggregateID:   result.OrderLineID,
				Version:       1,
				Data: payloads.StockAllocatedEvent{
					OrderLineID: result.OrderLineID,
					VariantID:   result.VariantID,
					Quantity:    result.Quantity,
					Warehouses:  result.Warehouses,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue allocation event")
			}
		}
		return nil
	})
	if err != nil {
		return translateEngineErr(err)
	}
	s.logg.Info(s.logg.WithField(ctx, "lines", len(input.Lines)), "stock allocated")
	return nil
}

// AllocatePreorderInput holds one order's preorder allocation batch.
type AllocatePreorderInput struct {
	Lines                  []AllocationLine
	ChannelSlug            string
	ExcludeCheckoutLineIDs []uuid.UUID
}

func (s *service) AllocatePreorder(ctx context.Context, input AllocatePreorderInput) error {
	return translateEngineErr(s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		channel, err := s.resolveChannel(ctx, tx, input.ChannelSlug)
		if err != nil {
			return err
		}
		err = AllocatePreorders(ctx, tx, PreorderAllocateParams{
			Lines:                  input.Lines,
			ChannelID:              channel.ID,
			ExcludeCheckoutLineIDs: input.ExcludeCheckoutLineIDs,
		})
		if err != nil {
			return err
		}
		if len(input.ExcludeCheckoutLineIDs) > 0 {
			repo := NewRepository(tx)
			if err := repo.DeletePreorderReservationsForLines(ctx, input.ExcludeCheckoutLineIDs); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop converted preorder reservations")
			}
		}
		for _, line := range input.Lines {
			if line.Quantity == 0 {
				continue
			}
			event := outbox.DomainEvent{
				EventType:     enums.EventStockAllocated,
				AggregateType: enums.AggregateOrderLine,
				AggregateID:   line.OrderLineID,
				Version:       1,
				Data: payloads.StockAllocatedEvent{
					OrderLineID: line.OrderLineID,
					VariantID:   line.VariantID,
					Quantity:    line.Quantity,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue allocation event")
			}
		}
		return nil
	}))
}

// DeallocateStockInput releases quantity units from one order line.
type DeallocateStockInput struct {
	OrderLineID uuid.UUID
	Quantity    int
}

func (s *service) DeallocateStock(ctx context.Context, input DeallocateStockInput) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		released, err := DeallocateStock(ctx, tx, input.OrderLineID, input.Quantity)
		if err != nil {
			return err
		}
		if released == 0 {
			return nil
		}
		return s.emitDeallocated(ctx, tx, input.OrderLineID, released)
	})
}

func (s *service) DeallocateForOrder(ctx context.Context, orderID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		released, err := DeallocateForOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for lineID, n := range released {
			if err := s.emitDeallocated(ctx, tx, lineID, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecreaseStockInput is a fulfillment-time physical decrement.
type DecreaseStockInput struct {
	OrderLineID   uuid.UUID
	VariantID     uuid.UUID
	WarehouseID   uuid.UUID
	Quantity      int
	AllowNegative bool
}

func (s *service) DecreaseStock(ctx context.Context, input DecreaseStockInput) error {
	return translateEngineErr(s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		err := DecreaseStock(ctx, tx, DecreaseParams{
			OrderLineID:   input.OrderLineID,
			VariantID:     input.VariantID,
			WarehouseID:   input.WarehouseID,
			Quantity:      input.Quantity,
			AllowNegative: input.AllowNegative,
		})
		if err != nil {
			return err
		}
		if input.Quantity == 0 {
			return nil
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventStockDecreased,
			AggregateType: enums.AggregateStock,
			AggregateID:   input.WarehouseID,
			Version:       1,
			Data: payloads.StockDecreasedEvent{
				OrderLineID: input.OrderLineID,
				WarehouseID: input.WarehouseID,
				Quantity:    input.Quantity,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue decrease event")
		}
		return nil
	}))
}

// IncreaseStockInput is a restock.
type IncreaseStockInput struct {
	OrderLineID uuid.UUID
	VariantID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int
	Allocate    bool
}

func (s *service) IncreaseStock(ctx context.Context, input IncreaseStockInput) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		err := IncreaseStock(ctx, tx, IncreaseParams{
			OrderLineID: input.OrderLineID,
			VariantID:   input.VariantID,
			WarehouseID: input.WarehouseID,
			Quantity:    input.Quantity,
			Allocate:    input.Allocate,
		})
		if err != nil {
			return err
		}
		if input.Quantity == 0 {
			return nil
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventStockIncreased,
			AggregateType: enums.AggregateStock,
			AggregateID:   input.WarehouseID,
			Version:       1,
			Data: payloads.StockIncreasedEvent{
				OrderLineID: input.OrderLineID,
				WarehouseID: input.WarehouseID,
				Quantity:    input.Quantity,
				Allocated:   input.Allocate,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue increase event")
		}
		return nil
	})
}

// CheckAvailableInput asks how much of a variant a storefront may promise.
type CheckAvailableInput struct {
	VariantID   uuid.UUID
	CountryCode string
	ChannelSlug string
}

func (s *service) CheckAvailable(ctx context.Context, input CheckAvailableInput) (int, error) {
	channel, err := s.resolveChannel(ctx, s.db, input.ChannelSlug)
	if err != nil {
		return 0, err
	}
	return CheckAvailable(ctx, s.db, AvailabilityParams{
		VariantID:   input.VariantID,
		CountryCode: input.CountryCode,
		ChannelID:   channel.ID,
	})
}

func (s *service) emitDeallocated(ctx context.Context, tx *gorm.DB, orderLineID uuid.UUID, quantity int) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventStockDeallocated,
		AggregateType: enums.AggregateOrderLine,
		AggregateID:   orderLineID,
		Version:       1,
		Data: payloads.StockDeallocatedEvent{
			OrderLineID: orderLineID,
			Quantity:    quantity,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue deallocation event")
	}
	return nil
}

func (s *service) resolveChannel(ctx context.Context, tx *gorm.DB, slug string) (*channelRef, error) {
	if slug == "" {
		return &channelRef{}, nil
	}
	repo := NewRepository(tx)
	channel, err := repo.ChannelBySlug(ctx, slug)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve channel")
	}
	if channel == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "channel not found")
	}
	return &channelRef{ID: channel.ID}, nil
}

type channelRef struct {
	ID uuid.UUID
}

func (s *service) checkLineLimits(count, maxQuantity int) error {
	if count == 0 {
		return nil
	}
	if s.cfg.MaxLineQuantity > 0 && maxQuantity > s.cfg.MaxLineQuantity {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout line quantity exceeds the reservation limit").
			WithDetails(map[string]interface{}{"max_quantity": s.cfg.MaxLineQuantity})
	}
	return nil
}

func maxReservationQuantity(lines []ReservationLine) int {
	max := 0
	for _, line := range lines {
		if line.Quantity > max {
			max = line.Quantity
		}
	}
	return max
}

// translateEngineErr lifts the engine's shortfall error onto the shared error
// code surface so callers branch on a Code instead of an engine type.
func translateEngineErr(err error) error {
	if err == nil {
		return nil
	}
	var insufficient *InsufficientStockError
	if errors.As(err, &insufficient) {
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, err, "insufficient stock").
			WithDetails(insufficient.Shortfalls)
	}
	return err
}
