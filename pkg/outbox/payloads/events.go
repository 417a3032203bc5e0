package payloads

import (
	"time"

	"github.com/google/uuid"
)

// StockAllocatedEvent reports one order line's allocation draws.
type StockAllocatedEvent struct {
	OrderLineID uuid.UUID   `json:"order_line_id"`
	VariantID   uuid.UUID   `json:"variant_id"`
	Quantity    int         `json:"quantity"`
	Warehouses  []uuid.UUID `json:"warehouse_ids"`
}

// StockDeallocatedEvent reports released allocations for an order line.
type StockDeallocatedEvent struct {
	OrderLineID uuid.UUID `json:"order_line_id"`
	Quantity    int       `json:"quantity"`
}

// StockDecreasedEvent reports a physical decrement at fulfillment time.
type StockDecreasedEvent struct {
	OrderLineID uuid.UUID `json:"order_line_id"`
	WarehouseID uuid.UUID `json:"warehouse_id"`
	Quantity    int       `json:"quantity"`
}

// StockIncreasedEvent reports a restock, optionally re-allocated to the line
// that returned it.
type StockIncreasedEvent struct {
	OrderLineID uuid.UUID `json:"order_line_id"`
	WarehouseID uuid.UUID `json:"warehouse_id"`
	Quantity    int       `json:"quantity"`
	Allocated   bool      `json:"allocated"`
}

// StockReservedEvent reports a checkout line hold.
type StockReservedEvent struct {
	CheckoutLineID uuid.UUID `json:"checkout_line_id"`
	VariantID      uuid.UUID `json:"variant_id"`
	Quantity       int       `json:"quantity"`
	ReservedUntil  time.Time `json:"reserved_until"`
}

// ReservationExpiredEvent reports holds deleted by the sweep job.
type ReservationExpiredEvent struct {
	CheckoutLineID uuid.UUID `json:"checkout_line_id"`
	Quantity       int       `json:"quantity"`
	ExpiredAt      time.Time `json:"expired_at"`
}
