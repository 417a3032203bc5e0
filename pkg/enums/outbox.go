package enums

import "fmt"

// OutboxAggregateType identifies the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateStock        OutboxAggregateType = "stock"
	AggregateOrderLine    OutboxAggregateType = "order_line"
	AggregateCheckoutLine OutboxAggregateType = "checkout_line"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateStock,
	AggregateOrderLine,
	AggregateCheckoutLine,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names the domain events emitted by the engine.
type OutboxEventType string

const (
	EventStockAllocated     OutboxEventType = "stock.allocated"
	EventStockDeallocated   OutboxEventType = "stock.deallocated"
	EventStockDecreased     OutboxEventType = "stock.decreased"
	EventStockIncreased     OutboxEventType = "stock.increased"
	EventStockReserved      OutboxEventType = "stock.reserved"
	EventReservationExpired OutboxEventType = "reservation.expired"
)

var validEventTypes = []OutboxEventType{
	EventStockAllocated,
	EventStockDeallocated,
	EventStockDecreased,
	EventStockIncreased,
	EventStockReserved,
	EventReservationExpired,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
