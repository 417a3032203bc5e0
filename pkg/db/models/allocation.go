package models

import (
	"time"

	"github.com/google/uuid"
)

// Allocation is a durable commitment of stock to a confirmed order line.
type Allocation struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderLineID       uuid.UUID `gorm:"column:order_line_id;type:uuid;not null;uniqueIndex:ux_allocations_line_stock"`
	StockID           int64     `gorm:"column:stock_id;not null;uniqueIndex:ux_allocations_line_stock"`
	QuantityAllocated int       `gorm:"column:quantity_allocated;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
