package models

import (
	"time"

	"github.com/google/uuid"
)

// Stock is the per-warehouse physical quantity of one variant and the unit of
// row locking. QuantityAllocated is a denormalized cache over Allocation rows,
// reconciled by a scheduled job; quantities may transiently go negative when
// external corrections reduce quantity below existing commitments.
type Stock struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	WarehouseID       uuid.UUID `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_stocks_warehouse_variant"`
	VariantID         uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_stocks_warehouse_variant"`
	Quantity          int       `gorm:"column:quantity;not null;default:0"`
	QuantityAllocated int       `gorm:"column:quantity_allocated;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
