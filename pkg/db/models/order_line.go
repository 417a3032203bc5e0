package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLine is the engine-facing projection of a confirmed order line. Order
// workflow state lives in the order system; the engine only needs the demand
// quantity and the variant reference.
type OrderLine struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	Quantity  int       `gorm:"column:quantity;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
