package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutLine is the engine-facing projection of a cart line. Reservations are
// owned by exactly one checkout line and replaced wholesale when its quantity
// changes.
type CheckoutLine struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CheckoutID uuid.UUID `gorm:"column:checkout_id;type:uuid;not null;index"`
	VariantID  uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	Quantity   int       `gorm:"column:quantity;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
