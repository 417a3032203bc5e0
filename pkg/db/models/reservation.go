package models

import (
	"time"

	"github.com/google/uuid"
)

// Reservation is a time-boxed hold of stock for an active checkout line. Rows
// past ReservedUntil are dead weight awaiting the sweep job; availability reads
// must filter on reserved_until instead of trusting the sweep.
type Reservation struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CheckoutLineID   uuid.UUID `gorm:"column:checkout_line_id;type:uuid;not null;index"`
	StockID          int64     `gorm:"column:stock_id;not null;index"`
	QuantityReserved int       `gorm:"column:quantity_reserved;not null;default:0"`
	ReservedUntil    time.Time `gorm:"column:reserved_until;not null;index"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}
