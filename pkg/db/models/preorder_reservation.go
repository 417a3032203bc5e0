package models

import (
	"time"

	"github.com/google/uuid"
)

// PreorderReservation is the preorder analogue of Reservation: a time-boxed
// hold against a channel listing threshold.
type PreorderReservation struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	CheckoutLineID   uuid.UUID `gorm:"column:checkout_line_id;type:uuid;not null;index"`
	ChannelListingID int64     `gorm:"column:channel_listing_id;not null;index"`
	QuantityReserved int       `gorm:"column:quantity_reserved;not null;default:0"`
	ReservedUntil    time.Time `gorm:"column:reserved_until;not null;index"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}
