package models

import (
	"time"

	"github.com/google/uuid"
)

// PreorderAllocation commits promised preorder inventory to an order line. It
// counts against the channel listing threshold (or the variant's global
// threshold) rather than a physical stock row.
type PreorderAllocation struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderLineID      uuid.UUID `gorm:"column:order_line_id;type:uuid;not null;uniqueIndex:ux_preorder_allocations_pair"`
	ChannelListingID int64     `gorm:"column:channel_listing_id;not null;uniqueIndex:ux_preorder_allocations_pair"`
	Quantity         int       `gorm:"column:quantity;not null;default:0"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
