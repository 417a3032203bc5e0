package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductVariant is the sellable unit tracked by stock rows. Catalog attributes
// (pricing, naming, media) live in the catalog system; the engine only needs the
// preorder flags.
type ProductVariant struct {
	ID                      uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SKU                     string    `gorm:"column:sku;not null;uniqueIndex"`
	IsPreorder              bool      `gorm:"column:is_preorder;not null;default:false"`
	PreorderGlobalThreshold *int      `gorm:"column:preorder_global_threshold"`
	CreatedAt               time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// VariantChannelListing exposes a variant on a channel and carries the
// channel-scoped preorder threshold. Preorder allocations and reservations
// reference this row instead of a physical stock row.
type VariantChannelListing struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement"`
	VariantID         uuid.UUID `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_variant_channel_listings_pair"`
	ChannelID         uuid.UUID `gorm:"column:channel_id;type:uuid;not null;uniqueIndex:ux_variant_channel_listings_pair"`
	PreorderThreshold *int      `gorm:"column:preorder_quantity_threshold"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}
