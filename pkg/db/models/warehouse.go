package models

import (
	"time"

	"github.com/google/uuid"
)

// Warehouse is a physical location that holds stock.
type Warehouse struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Slug      string    `gorm:"column:slug;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// WarehouseCountry marks a warehouse as serving a shipping country. The rows are
// projected from the shipping-zone routing system, which owns the mapping.
type WarehouseCountry struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	WarehouseID uuid.UUID `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_warehouse_countries_pair"`
	CountryCode string    `gorm:"column:country_code;size:2;not null;uniqueIndex:ux_warehouse_countries_pair"`
}

// WarehouseChannel marks a warehouse as eligible for a sales channel.
type WarehouseChannel struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	WarehouseID uuid.UUID `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_warehouse_channels_pair"`
	ChannelID   uuid.UUID `gorm:"column:channel_id;type:uuid;not null;uniqueIndex:ux_warehouse_channels_pair"`
}
