package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a sales channel (storefront, marketplace, POS).
type Channel struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Slug      string    `gorm:"column:slug;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
