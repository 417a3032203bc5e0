package stock

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Warehouse{},
		&models.WarehouseCountry{},
		&models.WarehouseChannel{},
		&models.Channel{},
		&models.ProductVariant{},
		&models.VariantChannelListing{},
		&models.Stock{},
		&models.Allocation{},
		&models.Reservation{},
		&models.PreorderAllocation{},
		&models.PreorderReservation{},
		&models.OrderLine{},
		&models.CheckoutLine{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedChannel(t *testing.T, db *gorm.DB, slug string) models.Channel {
	t.Helper()
	channel := models.Channel{ID: uuid.New(), Slug: slug, Name: slug}
	if err := db.Create(&channel).Error; err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	return channel
}

func seedWarehouse(t *testing.T, db *gorm.DB, countryCode string, channelIDs ...uuid.UUID) models.Warehouse {
	t.Helper()
	warehouse := models.Warehouse{ID: uuid.New(), Slug: "wh-" + uuid.NewString()[:8], Name: "warehouse"}
	if err := db.Create(&warehouse).Error; err != nil {
		t.Fatalf("seed warehouse: %v", err)
	}
	if countryCode != "" {
		link := models.WarehouseCountry{WarehouseID: warehouse.ID, CountryCode: countryCode}
		if err := db.Create(&link).Error; err != nil {
			t.Fatalf("seed warehouse country: %v", err)
		}
	}
	for _, channelID := range channelIDs {
		link := models.WarehouseChannel{WarehouseID: warehouse.ID, ChannelID: channelID}
		if err := db.Create(&link).Error; err != nil {
			t.Fatalf("seed warehouse channel: %v", err)
		}
	}
	return warehouse
}

func seedVariant(t *testing.T, db *gorm.DB) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{ID: uuid.New(), SKU: "sku-" + uuid.NewString()[:8]}
	if err := db.Create(&variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return variant
}

func seedPreorderVariant(t *testing.T, db *gorm.DB, globalThreshold *int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{
		ID:                      uuid.New(),
		SKU:                     "sku-" + uuid.NewString()[:8],
		IsPreorder:              true,
		PreorderGlobalThreshold: globalThreshold,
	}
	if err := db.Create(&variant).Error; err != nil {
		t.Fatalf("seed preorder variant: %v", err)
	}
	return variant
}

func seedListing(t *testing.T, db *gorm.DB, variantID, channelID uuid.UUID, threshold *int) models.VariantChannelListing {
	t.Helper()
	listing := models.VariantChannelListing{
		VariantID:         variantID,
		ChannelID:         channelID,
		PreorderThreshold: threshold,
	}
	if err := db.Create(&listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return listing
}

func seedStock(t *testing.T, db *gorm.DB, warehouseID, variantID uuid.UUID, quantity int) models.Stock {
	t.Helper()
	row := models.Stock{WarehouseID: warehouseID, VariantID: variantID, Quantity: quantity}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return row
}

func intPtr(v int) *int {
	return &v
}
