package stock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
)

func TestCheckAvailableClampsOversoldRows(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := seedVariant(t, db)
	whHealthy := seedWarehouse(t, db, "US")
	whOversold := seedWarehouse(t, db, "US")
	seedStock(t, db, whHealthy.ID, variant.ID, 4)
	oversold := seedStock(t, db, whOversold.ID, variant.ID, 1)

	// The oversold row sits at -2 after clamping; it must not eat into the
	// healthy warehouse's availability.
	if err := db.Create(&models.Allocation{
		OrderLineID:       uuid.New(),
		StockID:           oversold.ID,
		QuantityAllocated: 3,
	}).Error; err != nil {
		t.Fatalf("seed allocation: %v", err)
	}

	total, err := CheckAvailable(ctx, db, AvailabilityParams{VariantID: variant.ID, CountryCode: "US"})
	if err != nil {
		t.Fatalf("check available: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4 available, got %d", total)
	}
}

func TestCheckAvailableIgnoresExpiredReservations(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := seedVariant(t, db)
	wh := seedWarehouse(t, db, "US")
	row := seedStock(t, db, wh.ID, variant.ID, 5)

	for _, hold := range []models.Reservation{
		{CheckoutLineID: uuid.New(), StockID: row.ID, QuantityReserved: 2, ReservedUntil: time.Now().Add(10 * time.Minute)},
		{CheckoutLineID: uuid.New(), StockID: row.ID, QuantityReserved: 3, ReservedUntil: time.Now().Add(-time.Minute)},
	} {
		if err := db.Create(&hold).Error; err != nil {
			t.Fatalf("seed reservation: %v", err)
		}
	}

	total, err := CheckAvailable(ctx, db, AvailabilityParams{VariantID: variant.ID, CountryCode: "US"})
	if err != nil {
		t.Fatalf("check available: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 available (active hold only), got %d", total)
	}
}

func TestCheckAvailableFiltersByChannel(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, db, "web")
	variant := seedVariant(t, db)
	whOnChannel := seedWarehouse(t, db, "US", channel.ID)
	whOffChannel := seedWarehouse(t, db, "US")
	seedStock(t, db, whOnChannel.ID, variant.ID, 2)
	seedStock(t, db, whOffChannel.ID, variant.ID, 9)

	total, err := CheckAvailable(ctx, db, AvailabilityParams{
		VariantID:   variant.ID,
		CountryCode: "US",
		ChannelID:   channel.ID,
	})
	if err != nil {
		t.Fatalf("check available: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected only the channel warehouse to count, got %d", total)
	}
}

func TestCheckAvailableUnknownVariant(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	total, err := CheckAvailable(context.Background(), db, AvailabilityParams{
		VariantID:   uuid.New(),
		CountryCode: "US",
	})
	if err != nil {
		t.Fatalf("check available: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 for unknown variant, got %d", total)
	}
}
