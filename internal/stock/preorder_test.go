package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
	pkgerrors "github.com/stockyardhq/stockyard-backend/pkg/errors"
)

func TestReservePreordersChannelThreshold(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, db, "web")
	variant := seedPreorderVariant(t, db, nil)
	listing := seedListing(t, db, variant.ID, channel.ID, intPtr(10))

	// 4 units already committed against the threshold of 10.
	if err := db.Create(&models.PreorderAllocation{
		OrderLineID:      uuid.New(),
		ChannelListingID: listing.ID,
		Quantity:         4,
	}).Error; err != nil {
		t.Fatalf("seed preorder allocation: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return ReservePreorders(ctx, tx, PreorderReserveParams{
			Lines:         []ReservationLine{{CheckoutLineID: uuid.New(), VariantID: variant.ID, Quantity: 7}},
			ChannelID:     channel.ID,
			ReservedUntil: time.Now().Add(10 * time.Minute),
		})
	})

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Shortfalls[0].Wanted != 7 || insufficient.Shortfalls[0].Available != 6 {
		t.Fatalf("unexpected shortfall: %+v", insufficient.Shortfalls)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return ReservePreorders(ctx, tx, PreorderReserveParams{
			Lines:         []ReservationLine{{CheckoutLineID: uuid.New(), VariantID: variant.ID, Quantity: 6}},
			ChannelID:     channel.ID,
			ReservedUntil: time.Now().Add(10 * time.Minute),
		})
	})
	if err != nil {
		t.Fatalf("reserve within threshold: %v", err)
	}
}

func TestAllocatePreordersGlobalThresholdSpansChannels(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	web := seedChannel(t, db, "web")
	pos := seedChannel(t, db, "pos")
	variant := seedPreorderVariant(t, db, intPtr(5))
	webListing := seedListing(t, db, variant.ID, web.ID, nil)
	posListing := seedListing(t, db, variant.ID, pos.ID, nil)

	// 3 units already sold through the other channel count against the
	// variant-wide threshold.
	if err := db.Create(&models.PreorderAllocation{
		OrderLineID:      uuid.New(),
		ChannelListingID: posListing.ID,
		Quantity:         3,
	}).Error; err != nil {
		t.Fatalf("seed preorder allocation: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		return AllocatePreorders(ctx, tx, PreorderAllocateParams{
			Lines:     []AllocationLine{{OrderLineID: uuid.New(), VariantID: variant.ID, Quantity: 3}},
			ChannelID: web.ID,
		})
	})

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Shortfalls[0].Available != 2 {
		t.Fatalf("expected 2 remaining globally, got %+v", insufficient.Shortfalls)
	}

	lineID := uuid.New()
	err = db.Transaction(func(tx *gorm.DB) error {
		return AllocatePreorders(ctx, tx, PreorderAllocateParams{
			Lines:     []AllocationLine{{OrderLineID: lineID, VariantID: variant.ID, Quantity: 2}},
			ChannelID: web.ID,
		})
	})
	if err != nil {
		t.Fatalf("allocate within global threshold: %v", err)
	}

	var alloc models.PreorderAllocation
	if err := db.Where("order_line_id = ?", lineID).First(&alloc).Error; err != nil {
		t.Fatalf("load preorder allocation: %v", err)
	}
	if alloc.ChannelListingID != webListing.ID || alloc.Quantity != 2 {
		t.Fatalf("unexpected allocation: %+v", alloc)
	}
}

func TestAllocatePreordersUnlimitedWithoutThresholds(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, db, "web")
	variant := seedPreorderVariant(t, db, nil)
	seedListing(t, db, variant.ID, channel.ID, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return AllocatePreorders(ctx, tx, PreorderAllocateParams{
			Lines:     []AllocationLine{{OrderLineID: uuid.New(), VariantID: variant.ID, Quantity: 100000}},
			ChannelID: channel.ID,
		})
	})
	if err != nil {
		t.Fatalf("unlimited preorder must accept any quantity: %v", err)
	}
}

func TestAllocatePreordersSharesBudgetWithinBatch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, db, "web")
	variant := seedPreorderVariant(t, db, nil)
	seedListing(t, db, variant.ID, channel.ID, intPtr(5))

	err := db.Transaction(func(tx *gorm.DB) error {
		return AllocatePreorders(ctx, tx, PreorderAllocateParams{
			Lines: []AllocationLine{
				{OrderLineID: uuid.New(), VariantID: variant.ID, Quantity: 3},
				{OrderLineID: uuid.New(), VariantID: variant.ID, Quantity: 3},
			},
			ChannelID: channel.ID,
		})
	})

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if len(insufficient.Shortfalls) != 1 || insufficient.Shortfalls[0].Available != 2 {
		t.Fatalf("second line should see 2 remaining: %+v", insufficient.Shortfalls)
	}
}

func TestAllocatePreordersRejectsNonPreorderVariant(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, db, "web")
	variant := seedVariant(t, db)
	seedListing(t, db, variant.ID, channel.ID, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return AllocatePreorders(ctx, tx, PreorderAllocateParams{
			Lines:     []AllocationLine{{OrderLineID: uuid.New(), VariantID: variant.ID, Quantity: 1}},
			ChannelID: channel.ID,
		})
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAllocatePreordersUnlistedVariant(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, db, "web")
	variant := seedPreorderVariant(t, db, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return AllocatePreorders(ctx, tx, PreorderAllocateParams{
			Lines:     []AllocationLine{{OrderLineID: uuid.New(), VariantID: variant.ID, Quantity: 1}},
			ChannelID: channel.ID,
		})
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestReservePreordersReplacesPriorHolds(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	channel := seedChannel(t, db, "web")
	variant := seedPreorderVariant(t, db, nil)
	listing := seedListing(t, db, variant.ID, channel.ID, intPtr(5))
	checkoutLine := uuid.New()

	reserve := func(quantity int) error {
		return db.Transaction(func(tx *gorm.DB) error {
			return ReservePreorders(ctx, tx, PreorderReserveParams{
				Lines:         []ReservationLine{{CheckoutLineID: checkoutLine, VariantID: variant.ID, Quantity: quantity}},
				ChannelID:     channel.ID,
				ReservedUntil: time.Now().Add(10 * time.Minute),
			})
		})
	}

	if err := reserve(4); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := reserve(5); err != nil {
		t.Fatalf("re-reserve: %v", err)
	}

	var holds []models.PreorderReservation
	if err := db.Where("channel_listing_id = ?", listing.ID).Find(&holds).Error; err != nil {
		t.Fatalf("load preorder reservations: %v", err)
	}
	if len(holds) != 1 || holds[0].QuantityReserved != 5 {
		t.Fatalf("expected single replaced hold of 5, got %+v", holds)
	}
}
