package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
	pkgerrors "github.com/stockyardhq/stockyard-backend/pkg/errors"
)

// preorderBudget tracks remaining preorder capacity while a batch is planned.
// A listing is capped by its channel threshold when it has one, else by the
// variant's global threshold across all channels, else uncapped. Consumption
// within the batch is charged against whichever budget applies.
type preorderBudget struct {
	listings   map[uuid.UUID]models.VariantChannelListing
	byListing  map[int64]int
	byVariant  map[uuid.UUID]int
	listingCap map[int64]bool
	variantCap map[uuid.UUID]bool
}

func loadPreorderBudget(ctx context.Context, repo *Repository, variantIDs []uuid.UUID, channelID uuid.UUID, excludeLineIDs []uuid.UUID) (*preorderBudget, error) {
	variants, err := repo.VariantsByID(ctx, variantIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variants")
	}
	for _, id := range variantIDs {
		v, ok := variants[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		if !v.IsPreorder {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant is not in preorder")
		}
	}

	listings, err := repo.LockListings(ctx, variantIDs, channelID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock channel listings")
	}
	byVariant := make(map[uuid.UUID]models.VariantChannelListing, len(listings))
	listingIDs := make([]int64, 0, len(listings))
	for _, l := range listings {
		byVariant[l.VariantID] = l
		listingIDs = append(listingIDs, l.ID)
	}
	for _, id := range variantIDs {
		if _, ok := byVariant[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant is not listed on channel")
		}
	}

	now := time.Now().UTC()
	b := &preorderBudget{
		listings:   byVariant,
		byListing:  make(map[int64]int),
		byVariant:  make(map[uuid.UUID]int),
		listingCap: make(map[int64]bool),
		variantCap: make(map[uuid.UUID]bool),
	}

	var globalVariants []uuid.UUID
	var cappedListings []int64
	for _, id := range variantIDs {
		listing := byVariant[id]
		switch {
		case listing.PreorderThreshold != nil:
			b.listingCap[listing.ID] = true
			cappedListings = append(cappedListings, listing.ID)
		case variants[id].PreorderGlobalThreshold != nil:
			b.variantCap[id] = true
			globalVariants = append(globalVariants, id)
		}
	}

	if len(cappedListings) > 0 {
		allocated, err := repo.PreorderAllocatedByListing(ctx, cappedListings)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum preorder allocations")
		}
		reserved, err := repo.PreorderReservedByListing(ctx, cappedListings, excludeLineIDs, now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum preorder reservations")
		}
		for _, id := range variantIDs {
			listing := byVariant[id]
			if !b.listingCap[listing.ID] {
				continue
			}
			remaining := *listing.PreorderThreshold - allocated[listing.ID] - reserved[listing.ID]
			if remaining < 0 {
				remaining = 0
			}
			b.byListing[listing.ID] = remaining
		}
	}
	if len(globalVariants) > 0 {
		// The channel's own listing lock cannot serialize a budget shared
		// with other channels; the variant row can.
		if _, err := repo.LockVariants(ctx, globalVariants); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock variants")
		}
		totals, err := repo.PreorderVariantTotals(ctx, globalVariants, excludeLineIDs, now)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum preorder variant totals")
		}
		for _, id := range globalVariants {
			remaining := *variants[id].PreorderGlobalThreshold - totals[id]
			if remaining < 0 {
				remaining = 0
			}
			b.byVariant[id] = remaining
		}
	}
	return b, nil
}

// remaining reports the listing for the variant and how much the batch may
// still place against it. limited is false for uncapped variants.
func (b *preorderBudget) remaining(variantID uuid.UUID) (listingID int64, available int, limited bool) {
	listing := b.listings[variantID]
	if b.listingCap[listing.ID] {
		return listing.ID, b.byListing[listing.ID], true
	}
	if b.variantCap[variantID] {
		return listing.ID, b.byVariant[variantID], true
	}
	return listing.ID, 0, false
}

func (b *preorderBudget) consume(variantID uuid.UUID, quantity int) {
	listing := b.listings[variantID]
	if b.listingCap[listing.ID] {
		b.byListing[listing.ID] -= quantity
		return
	}
	if b.variantCap[variantID] {
		b.byVariant[variantID] -= quantity
	}
}

// PreorderAllocateParams describes a batch of preorder demand on one channel.
type PreorderAllocateParams struct {
	Lines                  []AllocationLine
	ChannelID              uuid.UUID
	ExcludeCheckoutLineIDs []uuid.UUID
}

// AllocatePreorders commits preorder demand against the variants' channel
// listings. No physical stock exists yet; the threshold plays the role the
// stock quantity plays for ordinary allocation.
func AllocatePreorders(ctx context.Context, tx *gorm.DB, params PreorderAllocateParams) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for preorder allocation")
	}
	lines := make([]AllocationLine, 0, len(params.Lines))
	for _, line := range params.Lines {
		if line.Quantity < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "allocation quantity must not be negative")
		}
		if line.Quantity > 0 {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	repo := NewRepository(tx)
	variantIDs := distinctVariantIDs(lines)
	budget, err := loadPreorderBudget(ctx, repo, variantIDs, params.ChannelID, params.ExcludeCheckoutLineIDs)
	if err != nil {
		return err
	}

	type plannedLine struct {
		line      AllocationLine
		listingID int64
	}
	var planned []plannedLine
	var shortfalls []Shortfall
	for _, line := range lines {
		listingID, available, limited := budget.remaining(line.VariantID)
		if limited && available < line.Quantity {
			shortfalls = append(shortfalls, Shortfall{
				VariantID: line.VariantID,
				LineID:    line.OrderLineID,
				Wanted:    line.Quantity,
				Available: available,
			})
			continue
		}
		budget.consume(line.VariantID, line.Quantity)
		planned = append(planned, plannedLine{line: line, listingID: listingID})
	}
	if len(shortfalls) > 0 {
		return &InsufficientStockError{Shortfalls: shortfalls}
	}

	for _, p := range planned {
		if err := repo.UpsertPreorderAllocation(ctx, p.line.OrderLineID, p.listingID, p.line.Quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write preorder allocation")
		}
	}
	return nil
}

// PreorderReserveParams describes a batch preorder reservation on one channel.
type PreorderReserveParams struct {
	Lines         []ReservationLine
	ChannelID     uuid.UUID
	ReservedUntil time.Time

	// SkipReplace keeps the lines' prior holds in place, saving the delete.
	// Set it only when the caller knows none exist.
	SkipReplace bool
}

// ReservePreorders places time-boxed holds against channel listing thresholds,
// with the same replace semantics as ReserveStocks.
func ReservePreorders(ctx context.Context, tx *gorm.DB, params PreorderReserveParams) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for preorder reservation")
	}
	lineIDs := make([]uuid.UUID, 0, len(params.Lines))
	lines := make([]ReservationLine, 0, len(params.Lines))
	for _, line := range params.Lines {
		if line.Quantity < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must not be negative")
		}
		lineIDs = append(lineIDs, line.CheckoutLineID)
		if line.Quantity > 0 {
			lines = append(lines, line)
		}
	}
	if len(lineIDs) == 0 {
		return nil
	}

	repo := NewRepository(tx)

	var planned []models.PreorderReservation
	if len(lines) > 0 {
		seen := make(map[uuid.UUID]struct{}, len(lines))
		variantIDs := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			if _, ok := seen[line.VariantID]; ok {
				continue
			}
			seen[line.VariantID] = struct{}{}
			variantIDs = append(variantIDs, line.VariantID)
		}
		budget, err := loadPreorderBudget(ctx, repo, variantIDs, params.ChannelID, lineIDs)
		if err != nil {
			return err
		}

		var shortfalls []Shortfall
		for _, line := range lines {
			listingID, available, limited := budget.remaining(line.VariantID)
			if limited && available < line.Quantity {
				shortfalls = append(shortfalls, Shortfall{
					VariantID: line.VariantID,
					LineID:    line.CheckoutLineID,
					Wanted:    line.Quantity,
					Available: available,
				})
				continue
			}
			budget.consume(line.VariantID, line.Quantity)
			planned = append(planned, models.PreorderReservation{
				CheckoutLineID:   line.CheckoutLineID,
				ChannelListingID: listingID,
				QuantityReserved: line.Quantity,
				ReservedUntil:    params.ReservedUntil,
			})
		}
		if len(shortfalls) > 0 {
			return &InsufficientStockError{Shortfalls: shortfalls}
		}
	}

	if !params.SkipReplace {
		if err := repo.DeletePreorderReservationsForLines(ctx, lineIDs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop prior preorder reservations")
		}
	}
	if len(planned) == 0 {
		return nil
	}
	if err := repo.CreatePreorderReservations(ctx, planned); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write preorder reservations")
	}
	return nil
}
