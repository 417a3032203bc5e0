package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
	pkgerrors "github.com/stockyardhq/stockyard-backend/pkg/errors"
)

// ReservationLine is one checkout line asking to hold stock.
type ReservationLine struct {
	CheckoutLineID uuid.UUID
	VariantID      uuid.UUID
	Quantity       int
}

// ReserveParams describes a batch reservation request. Reserving replaces: any
// prior reservations held by the batch's checkout lines are dropped and do not
// count against availability while the new hold is planned.
type ReserveParams struct {
	Lines         []ReservationLine
	CountryCode   string
	ChannelID     uuid.UUID
	ReservedUntil time.Time

	// SkipReplace keeps the lines' prior holds in place, saving the delete.
	// Set it only when the caller knows none exist.
	SkipReplace bool
}

// ReserveStocks places time-boxed holds for every checkout line in the batch,
// drawing from eligible warehouses in stock primary-key order. A line with
// quantity zero simply releases its prior hold. Like allocation, every line is
// evaluated before an InsufficientStockError is raised.
func ReserveStocks(ctx context.Context, tx *gorm.DB, params ReserveParams) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock reservation")
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

	var planned []models.Reservation
	if len(lines) > 0 {
		variantIDs := make([]uuid.UUID, 0, len(lines))
		seen := make(map[uuid.UUID]struct{}, len(lines))
		for _, line := range lines {
			if _, ok := seen[line.VariantID]; ok {
				continue
			}
			seen[line.VariantID] = struct{}{}
			variantIDs = append(variantIDs, line.VariantID)
		}

		stocks, err := repo.LockEligibleStocks(ctx, variantIDs, params.CountryCode, params.ChannelID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock eligible stocks")
		}
		stockIDs := make([]int64, 0, len(stocks))
		for _, s := range stocks {
			stockIDs = append(stockIDs, s.ID)
		}
		allocated, err := repo.AllocatedByStock(ctx, stockIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum allocations")
		}
		// The batch's own prior holds are excluded so a re-reservation is
		// judged against what everyone else holds, not against itself.
		reserved, err := repo.ReservedByStock(ctx, stockIDs, lineIDs, time.Now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum reservations")
		}

		available := make(map[int64]int, len(stocks))
		rowsByVariant := make(map[uuid.UUID][]int64)
		for _, s := range stocks {
			capacity := s.Quantity - allocated[s.ID] - reserved[s.ID]
			if capacity < 0 {
				capacity = 0
			}
			available[s.ID] = capacity
			rowsByVariant[s.VariantID] = append(rowsByVariant[s.VariantID], s.ID)
		}

		var shortfalls []Shortfall
		for _, line := range lines {
			candidates := make([]CapacityRow, 0, len(rowsByVariant[line.VariantID]))
			for _, id := range rowsByVariant[line.VariantID] {
				candidates = append(candidates, CapacityRow{ID: id, Available: available[id]})
			}
			draws, missing := planDraws(line.Quantity, candidates)
			if missing > 0 {
				shortfalls = append(shortfalls, Shortfall{
					VariantID: line.VariantID,
					LineID:    line.CheckoutLineID,
					Wanted:    line.Quantity,
					Available: line.Quantity - missing,
				})
				continue
			}
			for _, draw := range draws {
				available[draw.RowID] -= draw.Quantity
				planned = append(planned, models.Reservation{
					CheckoutLineID:   line.CheckoutLineID,
					StockID:          draw.RowID,
					QuantityReserved: draw.Quantity,
					ReservedUntil:    params.ReservedUntil,
				})
			}
		}
		if len(shortfalls) > 0 {
			return &InsufficientStockError{Shortfalls: shortfalls}
		}
	}

	if !params.SkipReplace {
		if err := repo.DeleteReservationsForLines(ctx, lineIDs); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop prior reservations")
		}
	}
	if len(planned) == 0 {
		return nil
	}
	if err := repo.CreateReservations(ctx, planned); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write reservations")
	}
	return nil
}
