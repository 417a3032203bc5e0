package stock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/stockyardhq/stockyard-backend/pkg/errors"
)

// AvailabilityParams describes an availability read for one variant.
type AvailabilityParams struct {
	VariantID   uuid.UUID
	CountryCode string
	ChannelID   uuid.UUID
}

// CheckAvailable reports how many units of the variant could be promised right
// now across all eligible warehouses. Each stock row is clamped at zero before
// summing so an oversold warehouse cannot eat into the availability of a
// healthy one. The read takes no row locks; it is a snapshot, not a promise.
func CheckAvailable(ctx context.Context, db *gorm.DB, params AvailabilityParams) (int, error) {
	if db == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "database handle required for availability check")
	}
	repo := NewRepository(db)

	stocks, err := repo.EligibleStocks(ctx, params.VariantID, params.CountryCode, params.ChannelID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load eligible stocks")
	}
	if len(stocks) == 0 {
		return 0, nil
	}
	stockIDs := make([]int64, 0, len(stocks))
	for _, s := range stocks {
		stockIDs = append(stockIDs, s.ID)
	}
	allocated, err := repo.AllocatedByStock(ctx, stockIDs)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum allocations")
	}
	reserved, err := repo.ReservedByStock(ctx, stockIDs, nil, time.Now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum reservations")
	}

	total := 0
	for _, s := range stocks {
		free := s.Quantity - allocated[s.ID] - reserved[s.ID]
		if free > 0 {
			total += free
		}
	}
	return total, nil
}
