package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/stockyardhq/stockyard-backend/pkg/errors"
)

// AllocationLine is one unit of demand inside an allocation batch.
type AllocationLine struct {
	OrderLineID uuid.UUID
	VariantID   uuid.UUID
	Quantity    int
}

// AllocateParams describes a batch allocation request.
type AllocateParams struct {
	Lines       []AllocationLine
	CountryCode string
	// ChannelID optionally restricts eligible warehouses to one channel.
	ChannelID uuid.UUID
	// ExcludeCheckoutLineIDs names checkout lines whose reservations must not
	// block this batch: the checkout being converted into the order holds
	// reservations on the very stock it is about to allocate.
	ExcludeCheckoutLineIDs []uuid.UUID
}

// LineAllocation reports where one order line's demand landed.
type LineAllocation struct {
	OrderLineID uuid.UUID
	VariantID   uuid.UUID
	Quantity    int
	Warehouses  []uuid.UUID
}

// AllocateStocks commits stock to every order line in the batch, drawing from
// eligible warehouses in stock primary-key order. Every line is evaluated
// before any failure is raised; an InsufficientStockError lists all lines that
// could not be covered, and no writes survive (the surrounding transaction
// rolls back).
func AllocateStocks(ctx context.Context, tx *gorm.DB, params AllocateParams) ([]LineAllocation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock allocation")
	}
	lines := make([]AllocationLine, 0, len(params.Lines))
	for _, line := range params.Lines {
		if line.Quantity < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation quantity must not be negative")
		}
		if line.Quantity == 0 {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, nil
	}

	repo := NewRepository(tx)
	variantIDs := distinctVariantIDs(lines)

	stocks, err := repo.LockEligibleStocks(ctx, variantIDs, params.CountryCode, params.ChannelID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock eligible stocks")
	}

	stockIDs := make([]int64, 0, len(stocks))
	warehouseByStock := make(map[int64]uuid.UUID, len(stocks))
	for _, s := range stocks {
		stockIDs = append(stockIDs, s.ID)
		warehouseByStock[s.ID] = s.WarehouseID
	}
	allocated, err := repo.AllocatedByStock(ctx, stockIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum allocations")
	}
	reserved, err := repo.ReservedByStock(ctx, stockIDs, params.ExcludeCheckoutLineIDs, time.Now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum reservations")
	}

	available := make(map[int64]int, len(stocks))
	rowsByVariant := make(map[uuid.UUID][]CapacityRow)
	for _, s := range stocks {
		capacity := s.Quantity - allocated[s.ID] - reserved[s.ID]
		if capacity < 0 {
			capacity = 0
		}
		available[s.ID] = capacity
		rowsByVariant[s.VariantID] = append(rowsByVariant[s.VariantID], CapacityRow{ID: s.ID})
	}

	type plannedLine struct {
		line  AllocationLine
		draws []Draw
	}
	var planned []plannedLine
	var shortfalls []Shortfall

	for _, line := range lines {
		rows := rowsByVariant[line.VariantID]
		candidates := make([]CapacityRow, len(rows))
		for i, row := range rows {
			candidates[i] = CapacityRow{ID: row.ID, Available: available[row.ID]}
		}
		draws, missing := planDraws(line.Quantity, candidates)
		if missing > 0 {
			shortfalls = append(shortfalls, Shortfall{
				VariantID: line.VariantID,
				LineID:    line.OrderLineID,
				Wanted:    line.Quantity,
				Available: line.Quantity - missing,
			})
			continue
		}
		for _, draw := range draws {
			available[draw.RowID] -= draw.Quantity
		}
		planned = append(planned, plannedLine{line: line, draws: draws})
	}

	if len(shortfalls) > 0 {
		return nil, &InsufficientStockError{Shortfalls: shortfalls}
	}

	results := make([]LineAllocation, 0, len(planned))
	for _, p := range planned {
		result := LineAllocation{
			OrderLineID: p.line.OrderLineID,
			VariantID:   p.line.VariantID,
			Quantity:    p.line.Quantity,
		}
		for _, draw := range p.draws {
			if err := repo.UpsertAllocation(ctx, p.line.OrderLineID, draw.RowID, draw.Quantity); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write allocation")
			}
			if err := repo.AddStockQuantities(ctx, draw.RowID, 0, draw.Quantity); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update allocated counter")
			}
			result.Warehouses = append(result.Warehouses, warehouseByStock[draw.RowID])
		}
		results = append(results, result)
	}
	return results, nil
}

// DeallocateStock releases up to quantity units from the line's allocations,
// walking them in stock primary-key order and clamping each row at zero.
// Releasing more than is allocated is tolerated; the clamped total actually
// released is returned.
func DeallocateStock(ctx context.Context, tx *gorm.DB, orderLineID uuid.UUID, quantity int) (int, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock deallocation")
	}
	if quantity < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "deallocation quantity must not be negative")
	}
	if quantity == 0 {
		return 0, nil
	}

	repo := NewRepository(tx)
	allocations, err := repo.AllocationsForLine(ctx, orderLineID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	stockIDs := make([]int64, 0, len(allocations))
	for _, a := range allocations {
		stockIDs = append(stockIDs, a.StockID)
	}
	// Stock rows are locked even though only the counters change, so the
	// release is serialized against concurrent allocations on the same rows.
	if _, err := repo.LockStocksByID(ctx, stockIDs); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stocks")
	}

	released := 0
	remaining := quantity
	for _, alloc := range allocations {
		if remaining == 0 {
			break
		}
		take := alloc.QuantityAllocated
		if take <= 0 {
			continue
		}
		if take > remaining {
			take = remaining
		}
		if err := repo.SetAllocationQuantity(ctx, alloc.ID, alloc.QuantityAllocated-take); err != nil {
			return released, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update allocation")
		}
		if err := repo.AddStockQuantities(ctx, alloc.StockID, 0, -take); err != nil {
			return released, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update allocated counter")
		}
		released += take
		remaining -= take
	}
	return released, nil
}

// DeallocateForOrder releases every allocation held by the order's lines and
// reports how much each line gave back.
func DeallocateForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (map[uuid.UUID]int, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for order deallocation")
	}
	repo := NewRepository(tx)
	lines, err := repo.OrderLinesForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order lines")
	}
	released := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		allocations, err := repo.AllocationsForLine(ctx, line.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
		}
		total := 0
		for _, a := range allocations {
			total += a.QuantityAllocated
		}
		if total == 0 {
			continue
		}
		n, err := DeallocateStock(ctx, tx, line.ID, total)
		if err != nil {
			return nil, err
		}
		released[line.ID] = n
	}
	return released, nil
}

// DecreaseParams describes a fulfillment-time physical decrement.
type DecreaseParams struct {
	OrderLineID uuid.UUID
	VariantID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int
	// AllowNegative permits the physical quantity to drop below zero; used by
	// external correction paths, never by ordinary fulfillment.
	AllowNegative bool
}

// DecreaseStock reduces the warehouse's physical quantity and releases the same
// amount from the line's allocation in that warehouse in one step: a fulfilled
// unit is neither in stock nor allocated.
func DecreaseStock(ctx context.Context, tx *gorm.DB, params DecreaseParams) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock decrease")
	}
	if params.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "decrease quantity must not be negative")
	}
	if params.Quantity == 0 {
		return nil
	}

	repo := NewRepository(tx)
	row, err := repo.LockStockForWarehouse(ctx, params.WarehouseID, params.VariantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "stock not found for warehouse")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock")
	}

	if !params.AllowNegative && row.Quantity < params.Quantity {
		warehouseID := params.WarehouseID
		return &InsufficientStockError{Shortfalls: []Shortfall{{
			VariantID:   params.VariantID,
			LineID:      params.OrderLineID,
			WarehouseID: &warehouseID,
			Wanted:      params.Quantity,
			Available:   row.Quantity,
		}}}
	}

	releasedFromAllocation := 0
	alloc, err := repo.AllocationForLineAndStock(ctx, params.OrderLineID, row.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocation")
	}
	if alloc != nil && alloc.QuantityAllocated > 0 {
		releasedFromAllocation = alloc.QuantityAllocated
		if releasedFromAllocation > params.Quantity {
			releasedFromAllocation = params.Quantity
		}
		if err := repo.SetAllocationQuantity(ctx, alloc.ID, alloc.QuantityAllocated-releasedFromAllocation); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update allocation")
		}
	}

	if err := repo.AddStockQuantities(ctx, row.ID, -params.Quantity, -releasedFromAllocation); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock counters")
	}
	return nil
}

// IncreaseParams describes a restock.
type IncreaseParams struct {
	OrderLineID uuid.UUID
	VariantID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int
	// Allocate re-commits the restocked units to the originating order line,
	// used when returns are restocked against the order that produced them.
	Allocate bool
}

// IncreaseStock raises the warehouse's physical quantity, creating the stock
// row when the warehouse has never held the variant.
func IncreaseStock(ctx context.Context, tx *gorm.DB, params IncreaseParams) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock increase")
	}
	if params.Quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "increase quantity must not be negative")
	}
	if params.Quantity == 0 {
		return nil
	}

	repo := NewRepository(tx)
	row, err := repo.GetOrCreateStock(ctx, params.WarehouseID, params.VariantID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "get or create stock")
	}

	allocatedDelta := 0
	if params.Allocate {
		if err := repo.UpsertAllocation(ctx, params.OrderLineID, row.ID, params.Quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write allocation")
		}
		allocatedDelta = params.Quantity
	}
	if err := repo.AddStockQuantities(ctx, row.ID, params.Quantity, allocatedDelta); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock counters")
	}
	return nil
}

func distinctVariantIDs(lines []AllocationLine) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.VariantID]; ok {
			continue
		}
		seen[line.VariantID] = struct{}{}
		ids = append(ids, line.VariantID)
	}
	return ids
}
