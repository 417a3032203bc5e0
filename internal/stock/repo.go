package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stockyardhq/stockyard-backend/pkg/db"
	"github.com/stockyardhq/stockyard-backend/pkg/db/models"
)

// Repository owns every query the engine issues. Multi-row lock acquisition is
// funneled through the Lock* methods, which order rows by primary key before
// locking; call sites must not lock ad hoc.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a stock repository bound to the provided DB or transaction.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// forUpdate applies a row lock on the named table. SQLite (used in tests) has
// no row locks and serializes writers at the database level, so the clause is
// skipped there.
func (r *Repository) forUpdate(q *gorm.DB, table string) *gorm.DB {
	if r.db.Dialector.Name() != "postgres" {
		return q
	}
	return q.Clauses(clause.Locking{
		Strength: "UPDATE",
		Table:    clause.Table{Name: table},
	})
}

// LockEligibleStocks loads and locks the stock rows for the given variants in
// warehouses that serve the country (and channel, when provided), ordered by
// primary key ascending.
func (r *Repository) LockEligibleStocks(ctx context.Context, variantIDs []uuid.UUID, countryCode string, channelID uuid.UUID) ([]models.Stock, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Joins("JOIN warehouse_countries wc ON wc.warehouse_id = stocks.warehouse_id AND wc.country_code = ?", countryCode).
		Where("stocks.variant_id IN ?", variantIDs).
		Order("stocks.id ASC")
	if channelID != uuid.Nil {
		q = q.Joins("JOIN warehouse_channels wch ON wch.warehouse_id = stocks.warehouse_id AND wch.channel_id = ?", channelID)
	}
	q = r.forUpdate(q, "stocks")

	var rows []models.Stock
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LockStocksByID re-locks a known set of stock rows, ordered by primary key.
func (r *Repository) LockStocksByID(ctx context.Context, ids []int64) ([]models.Stock, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Where("stocks.id IN ?", ids).
		Order("stocks.id ASC")
	q = r.forUpdate(q, "stocks")

	var rows []models.Stock
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LockStockForWarehouse locks the single stock row for one warehouse/variant pair.
func (r *Repository) LockStockForWarehouse(ctx context.Context, warehouseID, variantID uuid.UUID) (*models.Stock, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Where("stocks.warehouse_id = ? AND stocks.variant_id = ?", warehouseID, variantID)
	q = r.forUpdate(q, "stocks")

	var row models.Stock
	if err := q.First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// LockListings loads and locks the channel listings for the given variants on
// one channel, ordered by primary key ascending.
func (r *Repository) LockListings(ctx context.Context, variantIDs []uuid.UUID, channelID uuid.UUID) ([]models.VariantChannelListing, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).
		Model(&models.VariantChannelListing{}).
		Where("variant_channel_listings.variant_id IN ? AND variant_channel_listings.channel_id = ?", variantIDs, channelID).
		Order("variant_channel_listings.id ASC")
	q = r.forUpdate(q, "variant_channel_listings")

	var rows []models.VariantChannelListing
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// LockVariants loads and locks the given variant rows, ordered by primary key
// ascending. A global preorder threshold spans the variant's listings on every
// channel, so the variant row is the one lock all channels contend on.
func (r *Repository) LockVariants(ctx context.Context, ids []uuid.UUID) ([]models.ProductVariant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("product_variants.id IN ?", ids).
		Order("product_variants.id ASC")
	q = r.forUpdate(q, "product_variants")

	var rows []models.ProductVariant
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// AllocatedByStock sums active allocations per stock row.
func (r *Repository) AllocatedByStock(ctx context.Context, stockIDs []int64) (map[int64]int, error) {
	type row struct {
		StockID int64
		Total   int
	}
	var rows []row
	if len(stockIDs) == 0 {
		return map[int64]int{}, nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Select("stock_id, COALESCE(SUM(quantity_allocated), 0) AS total").
		Where("stock_id IN ?", stockIDs).
		Group("stock_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int, len(rows))
	for _, r := range rows {
		totals[r.StockID] = r.Total
	}
	return totals, nil
}

// ReservedByStock sums reservations per stock row that are still active at now,
// excluding those owned by the given checkout lines. Expired rows never count,
// whether or not the sweep has removed them.
func (r *Repository) ReservedByStock(ctx context.Context, stockIDs []int64, excludeLineIDs []uuid.UUID, now time.Time) (map[int64]int, error) {
	type row struct {
		StockID int64
		Total   int
	}
	if len(stockIDs) == 0 {
		return map[int64]int{}, nil
	}
	q := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Select("stock_id, COALESCE(SUM(quantity_reserved), 0) AS total").
		Where("stock_id IN ?", stockIDs).
		Where("reserved_until > ?", now).
		Group("stock_id")
	if len(excludeLineIDs) > 0 {
		q = q.Where("checkout_line_id NOT IN ?", excludeLineIDs)
	}
	var rows []row
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[int64]int, len(rows))
	for _, r := range rows {
		totals[r.StockID] = r.Total
	}
	return totals, nil
}

// AllocationsForLine returns the line's allocations ordered by stock primary key.
func (r *Repository) AllocationsForLine(ctx context.Context, orderLineID uuid.UUID) ([]models.Allocation, error) {
	var rows []models.Allocation
	err := r.db.WithContext(ctx).
		Where("order_line_id = ?", orderLineID).
		Order("stock_id ASC").
		Find(&rows).Error
	return rows, err
}

// AllocationForLineAndStock returns the allocation row for one pair, or nil.
func (r *Repository) AllocationForLineAndStock(ctx context.Context, orderLineID uuid.UUID, stockID int64) (*models.Allocation, error) {
	var row models.Allocation
	err := r.db.WithContext(ctx).
		Where("order_line_id = ? AND stock_id = ?", orderLineID, stockID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpsertAllocation adds quantity to the allocation for (order line, stock),
// creating the row when absent.
func (r *Repository) UpsertAllocation(ctx context.Context, orderLineID uuid.UUID, stockID int64, quantity int) error {
	existing, err := r.AllocationForLineAndStock(ctx, orderLineID, stockID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.WithContext(ctx).Create(&models.Allocation{
			OrderLineID:       orderLineID,
			StockID:           stockID,
			QuantityAllocated: quantity,
		}).Error
	}
	return r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Where("id = ?", existing.ID).
		Update("quantity_allocated", gorm.Expr("quantity_allocated + ?", quantity)).Error
}

// SetAllocationQuantity overwrites one allocation row's quantity.
func (r *Repository) SetAllocationQuantity(ctx context.Context, allocationID int64, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.Allocation{}).
		Where("id = ?", allocationID).
		Update("quantity_allocated", quantity).Error
}

// AddStockQuantities applies deltas to a stock row's physical and allocated
// counters in one statement.
func (r *Repository) AddStockQuantities(ctx context.Context, stockID int64, quantityDelta, allocatedDelta int) error {
	updates := map[string]any{}
	if quantityDelta != 0 {
		updates["quantity"] = gorm.Expr("quantity + ?", quantityDelta)
	}
	if allocatedDelta != 0 {
		updates["quantity_allocated"] = gorm.Expr("quantity_allocated + ?", allocatedDelta)
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Where("id = ?", stockID).
		Updates(updates).Error
}

// GetOrCreateStock returns the stock row for a warehouse/variant pair, creating
// an empty one when missing.
func (r *Repository) GetOrCreateStock(ctx context.Context, warehouseID, variantID uuid.UUID) (*models.Stock, error) {
	row, err := r.LockStockForWarehouse(ctx, warehouseID, variantID)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	created := models.Stock{WarehouseID: warehouseID, VariantID: variantID}
	if err := r.db.WithContext(ctx).Create(&created).Error; err != nil {
		// lost the insert race; the row exists now, lock it instead
		if db.IsUniqueViolation(err, "ux_stocks_warehouse_variant") {
			return r.LockStockForWarehouse(ctx, warehouseID, variantID)
		}
		return nil, err
	}
	return &created, nil
}

// DeleteReservationsForLines removes every reservation owned by the given
// checkout lines (replace semantics).
func (r *Repository) DeleteReservationsForLines(ctx context.Context, lineIDs []uuid.UUID) error {
	if len(lineIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("checkout_line_id IN ?", lineIDs).
		Delete(&models.Reservation{}).Error
}

// CreateReservations inserts a batch of reservation rows.
func (r *Repository) CreateReservations(ctx context.Context, rows []models.Reservation) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// OrderLinesForOrder returns the order's lines.
func (r *Repository) OrderLinesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	var rows []models.OrderLine
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// VariantsByID loads variants keyed by id.
func (r *Repository) VariantsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]models.ProductVariant{}, nil
	}
	var rows []models.ProductVariant
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.ProductVariant, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	return byID, nil
}

// ChannelBySlug resolves a channel row from its slug, or nil when unknown.
func (r *Repository) ChannelBySlug(ctx context.Context, slug string) (*models.Channel, error) {
	var row models.Channel
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// PreorderAllocatedByListing sums preorder allocations per listing.
func (r *Repository) PreorderAllocatedByListing(ctx context.Context, listingIDs []int64) (map[int64]int, error) {
	type row struct {
		ChannelListingID int64
		Total            int
	}
	if len(listingIDs) == 0 {
		return map[int64]int{}, nil
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.PreorderAllocation{}).
		Select("channel_listing_id, COALESCE(SUM(quantity), 0) AS total").
		Where("channel_listing_id IN ?", listingIDs).
		Group("channel_listing_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int, len(rows))
	for _, r := range rows {
		totals[r.ChannelListingID] = r.Total
	}
	return totals, nil
}

// PreorderReservedByListing sums active preorder reservations per listing,
// excluding the given checkout lines.
func (r *Repository) PreorderReservedByListing(ctx context.Context, listingIDs []int64, excludeLineIDs []uuid.UUID, now time.Time) (map[int64]int, error) {
	type row struct {
		ChannelListingID int64
		Total            int
	}
	if len(listingIDs) == 0 {
		return map[int64]int{}, nil
	}
	q := r.db.WithContext(ctx).
		Model(&models.PreorderReservation{}).
		Select("channel_listing_id, COALESCE(SUM(quantity_reserved), 0) AS total").
		Where("channel_listing_id IN ?", listingIDs).
		Where("reserved_until > ?", now).
		Group("channel_listing_id")
	if len(excludeLineIDs) > 0 {
		q = q.Where("checkout_line_id NOT IN ?", excludeLineIDs)
	}
	var rows []row
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[int64]int, len(rows))
	for _, r := range rows {
		totals[r.ChannelListingID] = r.Total
	}
	return totals, nil
}

// PreorderVariantTotals sums preorder allocations and active reservations
// across every listing of the given variants. Used for global thresholds.
func (r *Repository) PreorderVariantTotals(ctx context.Context, variantIDs []uuid.UUID, excludeLineIDs []uuid.UUID, now time.Time) (map[uuid.UUID]int, error) {
	type row struct {
		VariantID uuid.UUID
		Total     int
	}
	if len(variantIDs) == 0 {
		return map[uuid.UUID]int{}, nil
	}

	totals := make(map[uuid.UUID]int, len(variantIDs))

	var allocated []row
	err := r.db.WithContext(ctx).
		Model(&models.PreorderAllocation{}).
		Select("vcl.variant_id AS variant_id, COALESCE(SUM(preorder_allocations.quantity), 0) AS total").
		Joins("JOIN variant_channel_listings vcl ON vcl.id = preorder_allocations.channel_listing_id").
		Where("vcl.variant_id IN ?", variantIDs).
		Group("vcl.variant_id").
		Scan(&allocated).Error
	if err != nil {
		return nil, err
	}
	for _, r := range allocated {
		totals[r.VariantID] += r.Total
	}

	q := r.db.WithContext(ctx).
		Model(&models.PreorderReservation{}).
		Select("vcl.variant_id AS variant_id, COALESCE(SUM(preorder_reservations.quantity_reserved), 0) AS total").
		Joins("JOIN variant_channel_listings vcl ON vcl.id = preorder_reservations.channel_listing_id").
		Where("vcl.variant_id IN ?", variantIDs).
		Where("preorder_reservations.reserved_until > ?", now).
		Group("vcl.variant_id")
	if len(excludeLineIDs) > 0 {
		q = q.Where("preorder_reservations.checkout_line_id NOT IN ?", excludeLineIDs)
	}
	var reserved []row
	if err := q.Scan(&reserved).Error; err != nil {
		return nil, err
	}
	for _, r := range reserved {
		totals[r.VariantID] += r.Total
	}

	return totals, nil
}

// PreorderAllocationForLineAndListing returns the preorder allocation row for
// one pair, or nil.
func (r *Repository) PreorderAllocationForLineAndListing(ctx context.Context, orderLineID uuid.UUID, listingID int64) (*models.PreorderAllocation, error) {
	var row models.PreorderAllocation
	err := r.db.WithContext(ctx).
		Where("order_line_id = ? AND channel_listing_id = ?", orderLineID, listingID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpsertPreorderAllocation adds quantity to the preorder allocation for
// (order line, listing), creating the row when absent.
func (r *Repository) UpsertPreorderAllocation(ctx context.Context, orderLineID uuid.UUID, listingID int64, quantity int) error {
	existing, err := r.PreorderAllocationForLineAndListing(ctx, orderLineID, listingID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.WithContext(ctx).Create(&models.PreorderAllocation{
			OrderLineID:      orderLineID,
			ChannelListingID: listingID,
			Quantity:         quantity,
		}).Error
	}
	return r.db.WithContext(ctx).
		Model(&models.PreorderAllocation{}).
		Where("id = ?", existing.ID).
		Update("quantity", gorm.Expr("quantity + ?", quantity)).Error
}

// DeletePreorderReservationsForLines removes preorder reservations owned by the
// given checkout lines.
func (r *Repository) DeletePreorderReservationsForLines(ctx context.Context, lineIDs []uuid.UUID) error {
	if len(lineIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("checkout_line_id IN ?", lineIDs).
		Delete(&models.PreorderReservation{}).Error
}

// CreatePreorderReservations inserts a batch of preorder reservation rows.
func (r *Repository) CreatePreorderReservations(ctx context.Context, rows []models.PreorderReservation) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// ExpiredReservations returns up to limit reservation rows past their expiry,
// oldest first.
func (r *Repository) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("reserved_until <= ?", now).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteReservationsByID removes reservation rows by primary key.
func (r *Repository) DeleteReservationsByID(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.Reservation{}).Error
}

// ExpiredPreorderReservations returns up to limit preorder reservation rows
// past their expiry, oldest first.
func (r *Repository) ExpiredPreorderReservations(ctx context.Context, now time.Time, limit int) ([]models.PreorderReservation, error) {
	var rows []models.PreorderReservation
	err := r.db.WithContext(ctx).
		Where("reserved_until <= ?", now).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeletePreorderReservationsByID removes preorder reservation rows by primary key.
func (r *Repository) DeletePreorderReservationsByID(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&models.PreorderReservation{}).Error
}

// AllocatedDrift is a stock row whose cached allocated counter disagrees with
// the sum of its allocation rows.
type AllocatedDrift struct {
	StockID int64
	Cached  int
	Actual  int
}

// AllocationDrift compares every stock row's quantity_allocated cache against
// the authoritative allocation sums and returns the mismatches.
func (r *Repository) AllocationDrift(ctx context.Context) ([]AllocatedDrift, error) {
	var rows []AllocatedDrift
	err := r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Select("stocks.id AS stock_id, stocks.quantity_allocated AS cached, COALESCE(SUM(allocations.quantity_allocated), 0) AS actual").
		Joins("LEFT JOIN allocations ON allocations.stock_id = stocks.id").
		Group("stocks.id, stocks.quantity_allocated").
		Having("stocks.quantity_allocated <> COALESCE(SUM(allocations.quantity_allocated), 0)").
		Scan(&rows).Error
	return rows, err
}

// SetAllocatedCounter overwrites one stock row's quantity_allocated cache.
func (r *Repository) SetAllocatedCounter(ctx context.Context, stockID int64, value int) error {
	return r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Where("id = ?", stockID).
		Update("quantity_allocated", value).Error
}

// EligibleStocks is the non-locking variant of LockEligibleStocks, used by
// availability reads.
func (r *Repository) EligibleStocks(ctx context.Context, variantID uuid.UUID, countryCode string, channelID uuid.UUID) ([]models.Stock, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Stock{}).
		Joins("JOIN warehouse_countries wc ON wc.warehouse_id = stocks.warehouse_id AND wc.country_code = ?", countryCode).
		Where("stocks.variant_id = ?", variantID).
		Order("stocks.id ASC")
	if channelID != uuid.Nil {
		q = q.Joins("JOIN warehouse_channels wch ON wch.warehouse_id = stocks.warehouse_id AND wch.channel_id = ?", channelID)
	}
	var rows []models.Stock
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
