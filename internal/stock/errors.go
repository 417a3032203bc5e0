package stock

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Shortfall describes one line whose demand could not be fully covered.
type Shortfall struct {
	VariantID   uuid.UUID  `json:"variant_id"`
	LineID      uuid.UUID  `json:"line_id"`
	WarehouseID *uuid.UUID `json:"warehouse_id,omitempty"`
	Wanted      int        `json:"wanted"`
	Available   int        `json:"available"`
}

// InsufficientStockError aggregates every unsatisfiable line of a batch. It is
// an expected, data-dependent outcome: the whole batch is evaluated before the
// error is built, so callers always see the complete picture.
type InsufficientStockError struct {
	Shortfalls []Shortfall
}

func (e *InsufficientStockError) Error() string {
	if e == nil || len(e.Shortfalls) == 0 {
		return "insufficient stock"
	}
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		parts = append(parts, fmt.Sprintf("variant %s line %s wanted %d available %d", s.VariantID, s.LineID, s.Wanted, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}
