package stock

import "sort"

// CapacityRow is one candidate source of units (a stock row or a preorder
// channel listing) reduced to its primary key and remaining capacity.
type CapacityRow struct {
	ID        int64
	Available int
}

// Draw assigns part of a line's demand to one capacity row.
type Draw struct {
	RowID    int64
	Quantity int
}

// planDraws distributes demand across rows greedily: rows are visited in
// primary-key order and each absorbs min(remaining, available) until demand is
// exhausted. The ordering carries no runtime-dependent signal, so repeated runs
// over the same rows produce identical plans. When capacity falls short the
// partial plan is returned together with the unmet remainder; callers decide
// whether that is an error.
func planDraws(demand int, rows []CapacityRow) ([]Draw, int) {
	if demand <= 0 {
		return nil, 0
	}

	ordered := make([]CapacityRow, len(rows))
	copy(ordered, rows)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var draws []Draw
	remaining := demand
	for _, row := range ordered {
		if remaining == 0 {
			break
		}
		available := row.Available
		if available <= 0 {
			continue
		}
		take := available
		if take > remaining {
			take = remaining
		}
		draws = append(draws, Draw{RowID: row.ID, Quantity: take})
		remaining -= take
	}
	return draws, remaining
}
