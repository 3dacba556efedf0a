package changes

import (
	"sort"

	"regnxt-workbook-be/pkg/sheet"
)

// Flatten turns the accumulated rows into the submission list. Rows are walked in
// first-edit order and cells in recorded order; the first entry seen for a cell
// is the one kept. The result is ordered by (rowNr, colNr, sheetId, cellId), so
// it does not depend on the order rows were edited in.
func (a *Accumulator) Flatten() []ChangedCell {
	return FlattenRows(a.Rows())
}

// FlattenRows applies the Flatten rules to an explicit row list.
func FlattenRows(rows []ChangedRow) []ChangedCell {
	seen := make(map[sheet.CellKey]struct{})
	out := make([]ChangedCell, 0)

	for _, r := range rows {
		for _, c := range r.ChangedCells {
			k := c.Key()
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RowNr != out[j].RowNr {
			return out[i].RowNr < out[j].RowNr
		}
		if out[i].ColNr != out[j].ColNr {
			return out[i].ColNr < out[j].ColNr
		}
		if out[i].SheetID != out[j].SheetID {
			return out[i].SheetID < out[j].SheetID
		}
		return out[i].CellID < out[j].CellID
	})
	return out
}
