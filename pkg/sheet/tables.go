package sheet

import "encoding/json"

// TableNode is one node of the workbook table tree returned by
// GET /RI/Workbook/Tables. Leaves are sheets and carry the server-side counts.
type TableNode struct {
	Key          string          `json:"key"`
	Label        string          `json:"label"`
	Data         json.RawMessage `json:"data,omitempty"`
	Children     []TableNode     `json:"children,omitempty"`
	CellCount    *int            `json:"cellcount,omitempty"`
	InvalidCount *int            `json:"invalidcount,omitempty"`
}

// TotalCounts are the aggregates the server reports for a workbook.
type TotalCounts struct {
	TotalCellCount    int `json:"totalCellCount"`
	TotalInvalidCount int `json:"totalInvalidCount"`
}

// SumCounts adds up the counts reported on every node of the tree. Parents
// that repeat the sum of their children are skipped in favour of the children.
func SumCounts(nodes []TableNode) TotalCounts {
	var total TotalCounts
	for _, n := range nodes {
		if len(n.Children) > 0 {
			sub := SumCounts(n.Children)
			total.TotalCellCount += sub.TotalCellCount
			total.TotalInvalidCount += sub.TotalInvalidCount
			continue
		}
		if n.CellCount != nil {
			total.TotalCellCount += *n.CellCount
		}
		if n.InvalidCount != nil {
			total.TotalInvalidCount += *n.InvalidCount
		}
	}
	return total
}
