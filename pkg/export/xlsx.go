package export

import (
	"bytes"
	"fmt"

	"regnxt-workbook-be/pkg/changes"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Changes"

var header = []string{"Sheet ID", "Cell ID", "Row", "Column", "Previous value", "New value", "Comment", "Cell code"}

// ChangesToXLSX renders a flattened submission list as a single-sheet workbook.
func ChangesToXLSX(cells []changes.ChangedCell) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range header {
		name, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(SheetName, name, h); err != nil {
			return nil, err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return nil, err
	}

	for r, c := range cells {
		row := []interface{}{c.SheetID, c.CellID, c.RowNr, c.ColNr, c.PrevValue, c.NewValue, c.Comment, c.CellCode}
		start, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, start, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}
