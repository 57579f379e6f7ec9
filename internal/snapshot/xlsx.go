package snapshot

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/reviewsense/internal/review"
)

// SheetName is the worksheet ExportXLSX writes.
const SheetName = "Reviews"

// ExportXLSX writes the final snapshot to a workbook with a styled header row.
// Ratings and confidences are stored as numbers.
func ExportXLSX(path string, rows []review.Classified) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	for i, h := range ClassifiedColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(SheetName, cell, h)
		f.SetCellStyle(SheetName, cell, cell, headerStyle)
	}

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{
			r.ProductName,
			optional(r.Manufacturer),
			optional(r.Chipset),
			r.Distributor,
			r.Rating,
			string(r.Sentiment),
			r.Text,
			string(r.Predicted),
			r.Confidence,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	widths := []float64{40, 14, 12, 14, 8, 10, 60, 10, 12}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(SheetName, col, col, w)
	}
	f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	f.SetActiveSheet(0)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}
