package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docscan/internal/core/domain"
)

const sheetName = "Blocks"

var headers = []string{"Page", "Block ID", "X1", "Y1", "X2", "Y2", "Text", "Confidence", "Score"}

// Exporter writes a recognized result as an XLSX workbook, one row per block in page order.
type Exporter struct{}

func NewExporter() *Exporter {
	return &Exporter{}
}

func (Exporter) Export(w io.Writer, result *domain.OCRResult) error {
	if result == nil {
		return domain.WrapError(domain.ErrInvalidInput, "export result", fmt.Errorf("result is nil"))
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	row := 2
	for _, page := range result.Pages {
		for _, block := range page.Blocks {
			values := []any{
				page.PageIndex + 1,
				block.BlockID,
				block.Box.X1, block.Box.Y1, block.Box.X2, block.Box.Y2,
				block.Text,
				block.Confidence,
				block.Score,
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
				return fmt.Errorf("write row %d: %w", row, err)
			}
			row++
		}
	}

	_ = f.SetColWidth(sheetName, "B", "B", 20)
	_ = f.SetColWidth(sheetName, "G", "G", 60)
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
