package workbook

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// inputColor is the font color that marks hand-entered inputs.
const inputColor = "0000FF"

// Render writes wb as an .xlsx document.
func Render(wb *Workbook) ([]byte, error) {
	if len(wb.sheets) == 0 {
		return nil, fmt.Errorf("render: workbook has no sheets")
	}
	f := excelize.NewFile()
	defer f.Close()

	inputStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Color: inputColor}})
	if err != nil {
		return nil, fmt.Errorf("render: input style: %w", err)
	}

	for i, sh := range wb.sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.Name); err != nil {
				return nil, fmt.Errorf("render: rename %s: %w", sh.Name, err)
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return nil, fmt.Errorf("render: add %s: %w", sh.Name, err)
		}
		if err := renderSheet(f, sh, inputStyle); err != nil {
			return nil, fmt.Errorf("render %s: %w", sh.Name, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render: write: %w", err)
	}
	return buf.Bytes(), nil
}

func renderSheet(f *excelize.File, sh *Sheet, inputStyle int) error {
	for _, ref := range sh.Refs() {
		c := sh.Cells[ref]
		var err error
		if c.Formula != "" {
			err = f.SetCellFormula(sh.Name, ref, c.Formula)
		} else {
			err = f.SetCellValue(sh.Name, ref, c.Value)
		}
		if err != nil {
			return fmt.Errorf("cell %s: %w", ref, err)
		}
		if c.Styled {
			if err := f.SetCellStyle(sh.Name, ref, ref, inputStyle); err != nil {
				return fmt.Errorf("style %s: %w", ref, err)
			}
		}
	}

	show := sh.ShowGridLines
	if err := f.SetSheetView(sh.Name, 0, &excelize.ViewOptions{ShowGridLines: &show}); err != nil {
		return fmt.Errorf("view: %w", err)
	}

	if sh.Freeze != "" {
		col, row, err := excelize.CellNameToCoordinates(sh.Freeze)
		if err != nil {
			return fmt.Errorf("freeze %s: %w", sh.Freeze, err)
		}
		if err := f.SetPanes(sh.Name, &excelize.Panes{
			Freeze:      true,
			XSplit:      col - 1,
			YSplit:      row - 1,
			TopLeftCell: sh.Freeze,
			ActivePane:  "bottomRight",
		}); err != nil {
			return fmt.Errorf("panes: %w", err)
		}
	}

	for _, ch := range sh.Charts {
		series := make([]excelize.ChartSeries, len(ch.Series))
		for i, s := range ch.Series {
			series[i] = excelize.ChartSeries{Name: s.Name, Categories: s.Categories, Values: s.Values}
		}
		if err := f.AddChart(sh.Name, ch.Anchor, &excelize.Chart{
			Type:   excelize.Line,
			Series: series,
			Title:  []excelize.RichTextRun{{Text: ch.Title}},
		}); err != nil {
			return fmt.Errorf("chart %s: %w", ch.Anchor, err)
		}
	}
	return nil
}
