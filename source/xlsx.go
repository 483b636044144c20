package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LoadXLSX reads object instances from a spreadsheet: the first row names
// the fields, each following row becomes one object. An empty sheet name
// selects the first sheet. Empty cells are omitted from the object;
// numeric-looking cells are converted so natural keys and scalar
// properties keep their types.
func LoadXLSX(path, sheet string) ([]map[string]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("no sheets in %s", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %s has no data rows", sheet)
	}

	header := rows[0]
	var out []map[string]any
	for _, row := range rows[1:] {
		obj := make(map[string]any, len(header))
		for i, field := range header {
			field = strings.TrimSpace(field)
			if field == "" || i >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			obj[field] = cellValue(cell)
		}
		if len(obj) > 0 {
			out = append(out, obj)
		}
	}
	return out, nil
}

func cellValue(cell string) any {
	if i, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(cell); err == nil {
		return b
	}
	return cell
}
