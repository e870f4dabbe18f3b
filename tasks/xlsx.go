package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXLoader reads the first cell of every row of every sheet. A leading
// "task" or "tasks" header cell is skipped.
type XLSXLoader struct{}

func (l *XLSXLoader) SupportedFormats() []string { return []string{"xlsx"} }

func (l *XLSXLoader) Load(ctx context.Context, path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var out []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for i, row := range rows {
			if len(row) == 0 {
				continue
			}
			cell := strings.TrimSpace(row[0])
			if cell == "" {
				continue
			}
			if i == 0 && isHeader(cell) {
				continue
			}
			out = append(out, cell)
		}
	}
	return out, nil
}

func isHeader(cell string) bool {
	switch strings.ToLower(cell) {
	case "task", "tasks":
		return true
	}
	return false
}
