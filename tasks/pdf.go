package tasks

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PDFLoader extracts plain text page by page and applies the line rules
// of TextLoader.
type PDFLoader struct{}

func (l *PDFLoader) SupportedFormats() []string { return []string{"pdf"} }

func (l *PDFLoader) Load(ctx context.Context, path string) ([]string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var out []string
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		out = append(out, splitLines(text)...)
	}
	return out, nil
}
