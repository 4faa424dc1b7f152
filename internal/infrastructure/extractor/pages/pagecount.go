package pages

import (
	"bytes"
	"log/slog"

	"github.com/ledongthuc/pdf"
)

type PageCounter struct{}

func NewPageCounter() *PageCounter {
	return &PageCounter{}
}

// CountPages reads the PDF page tree. Non-PDF sources count as one page; unreadable PDFs
// report ok=false.
func (PageCounter) CountPages(data []byte, contentType, filename string) (n int, ok bool) {
	if !IsPDF(data, contentType, filename) {
		return 1, true
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("pdf_page_count_failed", "filename", filename, "panic", r)
			n, ok = 0, false
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Warn("pdf_page_count_failed", "filename", filename, "error", err)
		return 0, false
	}
	pages := reader.NumPage()
	if pages <= 0 {
		return 0, false
	}
	return pages, true
}
