package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedType is returned for files whose MIME type has no
// registered extractor.
var ErrUnsupportedType = errors.New("ingest: unsupported file type")

// Supported MIME types.
const (
	MIMEPlainText = "text/plain"
	MIMEPDF       = "application/pdf"
)

// Extractor turns one file's raw bytes into the text handed to the
// knowledge index.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// defaultExtractors is the MIME dispatch table. Anything not present here
// fails with ErrUnsupportedType.
func defaultExtractors() map[string]Extractor {
	return map[string]Extractor{
		MIMEPlainText: textExtractor{},
		MIMEPDF:       pdfExtractor{},
	}
}

// textExtractor reads the whole byte stream as text, verbatim.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, data []byte) (string, error) {
	return string(data), nil
}

// pdfExtractor walks pages in ascending order and extracts their textual
// runs. Runs within a page are joined with a single space; pages are
// concatenated with no separator between them.
type pdfExtractor struct{}

func (pdfExtractor) Extract(ctx context.Context, data []byte) (text string, err error) {
	// The pdf package panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest: parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("ingest: parse pdf: %w", err)
	}

	pages := make([][]string, 0, reader.NumPage())
	for num := 1; num <= reader.NumPage(); num++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(num)
		if page.V.IsNull() {
			pages = append(pages, nil)
			continue
		}
		content := page.Content()
		runs := make([]string, 0, len(content.Text))
		for _, t := range content.Text {
			runs = append(runs, t.S)
		}
		pages = append(pages, runs)
	}
	return joinPageRuns(pages), nil
}

// joinPageRuns collapses per-page text runs into the final document text:
// a single space between runs of the same page, nothing between pages.
func joinPageRuns(pages [][]string) string {
	var b strings.Builder
	for _, runs := range pages {
		b.WriteString(strings.Join(runs, " "))
	}
	return b.String()
}
