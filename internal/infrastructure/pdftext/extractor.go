// Package pdftext extracts plain text from PDF files with ledongthuc/pdf.
package pdftext

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the text of every readable page and the page count. The
// PDF library panics on some malformed inputs; those surface as
// ErrParseFailed like any other read error.
func (e *Extractor) Extract(ctx context.Context, path string) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, pages = "", 0
			err = domain.WrapError(domain.ErrParseFailed, "extract pdf text", fmt.Errorf("malformed pdf %s: %v", path, r))
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", 0, domain.WrapError(domain.ErrParseFailed, "open pdf", err)
	}
	defer f.Close()

	pages = reader.NumPage()
	var b strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf_page_text_failed", "path", path, "page", i, "error", err)
			continue
		}
		b.WriteString(content)
		b.WriteByte('\n')
	}
	return normalize(b.String()), pages, nil
}

func normalize(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	raw = strings.ReplaceAll(raw, "\u00a0", " ")
	raw = spaceRun.ReplaceAllString(raw, " ")
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
