package pdftext

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

func TestExtractRejectsNonPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("<html>not a pdf</html>"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, _, err := NewExtractor().Extract(context.Background(), path)
	if !domain.IsKind(err, domain.ErrParseFailed) {
		t.Fatalf("expected ErrParseFailed, got %v", err)
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, _, err := NewExtractor().Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !domain.IsKind(err, domain.ErrParseFailed) {
		t.Fatalf("expected ErrParseFailed, got %v", err)
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	got := normalize("FINAL  NOTICE\r\n\r\n\r\n\r\nTo:\t Firm  Ltd  \n")
	want := "FINAL NOTICE\n\nTo: Firm Ltd"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
