package main

import (
	"testing"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

func TestParseStagesAcceptsListsAndRepeats(t *testing.T) {
	got, err := parseStages([]string{"download, parse", "AI"})
	if err != nil {
		t.Fatalf("parseStages() error = %v", err)
	}
	want := []domain.Stage{domain.StageDownload, domain.StageParse, domain.StageAI}
	if len(got) != len(want) {
		t.Fatalf("parseStages() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parseStages()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseStagesRejectsUnknown(t *testing.T) {
	if _, err := parseStages([]string{"index,classify"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
