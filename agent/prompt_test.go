package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/callstream/gong"
)

func TestInstructions(t *testing.T) {
	got := Instructions(PromptInput{
		Meta: gong.MetaData{
			ID:        "42",
			Title:     "Renewal review",
			Scheduled: "2026-03-02T15:00:00Z",
			Duration:  1830,
			System:    "Zoom",
		},
		Parties: []gong.Party{
			{Name: "Dana Reyes", Affiliation: "Internal", Title: "AE"},
			{Affiliation: "External"},
		},
		FileTree: "gong-calls/\n└── 42-renewal.md",
		Company:  "Acme",
		Now:      time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
	})

	for _, want := range []string{
		"You are an expert sales call analyst",
		"**Call:** Renewal review",
		"**Date:** 2026-03-02T15:00:00Z",
		"**Duration:** 31 minutes",
		"**System:** Zoom",
		"- Dana Reyes (Internal) - AE",
		"- Unknown (External)",
		"```\ngong-calls/\n└── 42-renewal.md\n```",
		"- Current date: 2026-03-03T09:00:00Z",
		"- Company: Acme",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}

func TestInstructions_Defaults(t *testing.T) {
	got := Instructions(PromptInput{Meta: gong.MetaData{Started: "2026-03-02T15:04:00Z"}})

	for _, want := range []string{
		"**Call:** Untitled Call",
		"**Date:** 2026-03-02T15:04:00Z",
		"**Duration:** Unknown",
		"**System:** Unknown",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}
