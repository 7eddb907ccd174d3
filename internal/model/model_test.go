package model

import (
	"testing"
)

func TestSeverityRankOrder(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		if Severities[i-1].Rank() <= Severities[i].Rank() {
			t.Errorf("%s should outrank %s", Severities[i-1], Severities[i])
		}
	}
	if Severity("bogus").String() != "unknown" {
		t.Errorf("expected unknown severity string")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		raw  string
		want Severity
	}{
		{"blocker", SeverityBlocker},
		{"Critical", SeverityBlocker},
		{" high ", SeverityHigh},
		{"warning", SeverityMedium},
		{"minor", SeverityLow},
		{"info", SeverityNit},
	}
	for _, tt := range tests {
		got, err := ParseSeverity(tt.raw)
		if err != nil {
			t.Errorf("ParseSeverity(%q): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
	if _, err := ParseSeverity("urgent-ish"); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestCountAndScore(t *testing.T) {
	issues := []ReviewIssue{
		{Severity: SeverityBlocker},
		{Severity: SeverityHigh},
		{Severity: SeverityHigh},
		{Severity: SeverityNit},
	}
	c := CountSeverities(issues)
	if c.Blocker != 1 || c.High != 2 || c.Nit != 1 || c.Total() != 4 {
		t.Errorf("unexpected counts %+v", c)
	}
	if got := Score(c); got != 4 {
		t.Errorf("Score = %v, want 4", got)
	}
	if got := Score(SeverityCounts{Blocker: 5}); got != 0 {
		t.Errorf("Score floor = %v, want 0", got)
	}
}

func TestFilterBySeverity(t *testing.T) {
	issues := []ReviewIssue{
		{ID: "a", Severity: SeverityLow},
		{ID: "b", Severity: SeverityHigh},
		{ID: "c", Severity: SeverityNit},
	}
	got := FilterBySeverity(issues, SeverityLow)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("unexpected filter result %+v", got)
	}
	if len(FilterBySeverity(issues, "")) != 3 {
		t.Error("empty minimum should keep everything")
	}
}

func TestFindIssue(t *testing.T) {
	r := SavedReview{Result: OrchestrationOutcome{Issues: []ReviewIssue{{ID: "x1", Title: "t"}}}}
	if _, ok := r.FindIssue("x1"); !ok {
		t.Error("expected to find x1")
	}
	if _, ok := r.FindIssue("nope"); ok {
		t.Error("did not expect to find nope")
	}
}
