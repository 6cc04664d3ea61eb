package domain

import (
	"testing"
	"time"
)

func TestParseSegment(t *testing.T) {
	for _, s := range AllSegments {
		got, ok := ParseSegment(string(s))
		if !ok || got != s {
			t.Errorf("ParseSegment(%q) = %q, %v", s, got, ok)
		}
	}

	if _, ok := ParseSegment("champions"); ok {
		t.Error("expected case-sensitive match")
	}
	if _, ok := ParseSegment(""); ok {
		t.Error("expected empty name to be rejected")
	}
}

func TestAllSegmentsCount(t *testing.T) {
	if len(AllSegments) != 11 {
		t.Errorf("expected 11 segments, got %d", len(AllSegments))
	}
}

func TestRFMScoreString(t *testing.T) {
	s := RFMScore{R: 5, F: 4, M: 1}
	if s.String() != "541" {
		t.Errorf("expected 541, got %s", s.String())
	}
}

func TestRecencyDays(t *testing.T) {
	asOf := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		last time.Time
		want int
	}{
		{"SameInstant", asOf, 0},
		{"PartialDay", asOf.Add(-23 * time.Hour), 0},
		{"ExactlyOneDay", asOf.Add(-24 * time.Hour), 1},
		{"TenDays", asOf.AddDate(0, 0, -10), 10},
		{"Future", asOf.Add(48 * time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecencyDays(tt.last, asOf); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
