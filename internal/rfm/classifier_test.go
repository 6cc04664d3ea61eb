package rfm

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		score domain.RFMScore
		want  domain.Segment
	}{
		{"TopScores", domain.RFMScore{R: 5, F: 5, M: 5}, domain.SegmentChampions},
		{"ChampionsBoundary", domain.RFMScore{R: 4, F: 4, M: 4}, domain.SegmentChampions},
		{"Loyal", domain.RFMScore{R: 3, F: 3, M: 3}, domain.SegmentLoyalCustomers},
		{"LoyalHighRecency", domain.RFMScore{R: 5, F: 3, M: 5}, domain.SegmentLoyalCustomers},
		{"PotentialLoyalist", domain.RFMScore{R: 4, F: 1, M: 4}, domain.SegmentPotentialLoyalists},
		{"New", domain.RFMScore{R: 5, F: 1, M: 1}, domain.SegmentNewCustomers},
		{"Promising", domain.RFMScore{R: 3, F: 2, M: 2}, domain.SegmentPromising},
		{"NeedAttention", domain.RFMScore{R: 2, F: 3, M: 3}, domain.SegmentNeedAttention},
		{"AboutToSleep", domain.RFMScore{R: 2, F: 1, M: 3}, domain.SegmentAboutToSleep},
		{"AtRisk", domain.RFMScore{R: 2, F: 3, M: 2}, domain.SegmentAtRisk},
		{"Hibernating", domain.RFMScore{R: 1, F: 1, M: 1}, domain.SegmentHibernating},
		{"LostHighFrequencyLowSpend", domain.RFMScore{R: 3, F: 3, M: 1}, domain.SegmentLost},
		{"LostRecentFrequentLowSpend", domain.RFMScore{R: 5, F: 5, M: 2}, domain.SegmentLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, action := Classify(tt.score)
			if got != tt.want {
				t.Errorf("Classify(%s) = %q, want %q", tt.score, got, tt.want)
			}
			if action == "" {
				t.Error("expected a recommended action")
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// 1-5-5 satisfies both Need Attention and Cannot Lose Them; the
	// earlier rule takes it.
	got, _ := Classify(domain.RFMScore{R: 1, F: 5, M: 5})
	if got != domain.SegmentNeedAttention {
		t.Errorf("expected Need Attention, got %q", got)
	}

	// 5-5-5 also satisfies Loyal Customers.
	got, _ = Classify(domain.RFMScore{R: 5, F: 5, M: 5})
	if got != domain.SegmentChampions {
		t.Errorf("expected Champions, got %q", got)
	}

	// 5-1-1 also satisfies Promising.
	got, _ = Classify(domain.RFMScore{R: 5, F: 1, M: 1})
	if got != domain.SegmentNewCustomers {
		t.Errorf("expected New Customers, got %q", got)
	}
}

func TestClassifyTotal(t *testing.T) {
	known := make(map[domain.Segment]bool)
	for _, s := range domain.AllSegments {
		known[s] = true
	}

	for r := 1; r <= 5; r++ {
		for f := 1; f <= 5; f++ {
			for m := 1; m <= 5; m++ {
				score := domain.RFMScore{R: r, F: f, M: m}
				seg, action := Classify(score)
				if !known[seg] {
					t.Errorf("%s classified as unknown segment %q", score, seg)
				}
				if action == "" {
					t.Errorf("%s has no action", score)
				}
			}
		}
	}
}

func TestSegmentCatalog(t *testing.T) {
	catalog := SegmentCatalog()

	if len(catalog) != len(domain.AllSegments) {
		t.Fatalf("expected %d entries, got %d", len(domain.AllSegments), len(catalog))
	}

	for i, info := range catalog {
		if info.Segment != domain.AllSegments[i] {
			t.Errorf("entry %d: expected %q, got %q", i, domain.AllSegments[i], info.Segment)
		}
		if info.Precedence != i+1 {
			t.Errorf("entry %d: expected precedence %d, got %d", i, i+1, info.Precedence)
		}
		if info.Action == "" || info.Rule == "" {
			t.Errorf("entry %d: missing rule or action", i)
		}
	}

	if catalog[len(catalog)-1].Segment != domain.SegmentLost {
		t.Error("expected Lost to be the catch-all")
	}
}
