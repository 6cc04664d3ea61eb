package rfm

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Summarize groups customers by segment and computes per-segment totals
// and averages. Segments without members are omitted.
func Summarize(customers []domain.ClassifiedCustomer) map[domain.Segment]domain.SegmentSummary {
	type totals struct {
		count     int
		value     float64
		recency   int
		frequency int
	}

	acc := make(map[domain.Segment]*totals)
	for _, c := range customers {
		t, ok := acc[c.Segment]
		if !ok {
			t = &totals{}
			acc[c.Segment] = t
		}
		t.count++
		t.value += c.MonetaryValue
		t.recency += c.RecencyDays
		t.frequency += c.TotalOrders
	}

	summary := make(map[domain.Segment]domain.SegmentSummary, len(acc))
	for seg, t := range acc {
		n := float64(t.count)
		summary[seg] = domain.SegmentSummary{
			Count:        t.count,
			TotalValue:   t.value,
			AvgRecency:   float64(t.recency) / n,
			AvgFrequency: float64(t.frequency) / n,
			AvgMonetary:  t.value / n,
		}
	}
	return summary
}
