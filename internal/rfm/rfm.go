package rfm

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultLimit is the number of customers returned when no limit is given.
const DefaultLimit = 100

// Options controls filtering of an analysis result.
type Options struct {
	// Segment keeps only customers of this segment. Names that are not
	// one of the known segments do not filter.
	Segment string

	// Limit caps the number of returned customers. Values <= 0 use DefaultLimit.
	Limit int
}

// Analyze scores, classifies and summarizes the given population.
//
// The summary and total always cover the whole population; the segment
// filter and the limit only apply to the returned customer list.
func Analyze(aggs []domain.PurchaseAggregate, opts Options) *domain.SegmentationResult {
	classified := ClassifyAll(aggs)

	result := &domain.SegmentationResult{
		Customers:      []domain.ClassifiedCustomer{},
		SegmentSummary: Summarize(classified),
		TotalCustomers: len(classified),
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	filter, filtered := domain.ParseSegment(opts.Segment)
	for _, c := range classified {
		if len(result.Customers) >= limit {
			break
		}
		if filtered && c.Segment != filter {
			continue
		}
		result.Customers = append(result.Customers, c)
	}

	return result
}

// ClassifyAll scores the population and classifies every customer, in
// input order.
func ClassifyAll(aggs []domain.PurchaseAggregate) []domain.ClassifiedCustomer {
	scores := Score(aggs)

	classified := make([]domain.ClassifiedCustomer, len(aggs))
	for i, a := range aggs {
		segment, action := Classify(scores[i])
		classified[i] = domain.ClassifiedCustomer{
			CustomerID:        a.CustomerID,
			CustomerName:      a.Name,
			CustomerEmail:     a.Email,
			Company:           a.Company,
			RecencyDays:       a.RecencyDays,
			FrequencyScore:    a.Frequency,
			MonetaryValue:     a.Monetary,
			RFMScore:          scores[i].String(),
			Segment:           segment,
			LifetimeValue:     a.Monetary,
			AverageOrderValue: a.AverageOrderValue,
			TotalOrders:       a.Frequency,
			LastPurchaseDate:  a.LastPurchase,
			CustomerSince:     a.CustomerSince,
			RecommendedAction: action,
			Score:             scores[i],
		}
	}
	return classified
}
