package domain

import (
	"fmt"
	"time"
)

// Segment is one of the eleven RFM customer segments.
type Segment string

const (
	SegmentChampions          Segment = "Champions"
	SegmentLoyalCustomers     Segment = "Loyal Customers"
	SegmentPotentialLoyalists Segment = "Potential Loyalists"
	SegmentNewCustomers       Segment = "New Customers"
	SegmentPromising          Segment = "Promising"
	SegmentNeedAttention      Segment = "Need Attention"
	SegmentAboutToSleep       Segment = "About to Sleep"
	SegmentAtRisk             Segment = "At Risk"
	SegmentCannotLoseThem     Segment = "Cannot Lose Them"
	SegmentHibernating        Segment = "Hibernating"
	SegmentLost               Segment = "Lost"
)

// AllSegments lists every segment in classification order.
var AllSegments = []Segment{
	SegmentChampions,
	SegmentLoyalCustomers,
	SegmentPotentialLoyalists,
	SegmentNewCustomers,
	SegmentPromising,
	SegmentNeedAttention,
	SegmentAboutToSleep,
	SegmentAtRisk,
	SegmentCannotLoseThem,
	SegmentHibernating,
	SegmentLost,
}

// ParseSegment returns the segment with the given name.
// The match is exact; unknown names report false.
func ParseSegment(name string) (Segment, bool) {
	for _, s := range AllSegments {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// RFMScore holds the recency, frequency and monetary quintile scores,
// each in [1,5]. Scores are relative to the population they were computed on.
type RFMScore struct {
	R int `json:"r"`
	F int `json:"f"`
	M int `json:"m"`
}

// String renders the score as the three digit "RFM" code, e.g. "541".
func (s RFMScore) String() string {
	return fmt.Sprintf("%d%d%d", s.R, s.F, s.M)
}

// ClassifiedCustomer is a purchase aggregate annotated with its RFM score,
// segment and recommended action.
type ClassifiedCustomer struct {
	CustomerID        string    `json:"customer_id"`
	CustomerName      string    `json:"customer_name"`
	CustomerEmail     string    `json:"customer_email"`
	Company           string    `json:"company,omitempty"`
	RecencyDays       int       `json:"recency_days"`
	FrequencyScore    int       `json:"frequency_score"`
	MonetaryValue     float64   `json:"monetary_value"`
	RFMScore          string    `json:"rfm_score"`
	Segment           Segment   `json:"segment"`
	LifetimeValue     float64   `json:"lifetime_value"`
	AverageOrderValue float64   `json:"average_order_value"`
	TotalOrders       int       `json:"total_orders"`
	LastPurchaseDate  time.Time `json:"last_purchase_date"`
	CustomerSince     time.Time `json:"customer_since"`
	RecommendedAction string    `json:"recommended_action"`

	Score RFMScore `json:"-"`
}

// SegmentSummary holds aggregate statistics for one observed segment.
type SegmentSummary struct {
	Count        int     `json:"count"`
	TotalValue   float64 `json:"total_value"`
	AvgRecency   float64 `json:"avg_recency"`
	AvgFrequency float64 `json:"avg_frequency"`
	AvgMonetary  float64 `json:"avg_monetary"`
}

// SegmentationResult is the response of an RFM analysis.
// SegmentSummary and TotalCustomers always describe the full population,
// Customers may be filtered and truncated.
type SegmentationResult struct {
	Customers      []ClassifiedCustomer       `json:"customers"`
	SegmentSummary map[Segment]SegmentSummary `json:"segment_summary"`
	TotalCustomers int                        `json:"total_customers"`
}

// SegmentInfo describes a segment's classification rule and action.
type SegmentInfo struct {
	Segment    Segment `json:"segment"`
	Rule       string  `json:"rule"`
	Action     string  `json:"recommended_action"`
	Precedence int     `json:"precedence"`
}
