package rfm

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// segmentRule is one entry of the ordered classification table.
type segmentRule struct {
	segment     domain.Segment
	description string
	action      string
	match       func(s domain.RFMScore) bool
}

// segmentRules is evaluated top to bottom; the first match wins. The
// predicates overlap, so the order is part of the classification.
var segmentRules = []segmentRule{
	{
		segment:     domain.SegmentChampions,
		description: "R>=4 and F>=4 and M>=4",
		action:      "Reward them. Can be early adopters for new products. Will promote your brand.",
		match:       func(s domain.RFMScore) bool { return s.R >= 4 && s.F >= 4 && s.M >= 4 },
	},
	{
		segment:     domain.SegmentLoyalCustomers,
		description: "R>=3 and F>=3 and M>=3",
		action:      "Upsell higher value products. Ask for reviews. Engage them.",
		match:       func(s domain.RFMScore) bool { return s.R >= 3 && s.F >= 3 && s.M >= 3 },
	},
	{
		segment:     domain.SegmentPotentialLoyalists,
		description: "R>=3 and F<=2 and M>=3",
		action:      "Offer membership or loyalty programs. Recommend related products.",
		match:       func(s domain.RFMScore) bool { return s.R >= 3 && s.F <= 2 && s.M >= 3 },
	},
	{
		segment:     domain.SegmentNewCustomers,
		description: "R>=4 and F<=2 and M<=2",
		action:      "Provide onboarding support. Give them early success. Start building relationship.",
		match:       func(s domain.RFMScore) bool { return s.R >= 4 && s.F <= 2 && s.M <= 2 },
	},
	{
		segment:     domain.SegmentPromising,
		description: "R>=3 and F<=2 and M<=2",
		action:      "Create brand awareness. Offer free trials.",
		match:       func(s domain.RFMScore) bool { return s.R >= 3 && s.F <= 2 && s.M <= 2 },
	},
	{
		segment:     domain.SegmentNeedAttention,
		description: "R<=2 and F>=3 and M>=3",
		action:      "Make limited time offers. Recommend based on past purchases. Reactivate them.",
		match:       func(s domain.RFMScore) bool { return s.R <= 2 && s.F >= 3 && s.M >= 3 },
	},
	{
		segment:     domain.SegmentAboutToSleep,
		description: "R<=2 and F<=2 and M>=3",
		action:      "Share valuable resources. Recommend popular products. Reconnect with them.",
		match:       func(s domain.RFMScore) bool { return s.R <= 2 && s.F <= 2 && s.M >= 3 },
	},
	{
		segment:     domain.SegmentAtRisk,
		description: "R<=2 and F>=3 and M<=2",
		action:      "Send personalized emails. Offer discounts. Provide helpful resources.",
		match:       func(s domain.RFMScore) bool { return s.R <= 2 && s.F >= 3 && s.M <= 2 },
	},
	{
		segment:     domain.SegmentCannotLoseThem,
		description: "R<=1 and F>=4 and M>=4",
		action:      "Win them back via renewals or newer products. Don't lose them to competition.",
		match:       func(s domain.RFMScore) bool { return s.R <= 1 && s.F >= 4 && s.M >= 4 },
	},
	{
		segment:     domain.SegmentHibernating,
		description: "R<=2 and F<=2 and M<=2",
		action:      "Offer other relevant products and special discounts. Recreate brand value.",
		match:       func(s domain.RFMScore) bool { return s.R <= 2 && s.F <= 2 && s.M <= 2 },
	},
}

var lostRule = segmentRule{
	segment:     domain.SegmentLost,
	description: "no other rule matched",
	action:      "Revive interest with reach out campaign. Ignore otherwise.",
}

// Classify maps an RFM score to its segment and recommended action.
// Scores that match no rule are Lost.
func Classify(s domain.RFMScore) (domain.Segment, string) {
	for _, rule := range segmentRules {
		if rule.match(s) {
			return rule.segment, rule.action
		}
	}
	return lostRule.segment, lostRule.action
}

// SegmentCatalog lists every segment with its rule and action, in
// precedence order.
func SegmentCatalog() []domain.SegmentInfo {
	rules := make([]segmentRule, 0, len(segmentRules)+1)
	rules = append(rules, segmentRules...)
	rules = append(rules, lostRule)

	catalog := make([]domain.SegmentInfo, 0, len(rules))
	for i, rule := range rules {
		catalog = append(catalog, domain.SegmentInfo{
			Segment:    rule.segment,
			Rule:       rule.description,
			Action:     rule.action,
			Precedence: i + 1,
		})
	}
	return catalog
}
