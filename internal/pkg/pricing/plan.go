package pricing

// Plan is an immutable catalog entry describing a subscription tier.
// Plans are defined at deploy time and never mutated at runtime.
type Plan struct {
	ID              string
	Name            string
	PriceCents      int
	Currency        string
	StandardCredits int
	PremiumIncluded int
}

// Plan identifiers known to the catalog.
const (
	PlanFree    = "free"
	PlanCreator = "creator"
	PlanStudio  = "studio"
)

var plans = map[string]Plan{
	PlanFree: {
		ID:              PlanFree,
		Name:            "Free",
		PriceCents:      0,
		Currency:        "EUR",
		StandardCredits: 15,
		PremiumIncluded: 0,
	},
	PlanCreator: {
		ID:              PlanCreator,
		Name:            "Creator",
		PriceCents:      990,
		Currency:        "EUR",
		StandardCredits: 200,
		PremiumIncluded: 20,
	},
	PlanStudio: {
		ID:              PlanStudio,
		Name:            "Studio",
		PriceCents:      2990,
		Currency:        "EUR",
		StandardCredits: 1000,
		PremiumIncluded: 120,
	},
}
