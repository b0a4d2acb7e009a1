package pricing

// BillingClass identifies which credit pool an engine draws from.
type BillingClass string

const (
	ClassStandard BillingClass = "standard"
	ClassFast     BillingClass = "fast"
	ClassPremium  BillingClass = "premium"
	ClassEdit     BillingClass = "edit"
	ClassKontext  BillingClass = "kontext"
	ClassUpscale  BillingClass = "upscale"
)

// CreditPool names the counter a billing class debits.
type CreditPool string

const (
	PoolStandard CreditPool = "standard"
	PoolPremium  CreditPool = "premium"
	// PoolMetered is tracked for cost reporting only and never denies a request.
	PoolMetered CreditPool = "metered"
)

// Engine is an immutable catalog entry for one model/provider pair.
// Every engine belongs to exactly one provider and one billing class.
type Engine struct {
	ID            string
	Provider      string
	UnitCostCents int
	Class         BillingClass
}

// Engine identifiers known to the catalog.
const (
	EngineStandard = "standard"
	EngineFast     = "fast"
	EnginePremium  = "premium"
	EngineEdit     = "edit"
	EngineKontext  = "kontext"
	EngineUpscale  = "upscale"
)

var engines = map[string]Engine{
	EngineStandard: {ID: EngineStandard, Provider: "flux", UnitCostCents: 4, Class: ClassStandard},
	EngineFast:     {ID: EngineFast, Provider: "flux", UnitCostCents: 2, Class: ClassFast},
	EnginePremium:  {ID: EnginePremium, Provider: "flux", UnitCostCents: 12, Class: ClassPremium},
	EngineEdit:     {ID: EngineEdit, Provider: "flux", UnitCostCents: 10, Class: ClassEdit},
	EngineKontext:  {ID: EngineKontext, Provider: "flux", UnitCostCents: 10, Class: ClassKontext},
	EngineUpscale:  {ID: EngineUpscale, Provider: "topaz", UnitCostCents: 1, Class: ClassUpscale},
}

// PoolForClass maps a billing class to the credit pool it consumes.
// Standard and fast generations draw from the monthly standard pool,
// premium/edit/kontext from the premium pool. Upscales are metered
// outside the monthly pools and are always admitted.
func PoolForClass(class BillingClass) CreditPool {
	switch class {
	case ClassStandard, ClassFast:
		return PoolStandard
	case ClassPremium, ClassEdit, ClassKontext:
		return PoolPremium
	default:
		return PoolMetered
	}
}
