package pricing

import "errors"

// Catalog lookup errors. An unknown id is a configuration error and is
// fatal to the calling request.
var (
	ErrPlanNotFound   = errors.New("pricing: plan not found")
	ErrEngineNotFound = errors.New("pricing: engine not found")
)

// GetPlan returns the catalog entry for the given plan id.
func GetPlan(planID string) (Plan, error) {
	p, ok := plans[planID]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// GetEngine returns the catalog entry for the given engine id.
func GetEngine(engineID string) (Engine, error) {
	e, ok := engines[engineID]
	if !ok {
		return Engine{}, ErrEngineNotFound
	}
	return e, nil
}

// EnginesByProvider returns all engines billed through the given provider.
func EnginesByProvider(provider string) []Engine {
	var out []Engine
	for _, id := range []string{EngineStandard, EngineFast, EnginePremium, EngineEdit, EngineKontext, EngineUpscale} {
		if e := engines[id]; e.Provider == provider {
			out = append(out, e)
		}
	}
	return out
}

// ListPlans returns all known plans in ascending price order.
func ListPlans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, id := range []string{PlanFree, PlanCreator, PlanStudio} {
		out = append(out, plans[id])
	}
	return out
}
