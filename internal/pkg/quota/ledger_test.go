package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/internal/pkg/pricing"
	"gorm.io/gorm"
)

// fakeUsageRepo mimics the database's conditional-update semantics in
// memory: every check-and-increment happens under one lock, matching the
// atomicity the SQL layer provides.
type fakeUsageRepo struct {
	mu       sync.Mutex
	periods  map[string]*models.UsagePeriod
	refunded map[uint]bool
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{
		periods:  make(map[string]*models.UsagePeriod),
		refunded: make(map[uint]bool),
	}
}

func key(userID uint, periodKey string) string {
	return fmt.Sprintf("%d:%s", userID, periodKey)
}

func (f *fakeUsageRepo) EnsurePeriod(userID uint, periodKey string, plan string, standardLimit, premiumLimit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(userID, periodKey)
	if p, ok := f.periods[k]; ok {
		if standardLimit > p.StandardLimit {
			p.StandardLimit = standardLimit
		}
		if premiumLimit > p.PremiumLimit {
			p.PremiumLimit = premiumLimit
		}
		return nil
	}
	f.periods[k] = &models.UsagePeriod{
		UserID:        userID,
		PeriodKey:     periodKey,
		Plan:          plan,
		StandardLimit: standardLimit,
		PremiumLimit:  premiumLimit,
	}
	return nil
}

func (f *fakeUsageRepo) GetPeriod(userID uint, periodKey string) (*models.UsagePeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.periods[key(userID, periodKey)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeUsageRepo) TryDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.periods[key(userID, periodKey)]
	if !ok {
		return false, nil
	}
	switch pool {
	case models.CreditPoolStandard:
		if p.StandardUsed+count > p.StandardLimit {
			return false, nil
		}
		p.StandardUsed += count
	case models.CreditPoolPremium:
		if p.PremiumUsed+count > p.PremiumLimit+p.PremiumAddon {
			return false, nil
		}
		p.PremiumUsed += count
	case models.CreditPoolMetered:
		p.UpscaleUsed += count
	default:
		return false, fmt.Errorf("unknown pool %q", pool)
	}
	return true, nil
}

func (f *fakeUsageRepo) RefundDebit(generationID uint, userID uint, periodKey string, pool string, count int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refunded[generationID] {
		return false, nil
	}
	p, ok := f.periods[key(userID, periodKey)]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	f.refunded[generationID] = true
	switch pool {
	case models.CreditPoolStandard:
		p.StandardUsed -= count
	case models.CreditPoolPremium:
		p.PremiumUsed -= count
	case models.CreditPoolMetered:
		p.UpscaleUsed -= count
	}
	return true, nil
}

func (f *fakeUsageRepo) ReverseDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.periods[key(userID, periodKey)]
	if !ok {
		return false, nil
	}
	switch pool {
	case models.CreditPoolStandard:
		if p.StandardUsed < count {
			return false, nil
		}
		p.StandardUsed -= count
	case models.CreditPoolPremium:
		if p.PremiumUsed < count {
			return false, nil
		}
		p.PremiumUsed -= count
	case models.CreditPoolMetered:
		if p.UpscaleUsed < count {
			return false, nil
		}
		p.UpscaleUsed -= count
	}
	return true, nil
}

func (f *fakeUsageRepo) GrantPremiumAddon(userID uint, periodKey string, credits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.periods[key(userID, periodKey)]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.PremiumAddon += credits
	return nil
}

func newTestLedger(repo *fakeUsageRepo) *Ledger {
	l := NewLedger(repo)
	l.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return l
}

func freePlan(t *testing.T) pricing.Plan {
	t.Helper()
	plan, err := pricing.GetPlan(pricing.PlanFree)
	require.NoError(t, err)
	return plan
}

func TestCheckAndDebitAdmissionBoundary(t *testing.T) {
	repo := newFakeUsageRepo()
	ledger := newTestLedger(repo)
	plan := freePlan(t)
	ctx := context.Background()

	// 14 used, the 15th is admitted and exhausts the pool.
	for i := 0; i < 14; i++ {
		res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassStandard, 1)
		require.NoError(t, err)
		require.True(t, res.Admitted)
	}

	res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassStandard, 1)
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 0, res.RemainingStandard)

	// The 16th is denied with quota_exceeded and changes nothing.
	res, err = ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassStandard, 1)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, ReasonQuotaExceeded, res.Reason)
	assert.Equal(t, 0, res.RemainingStandard)
}

func TestCheckAndDebitPremiumRequiresAddon(t *testing.T) {
	repo := newFakeUsageRepo()
	ledger := newTestLedger(repo)
	plan := freePlan(t)
	ctx := context.Background()

	res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassPremium, 1)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, ReasonPremiumAddonRequired, res.Reason)

	// A purchased add-on unlocks premium for the period.
	require.NoError(t, ledger.GrantPremiumAddon(ctx, 1, plan, 2))
	res, err = ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassKontext, 1)
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, res.RemainingPremium)
}

func TestCheckAndDebitUpscaleAlwaysAdmitted(t *testing.T) {
	repo := newFakeUsageRepo()
	ledger := newTestLedger(repo)
	plan := freePlan(t)
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassUpscale, 1)
		require.NoError(t, err)
		require.True(t, res.Admitted)
	}

	period, err := repo.GetPeriod(1, PeriodKey(ledger.now()))
	require.NoError(t, err)
	assert.Equal(t, 40, period.UpscaleUsed)
	assert.Equal(t, 0, period.StandardUsed)
}

func TestRefundIdempotence(t *testing.T) {
	repo := newFakeUsageRepo()
	ledger := newTestLedger(repo)
	plan := freePlan(t)
	ctx := context.Background()

	res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassStandard, 2)
	require.NoError(t, err)
	require.True(t, res.Admitted)

	token := res.Token
	token.GenerationID = 77

	applied, err := ledger.Refund(ctx, token)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = ledger.Refund(ctx, token)
	require.NoError(t, err)
	assert.False(t, applied)

	period, err := repo.GetPeriod(1, token.PeriodKey)
	require.NoError(t, err)
	assert.Equal(t, 0, period.StandardUsed)
}

func TestRefundRequiresBoundToken(t *testing.T) {
	ledger := newTestLedger(newFakeUsageRepo())

	_, err := ledger.Refund(context.Background(), RefundToken{UserID: 1, PeriodKey: "2026-03", Pool: models.CreditPoolStandard, Count: 1})
	assert.Error(t, err)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	repo := newFakeUsageRepo()
	ledger := newTestLedger(repo)
	plan := freePlan(t)
	ctx := context.Background()

	const attempts = 60
	var wg sync.WaitGroup
	admitted := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassStandard, 1)
			if err != nil {
				t.Error(err)
				return
			}
			admitted <- res.Admitted
		}()
	}
	wg.Wait()
	close(admitted)

	granted := 0
	for ok := range admitted {
		if ok {
			granted++
		}
	}
	assert.Equal(t, plan.StandardCredits, granted)

	period, err := repo.GetPeriod(1, PeriodKey(ledger.now()))
	require.NoError(t, err)
	assert.LessOrEqual(t, period.StandardUsed, period.StandardLimit)
	assert.Equal(t, plan.StandardCredits, period.StandardUsed)
}

func TestPeriodRolloverResetsCounters(t *testing.T) {
	repo := newFakeUsageRepo()
	ledger := newTestLedger(repo)
	plan := freePlan(t)
	ctx := context.Background()

	for i := 0; i < plan.StandardCredits; i++ {
		res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassFast, 1)
		require.NoError(t, err)
		require.True(t, res.Admitted)
	}

	res, err := ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassFast, 1)
	require.NoError(t, err)
	require.False(t, res.Admitted)

	// Next month gets a fresh row with fresh counters, no carry-over.
	ledger.now = func() time.Time { return time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC) }
	res, err = ledger.CheckAndDebit(ctx, 1, plan, pricing.ClassFast, 1)
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, plan.StandardCredits-1, res.RemainingStandard)
}

func TestFreePlanEndToEndScenario(t *testing.T) {
	repo := newFakeUsageRepo()
	ledger := newTestLedger(repo)
	plan := freePlan(t)
	ctx := context.Background()

	// Premium request on the free plan is denied with the add-on reason.
	engineID, err := pricing.SelectEngine(pricing.GenerationRequest{Mode: "generate", Quality: "premium"})
	require.NoError(t, err)
	engine, err := pricing.GetEngine(engineID)
	require.NoError(t, err)

	res, err := ledger.CheckAndDebit(ctx, 9, plan, engine.Class, 1)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, ReasonPremiumAddonRequired, res.Reason)

	// 15 standard generations in a row: the 15th succeeds with 0 left.
	engineID, err = pricing.SelectEngine(pricing.GenerationRequest{Mode: "generate", Quality: "standard"})
	require.NoError(t, err)
	engine, err = pricing.GetEngine(engineID)
	require.NoError(t, err)

	for i := 1; i <= 15; i++ {
		res, err = ledger.CheckAndDebit(ctx, 9, plan, engine.Class, 1)
		require.NoError(t, err)
		require.True(t, res.Admitted, "debit %d should be admitted", i)
	}
	assert.Equal(t, 0, res.RemainingStandard)

	// The 16th is denied with quota_exceeded.
	res, err = ledger.CheckAndDebit(ctx, 9, plan, engine.Class, 1)
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, ReasonQuotaExceeded, res.Reason)
}
