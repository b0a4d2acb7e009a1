package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VisageAI/visage/app/models"
	"github.com/VisageAI/visage/app/repository"
	"github.com/VisageAI/visage/internal/pkg/pricing"
	"gorm.io/gorm"
)

// Denial reasons returned to callers. These are expected business outcomes,
// not errors: the caller uses them to offer an upgrade or an add-on purchase.
const (
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonPremiumAddonRequired = "premium_addon_required"
)

// RefundToken identifies exactly what a debit consumed so a refund can
// reverse that amount and nothing else. GenerationID is bound by the caller
// once the generation row exists; the refund guard lives on that row.
type RefundToken struct {
	GenerationID uint
	UserID       uint
	PeriodKey    string
	Pool         string
	Count        int
}

// DebitResult is the outcome of a check-and-debit call.
type DebitResult struct {
	Admitted          bool
	Reason            string
	RemainingStandard int
	RemainingPremium  int
	Token             RefundToken
}

// Balance is the read-side view of a user's remaining credits.
type Balance struct {
	PeriodKey         string
	Plan              string
	RemainingStandard int
	RemainingPremium  int
	StandardLimit     int
	PremiumAllowance  int
	UpscaleUsed       int
}

// Ledger owns the per-user, per-period usage counters. Admission checks and
// debits are delegated to the usage repository as single conditional updates;
// the ledger itself holds no mutable state and is safe for concurrent use
// across service instances.
type Ledger struct {
	usage repository.UsageRepository
	now   func() time.Time
}

// NewLedger creates a ledger from an injected usage repository.
func NewLedger(usage repository.UsageRepository) *Ledger {
	return &Ledger{usage: usage, now: time.Now}
}

// NewLedgerFromDB creates a ledger from a GORM DB handle.
func NewLedgerFromDB(db *gorm.DB) *Ledger {
	return NewLedger(repository.NewUsageRepository(db))
}

// PeriodKey returns the billing period key for the given instant.
// Periods are calendar months in UTC; unused credits do not carry over.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CheckAndDebit admits or denies a debit of count credits against the user's
// current period and applies it atomically when admitted. A denied call
// writes nothing and reports the remaining credits alongside the reason.
func (l *Ledger) CheckAndDebit(ctx context.Context, userID uint, plan pricing.Plan, class pricing.BillingClass, count int) (*DebitResult, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("quota: user id is required")
	}
	if count <= 0 {
		return nil, fmt.Errorf("quota: debit count must be positive, got %d", count)
	}

	periodKey := PeriodKey(l.now())
	if err := l.usage.EnsurePeriod(userID, periodKey, plan.ID, plan.StandardCredits, plan.PremiumIncluded); err != nil {
		return nil, err
	}

	pool := poolName(pricing.PoolForClass(class))
	ok, err := l.usage.TryDebit(userID, periodKey, pool, count)
	if err != nil {
		return nil, err
	}

	period, err := l.usage.GetPeriod(userID, periodKey)
	if err != nil {
		return nil, err
	}

	result := &DebitResult{
		Admitted:          ok,
		RemainingStandard: period.RemainingStandard(),
		RemainingPremium:  period.RemainingPremium(),
	}
	if !ok {
		if pool == models.CreditPoolPremium {
			result.Reason = ReasonPremiumAddonRequired
		} else {
			result.Reason = ReasonQuotaExceeded
		}
		return result, nil
	}

	result.Token = RefundToken{
		UserID:    userID,
		PeriodKey: periodKey,
		Pool:      pool,
		Count:     count,
	}
	return result, nil
}

// Refund reverses the debit identified by the token. Idempotent: a second
// refund of the same token finds the generation's refunded marker set and
// returns false without touching the counters.
func (l *Ledger) Refund(ctx context.Context, token RefundToken) (bool, error) {
	_ = ctx
	if token.GenerationID == 0 {
		return false, errors.New("quota: refund token is not bound to a generation")
	}
	if token.Count <= 0 {
		return false, nil
	}
	return l.usage.RefundDebit(token.GenerationID, token.UserID, token.PeriodKey, token.Pool, token.Count)
}

// RefundDirect reverses a debit that never got a generation row, so no
// refunded-at guard exists. Only the create path uses this, to compensate
// a debit whose generation insert failed.
func (l *Ledger) RefundDirect(ctx context.Context, token RefundToken) (bool, error) {
	_ = ctx
	if token.Count <= 0 {
		return false, nil
	}
	return l.usage.ReverseDebit(token.UserID, token.PeriodKey, token.Pool, token.Count)
}

// Remaining computes the user's credit balance for the current period.
// The period row is materialized on the fly so a fresh user sees the full
// plan allowance rather than a not-found error.
func (l *Ledger) Remaining(ctx context.Context, userID uint, plan pricing.Plan) (*Balance, error) {
	_ = ctx
	periodKey := PeriodKey(l.now())
	if err := l.usage.EnsurePeriod(userID, periodKey, plan.ID, plan.StandardCredits, plan.PremiumIncluded); err != nil {
		return nil, err
	}
	period, err := l.usage.GetPeriod(userID, periodKey)
	if err != nil {
		return nil, err
	}
	return &Balance{
		PeriodKey:         periodKey,
		Plan:              period.Plan,
		RemainingStandard: period.RemainingStandard(),
		RemainingPremium:  period.RemainingPremium(),
		StandardLimit:     period.StandardLimit,
		PremiumAllowance:  period.PremiumAllowance(),
		UpscaleUsed:       period.UpscaleUsed,
	}, nil
}

// GrantPremiumAddon extends the current period's premium allowance with
// purchased add-on credits. Fed by the external billing flow.
func (l *Ledger) GrantPremiumAddon(ctx context.Context, userID uint, plan pricing.Plan, credits int) error {
	_ = ctx
	periodKey := PeriodKey(l.now())
	if err := l.usage.EnsurePeriod(userID, periodKey, plan.ID, plan.StandardCredits, plan.PremiumIncluded); err != nil {
		return err
	}
	return l.usage.GrantPremiumAddon(userID, periodKey, credits)
}

func poolName(pool pricing.CreditPool) string {
	switch pool {
	case pricing.PoolStandard:
		return models.CreditPoolStandard
	case pricing.PoolPremium:
		return models.CreditPoolPremium
	default:
		return models.CreditPoolMetered
	}
}
