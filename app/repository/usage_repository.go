package repository

import (
	"fmt"
	"time"

	"github.com/VisageAI/visage/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageRepository implements the UsageRepository interface. All counter
// mutations are single conditional UPDATE statements so the check and the
// increment are atomic at the database, not in application code.
type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new usage repository instance
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

// EnsurePeriod lazily materializes the counter row for (user, period) with
// the plan's limits snapshotted. Concurrent callers race harmlessly: the
// unique key plus ON CONFLICT DO NOTHING keeps exactly one row. When the
// plan's limits grew since the row was created (mid-period upgrade), the
// snapshot is raised, never lowered.
func (r *usageRepository) EnsurePeriod(userID uint, periodKey string, plan string, standardLimit, premiumLimit int) error {
	row := &models.UsagePeriod{
		UserID:        userID,
		PeriodKey:     periodKey,
		Plan:          plan,
		StandardLimit: standardLimit,
		PremiumLimit:  premiumLimit,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "period_key"},
		},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return err
	}

	return r.db.Model(&models.UsagePeriod{}).
		Where("user_id = ? AND period_key = ? AND (standard_limit < ? OR premium_limit < ?)",
			userID, periodKey, standardLimit, premiumLimit).
		Updates(map[string]interface{}{
			"plan":           plan,
			"standard_limit": gorm.Expr("GREATEST(standard_limit, ?)", standardLimit),
			"premium_limit":  gorm.Expr("GREATEST(premium_limit, ?)", premiumLimit),
		}).Error
}

// GetPeriod reads the counter row for (user, period)
func (r *usageRepository) GetPeriod(userID uint, periodKey string) (*models.UsagePeriod, error) {
	var up models.UsagePeriod
	err := r.db.Where("user_id = ? AND period_key = ?", userID, periodKey).First(&up).Error
	if err != nil {
		return nil, err
	}
	return &up, nil
}

// TryDebit applies the admission check and the increment in one statement.
// For the standard and premium pools the WHERE clause carries the quota
// condition; RowsAffected == 0 means the debit would overspend and nothing
// was written. Metered debits increment unconditionally.
func (r *usageRepository) TryDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	if count <= 0 {
		return false, fmt.Errorf("usage: debit count must be positive, got %d", count)
	}

	var tx *gorm.DB
	switch pool {
	case models.CreditPoolStandard:
		tx = r.db.Model(&models.UsagePeriod{}).
			Where("user_id = ? AND period_key = ? AND standard_used + ? <= standard_limit", userID, periodKey, count).
			Update("standard_used", gorm.Expr("standard_used + ?", count))
	case models.CreditPoolPremium:
		tx = r.db.Model(&models.UsagePeriod{}).
			Where("user_id = ? AND period_key = ? AND premium_used + ? <= premium_limit + premium_addon", userID, periodKey, count).
			Update("premium_used", gorm.Expr("premium_used + ?", count))
	case models.CreditPoolMetered:
		tx = r.db.Model(&models.UsagePeriod{}).
			Where("user_id = ? AND period_key = ?", userID, periodKey).
			Update("upscale_used", gorm.Expr("upscale_used + ?", count))
	default:
		return false, fmt.Errorf("usage: unknown credit pool %q", pool)
	}

	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// RefundDebit reverses a prior debit. The generation's refunded_at marker is
// flipped first with a conditional update inside the same transaction as the
// counter decrement, so a duplicate refund finds the marker set and changes
// nothing.
func (r *usageRepository) RefundDebit(generationID uint, userID uint, periodKey string, pool string, count int) (bool, error) {
	if count <= 0 {
		return false, nil
	}

	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		guard := tx.Model(&models.Generation{}).
			Where("id = ? AND refunded_at IS NULL", generationID).
			Update("refunded_at", now)
		if guard.Error != nil {
			return guard.Error
		}
		if guard.RowsAffected == 0 {
			// Already refunded: leave the counters alone.
			return nil
		}

		var column string
		switch pool {
		case models.CreditPoolStandard:
			column = "standard_used"
		case models.CreditPoolPremium:
			column = "premium_used"
		case models.CreditPoolMetered:
			column = "upscale_used"
		default:
			return fmt.Errorf("usage: unknown credit pool %q", pool)
		}

		if err := tx.Model(&models.UsagePeriod{}).
			Where("user_id = ? AND period_key = ? AND "+column+" >= ?", userID, periodKey, count).
			Update(column, gorm.Expr(column+" - ?", count)).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ReverseDebit decrements a counter without the refunded-at guard, for
// debits whose generation row was never created. Callers own the
// exactly-once guarantee; everything with a generation row goes through
// RefundDebit instead.
func (r *usageRepository) ReverseDebit(userID uint, periodKey string, pool string, count int) (bool, error) {
	if count <= 0 {
		return false, nil
	}

	var column string
	switch pool {
	case models.CreditPoolStandard:
		column = "standard_used"
	case models.CreditPoolPremium:
		column = "premium_used"
	case models.CreditPoolMetered:
		column = "upscale_used"
	default:
		return false, fmt.Errorf("usage: unknown credit pool %q", pool)
	}

	tx := r.db.Model(&models.UsagePeriod{}).
		Where("user_id = ? AND period_key = ? AND "+column+" >= ?", userID, periodKey, count).
		Update(column, gorm.Expr(column+" - ?", count))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// GrantPremiumAddon credits pay-per-use premium units onto the period row.
// The row must exist; callers go through EnsurePeriod first.
func (r *usageRepository) GrantPremiumAddon(userID uint, periodKey string, credits int) error {
	if credits <= 0 {
		return fmt.Errorf("usage: addon credits must be positive, got %d", credits)
	}
	tx := r.db.Model(&models.UsagePeriod{}).
		Where("user_id = ? AND period_key = ?", userID, periodKey).
		Update("premium_addon", gorm.Expr("premium_addon + ?", credits))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
