package models

import "time"

// UsagePeriod is the per-user, per-billing-period usage counter row. The
// limit columns are snapshotted from the plan when the row is created;
// PremiumAddon holds pay-per-use credits granted on top of the plan's
// premium allowance for this period only. At most one row exists per
// (user, period key); old rows are kept as an audit trail.
type UsagePeriod struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index:ux_usage_periods_user_period,unique,priority:1" json:"user_id"`
	PeriodKey     string    `gorm:"type:varchar(10);not null;index:ux_usage_periods_user_period,unique,priority:2" json:"period_key"`
	Plan          string    `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	StandardUsed  int       `gorm:"not null;default:0" json:"standard_used"`
	PremiumUsed   int       `gorm:"not null;default:0" json:"premium_used"`
	UpscaleUsed   int       `gorm:"not null;default:0" json:"upscale_used"`
	StandardLimit int       `gorm:"not null;default:0" json:"standard_limit"`
	PremiumLimit  int       `gorm:"not null;default:0" json:"premium_limit"`
	PremiumAddon  int       `gorm:"not null;default:0" json:"premium_addon"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PremiumAllowance is the effective premium credit ceiling for the period.
func (up *UsagePeriod) PremiumAllowance() int {
	return up.PremiumLimit + up.PremiumAddon
}

// RemainingStandard returns the standard credits still available.
func (up *UsagePeriod) RemainingStandard() int {
	r := up.StandardLimit - up.StandardUsed
	if r < 0 {
		return 0
	}
	return r
}

// RemainingPremium returns the premium credits still available.
func (up *UsagePeriod) RemainingPremium() int {
	r := up.PremiumAllowance() - up.PremiumUsed
	if r < 0 {
		return 0
	}
	return r
}
