package models

import "time"

// Generation status values. A generation starts in "starting", moves to
// "processing" once dispatched, and ends in exactly one terminal state.
const (
	GenerationStatusStarting   = "starting"
	GenerationStatusProcessing = "processing"
	GenerationStatusSucceeded  = "succeeded"
	GenerationStatusFailed     = "failed"
	GenerationStatusCanceled   = "canceled"
)

// Credit pools a generation may have been debited from.
const (
	CreditPoolStandard = "standard"
	CreditPoolPremium  = "premium"
	CreditPoolMetered  = "metered"
)

// Generation represents one invocation of an external image-generation
// provider. It carries the debit it consumed (period key, pool, count) so a
// refund can reverse exactly that amount, and a refunded marker that guards
// the refund against double application.
type Generation struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UUID          string     `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	UserID        uint       `gorm:"not null;index" json:"user_id"`
	ProjectID     uint       `gorm:"not null;index" json:"project_id"`
	EngineID      string     `gorm:"type:varchar(50);not null" json:"engine_id"`
	Status        string     `gorm:"type:varchar(20);not null;default:'starting';index" json:"status"`
	ProviderJobID string     `gorm:"type:varchar(191);default:'';index" json:"provider_job_id"`
	InputURL      string     `gorm:"type:varchar(1024);default:''" json:"input_url"`
	PeriodKey     string     `gorm:"type:varchar(10);not null" json:"period_key"`
	DebitPool     string     `gorm:"type:varchar(16);not null" json:"debit_pool"`
	DebitCount    int        `gorm:"not null;default:0" json:"debit_count"`
	RefundedAt    *time.Time `gorm:"type:timestamp;default:null" json:"refunded_at,omitempty"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`
	RequestedAt   time.Time  `gorm:"type:timestamp;not null" json:"requested_at"`
	CompletedAt   *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the generation has reached a final state.
func (g *Generation) IsTerminal() bool {
	switch g.Status {
	case GenerationStatusSucceeded, GenerationStatusFailed, GenerationStatusCanceled:
		return true
	default:
		return false
	}
}
