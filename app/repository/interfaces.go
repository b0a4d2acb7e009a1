package repository

import (
	"time"

	"github.com/VisageAI/visage/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	GetOrCreateSettings(userID uint) (*models.UserSettings, error)
	SaveSettings(settings *models.UserSettings) error
	Update(user *models.User) error
	Count() (int64, error)
}

// ProjectRepository defines the interface for project-related database operations
type ProjectRepository interface {
	Create(project *models.Project) error
	GetByID(id uint) (*models.Project, error)
	GetByUUID(uuid string) (*models.Project, error)
	GetByUserID(userID uint, offset, limit int) ([]models.Project, error)
	Update(project *models.Project) error
	Delete(id uint) error
	CountByUserID(userID uint) (int64, error)
}

// AssetRepository defines the interface for asset-related database operations
type AssetRepository interface {
	Create(asset *models.Asset) error
	CreateBatch(assets []models.Asset) error
	GetByUUID(uuid string) (*models.Asset, error)
	GetByProjectID(projectID uint, offset, limit int) ([]models.Asset, error)
	GetByGenerationID(generationID uint) ([]models.Asset, error)
	Update(asset *models.Asset) error
	Delete(id uint) error
}

// GenerationRepository defines the interface for generation rows. Status
// changes go through AdvanceStatus exclusively: the conditional update makes
// transitions linearizable per generation across service instances.
type GenerationRepository interface {
	Create(gen *models.Generation) error
	GetByID(id uint) (*models.Generation, error)
	GetByUUID(uuid string) (*models.Generation, error)
	GetByProviderJobID(jobID string) (*models.Generation, error)
	GetByUserID(userID uint, offset, limit int) ([]models.Generation, error)
	// ListStuck returns non-terminal generations older than the cutoff,
	// oldest first, capped at limit.
	ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.Generation, error)
	SetProviderJobID(id uint, jobID string) error
	// AdvanceStatus moves a generation to the given status iff its current
	// status is one of from. Returns false when no row matched (stale or
	// duplicate transition). extra columns are written in the same update.
	AdvanceStatus(id uint, to string, from []string, extra map[string]interface{}) (bool, error)
}

// UsageRepository owns the usage_periods counters. Debits and refunds are
// single conditional updates checked via RowsAffected so two concurrent
// requests can never both observe pre-debit state and overspend.
type UsageRepository interface {
	EnsurePeriod(userID uint, periodKey string, plan string, standardLimit, premiumLimit int) error
	GetPeriod(userID uint, periodKey string) (*models.UsagePeriod, error)
	// TryDebit atomically increments the pool counter iff the result stays
	// within the period's allowance. Metered debits always succeed.
	TryDebit(userID uint, periodKey string, pool string, count int) (bool, error)
	// RefundDebit reverses a debit exactly once, guarded by the generation's
	// refunded_at marker. Returns false when the refund was already applied.
	RefundDebit(generationID uint, userID uint, periodKey string, pool string, count int) (bool, error)
	// ReverseDebit decrements a counter without the refund guard, for debits
	// whose generation row was never created.
	ReverseDebit(userID uint, periodKey string, pool string, count int) (bool, error)
	GrantPremiumAddon(userID uint, periodKey string, credits int) error
}

// WebhookEventRepository persists raw provider callbacks for idempotent
// processing and operator-visible reconciliation.
type WebhookEventRepository interface {
	CreateEventIfNotExists(event *models.ProviderWebhookEvent) (bool, *models.ProviderWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Project      ProjectRepository
	Asset        AssetRepository
	Generation   GenerationRepository
	Usage        UsageRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Project:      NewProjectRepository(db),
		Asset:        NewAssetRepository(db),
		Generation:   NewGenerationRepository(db),
		Usage:        NewUsageRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
