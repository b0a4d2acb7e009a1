package repository

import (
	"time"

	"github.com/VisageAI/visage/app/models"
	"gorm.io/gorm"
)

// generationRepository implements the GenerationRepository interface
type generationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository creates a new generation repository instance
func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

// Create creates a new generation row
func (r *generationRepository) Create(gen *models.Generation) error {
	return r.db.Create(gen).Error
}

// GetByID retrieves a generation by its ID
func (r *generationRepository) GetByID(id uint) (*models.Generation, error) {
	var gen models.Generation
	err := r.db.First(&gen, id).Error
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// GetByUUID retrieves a generation by its public UUID
func (r *generationRepository) GetByUUID(uuid string) (*models.Generation, error) {
	var gen models.Generation
	err := r.db.Where("uuid = ?", uuid).First(&gen).Error
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// GetByProviderJobID retrieves a generation by the provider's job id
func (r *generationRepository) GetByProviderJobID(jobID string) (*models.Generation, error) {
	var gen models.Generation
	err := r.db.Where("provider_job_id = ?", jobID).First(&gen).Error
	if err != nil {
		return nil, err
	}
	return &gen, nil
}

// GetByUserID retrieves generations for a user with pagination
func (r *generationRepository) GetByUserID(userID uint, offset, limit int) ([]models.Generation, error) {
	var gens []models.Generation
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&gens).Error
	return gens, err
}

// ListStuck returns non-terminal generations whose request is older than
// the cutoff, oldest first. The watchdog uses this to sweep jobs whose
// provider callback never arrived.
func (r *generationRepository) ListStuck(statuses []string, olderThan time.Time, limit int) ([]models.Generation, error) {
	var gens []models.Generation
	err := r.db.Where("status IN ? AND requested_at < ?", statuses, olderThan).
		Order("requested_at ASC").
		Limit(limit).
		Find(&gens).Error
	return gens, err
}

// SetProviderJobID stores the provider job id after a successful dispatch
func (r *generationRepository) SetProviderJobID(id uint, jobID string) error {
	return r.db.Model(&models.Generation{}).
		Where("id = ?", id).
		Update("provider_job_id", jobID).Error
}

// AdvanceStatus performs the guarded status transition. The WHERE clause on
// the current status makes the update a compare-and-set: when a concurrent
// delivery already moved the row, RowsAffected is zero and the caller treats
// the transition as stale.
func (r *generationRepository) AdvanceStatus(id uint, to string, from []string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	tx := r.db.Model(&models.Generation{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
