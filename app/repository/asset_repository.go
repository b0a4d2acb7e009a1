package repository

import (
	"github.com/VisageAI/visage/app/models"
	"gorm.io/gorm"
)

// assetRepository implements the AssetRepository interface
type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository creates a new asset repository instance
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

// Create creates a new asset in the database
func (r *assetRepository) Create(asset *models.Asset) error {
	return r.db.Create(asset).Error
}

// CreateBatch inserts multiple assets in one statement
func (r *assetRepository) CreateBatch(assets []models.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	return r.db.Create(&assets).Error
}

// GetByUUID retrieves an asset by its public UUID
func (r *assetRepository) GetByUUID(uuid string) (*models.Asset, error) {
	var asset models.Asset
	err := r.db.Where("uuid = ?", uuid).First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetByProjectID retrieves assets for a project with pagination
func (r *assetRepository) GetByProjectID(projectID uint, offset, limit int) ([]models.Asset, error) {
	var assets []models.Asset
	err := r.db.Where("project_id = ?", projectID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&assets).Error
	return assets, err
}

// GetByGenerationID retrieves the output assets of a generation
func (r *assetRepository) GetByGenerationID(generationID uint) ([]models.Asset, error) {
	var assets []models.Asset
	err := r.db.Where("generation_id = ?", generationID).
		Order("id ASC").
		Find(&assets).Error
	return assets, err
}

// Update persists asset changes
func (r *assetRepository) Update(asset *models.Asset) error {
	return r.db.Save(asset).Error
}

// Delete removes an asset row
func (r *assetRepository) Delete(id uint) error {
	return r.db.Delete(&models.Asset{}, id).Error
}
