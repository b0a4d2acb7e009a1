package models

import "time"

// Asset kinds distinguish user uploads from generated outputs.
const (
	AssetKindSource = "source"
	AssetKindOutput = "output"
)

// Asset is a stored image reference belonging to a project. Output assets
// are materialized by the generation lifecycle when a provider job succeeds.
type Asset struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	ProjectID    uint      `gorm:"not null;index" json:"project_id"`
	GenerationID *uint     `gorm:"index" json:"generation_id,omitempty"`
	Kind         string    `gorm:"type:varchar(16);not null;default:'source';index" json:"kind"`
	SourceURL    string    `gorm:"type:varchar(1024);not null" json:"source_url"`
	MirrorURL    string    `gorm:"type:varchar(1024);default:''" json:"mirror_url"`
	ContentType  string    `gorm:"type:varchar(100);default:''" json:"content_type"`
	FileSize     int64     `gorm:"default:0" json:"file_size"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
