package models

import (
	"time"

	"gorm.io/gorm"
)

// Project groups uploaded source photos and their generated portrait variations.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UUID        string         `gorm:"type:char(36);uniqueIndex" json:"uuid"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	Title       string         `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=1,max=200"`
	Description string         `gorm:"type:text" json:"description" validate:"max=2000"`
	CoverURL    string         `gorm:"type:varchar(512);default:''" json:"cover_url"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
