package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel is embedded by every table: a UUID key plus gorm's timestamps.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// BeforeCreate keeps caller-chosen IDs and assigns a random one otherwise.
func (m *BaseModel) BeforeCreate(*gorm.DB) error {
	if m.ID != uuid.Nil {
		return nil
	}
	m.ID = uuid.New()
	return nil
}
