package models

import (
	"time"

	"github.com/google/uuid"
)

// Terminal is a venue's registered identity with the QR payment gateway.
type Terminal struct {
	BaseModel
	VenueID         uuid.UUID  `gorm:"type:uuid;index;not null" json:"venue_id"`
	Name            string     `gorm:"not null" json:"name"`
	TerminalID      string     `gorm:"column:terminal_id;uniqueIndex;not null" json:"terminal_id"`
	APIKeyEncrypted string     `gorm:"column:api_key_encrypted;type:text" json:"-"`
	IsActive        bool       `gorm:"not null;default:true" json:"is_active"`
	Description     string     `json:"description"`
	LastUsedAt      *time.Time `json:"last_used_at"`
}
