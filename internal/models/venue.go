package models

import "github.com/google/uuid"

// Venue is a place owned by an owner account; its owner pays payment commissions.
type Venue struct {
	BaseModel
	OwnerID uuid.UUID `gorm:"type:uuid;index;not null" json:"owner_id"`
	Name    string    `gorm:"not null" json:"name"`
	Address string    `json:"address"`
	Phone   string    `json:"phone"`
}
