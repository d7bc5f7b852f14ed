package models

// UserRole distinguishes venue owners from guests and platform staff.
type UserRole string

const (
	RoleOwner UserRole = "owner"
	RoleGuest UserRole = "guest"
	RoleAdmin UserRole = "admin"
)

// User is an authenticated account. Owners carry a ledger balance.
type User struct {
	BaseModel
	Email    string   `gorm:"uniqueIndex" json:"email"`
	Phone    string   `json:"phone"`
	FullName string   `json:"full_name"`
	Role     UserRole `gorm:"not null;default:'guest';index" json:"role"`
	IsActive bool     `gorm:"not null;default:true" json:"is_active"`
}
