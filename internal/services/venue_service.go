package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/venuepay/internal/models"
)

// VenueService answers the venue lookups the payment core needs.
type VenueService struct {
	db *gorm.DB
}

func NewVenueService(db *gorm.DB) *VenueService {
	return &VenueService{db: db}
}

// Get loads a venue or fails with NotFound.
func (s *VenueService) Get(ctx context.Context, id uuid.UUID) (*models.Venue, error) {
	var venue models.Venue
	if err := s.db.WithContext(ctx).First(&venue, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrorNotFound, "venue not found", nil)
		}
		return nil, err
	}
	return &venue, nil
}

// IsOwner reports whether userID owns the venue.
func (s *VenueService) IsOwner(ctx context.Context, venueID, userID uuid.UUID) (bool, error) {
	venue, err := s.Get(ctx, venueID)
	if err != nil {
		return false, err
	}
	return venue.OwnerID == userID, nil
}
