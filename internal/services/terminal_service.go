package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/venuepay/internal/models"
)

// TerminalService manages venue gateway credentials. API keys are only held encrypted.
type TerminalService struct {
	db         *gorm.DB
	venues     *VenueService
	encryption *EncryptionService
}

func NewTerminalService(db *gorm.DB, venues *VenueService, encryption *EncryptionService) *TerminalService {
	return &TerminalService{db: db, venues: venues, encryption: encryption}
}

// RegisterTerminalInput is the payload for adding a terminal to a venue.
type RegisterTerminalInput struct {
	VenueID     uuid.UUID
	Name        string
	TerminalID  string
	APIKey      string
	Description string
}

// Register encrypts the API key and stores a new active terminal. The venue's
// previously active terminals are deactivated in the same transaction, so a venue
// has at most one active terminal.
func (s *TerminalService) Register(ctx context.Context, in RegisterTerminalInput) (*models.Terminal, error) {
	name := strings.TrimSpace(in.Name)
	terminalID := strings.TrimSpace(in.TerminalID)
	if in.VenueID == uuid.Nil || name == "" || terminalID == "" || strings.TrimSpace(in.APIKey) == "" {
		return nil, validationError("venue_id, name, terminal_id and api_key are required")
	}

	venue, err := s.venues.Get(ctx, in.VenueID)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.encryption.Encrypt(in.APIKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt terminal key: %w", err)
	}

	terminal := models.Terminal{
		VenueID:         in.VenueID,
		Name:            name,
		TerminalID:      terminalID,
		APIKeyEncrypted: encrypted,
		IsActive:        true,
		Description:     in.Description,
	}
	var replaced int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Terminal{}).
			Where("venue_id = ? AND is_active = ?", in.VenueID, true).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		replaced = res.RowsAffected
		return tx.Create(&terminal).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, validationError("terminal_id is already registered")
		}
		return nil, err
	}

	log.Printf("[Terminal] Registered terminal %s for venue %s, %d previous deactivated", terminal.TerminalID, venue.ID, replaced)
	return &terminal, nil
}

// List returns a venue's terminals, newest first.
func (s *TerminalService) List(ctx context.Context, venueID uuid.UUID) ([]models.Terminal, error) {
	var terminals []models.Terminal
	err := s.db.WithContext(ctx).
		Where("venue_id = ?", venueID).
		Order("created_at DESC").
		Find(&terminals).Error
	return terminals, err
}

// Get loads one terminal.
func (s *TerminalService) Get(ctx context.Context, id uuid.UUID) (*models.Terminal, error) {
	var terminal models.Terminal
	if err := s.db.WithContext(ctx).First(&terminal, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrorNotFound, "terminal not found", nil)
		}
		return nil, err
	}
	return &terminal, nil
}

// Deactivate takes a terminal out of payment selection.
func (s *TerminalService) Deactivate(ctx context.Context, id uuid.UUID) (*models.Terminal, error) {
	terminal, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(terminal).Update("is_active", false).Error; err != nil {
		return nil, err
	}
	terminal.IsActive = false
	log.Printf("[Terminal] Deactivated terminal %s", terminal.TerminalID)
	return terminal, nil
}

// ActiveTerminal resolves the venue's active terminal.
func (s *TerminalService) ActiveTerminal(ctx context.Context, venueID uuid.UUID) (*models.Terminal, error) {
	var terminal models.Terminal
	err := s.db.WithContext(ctx).
		Where("venue_id = ? AND is_active = ?", venueID, true).
		Order("created_at DESC").
		First(&terminal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrorNoActiveTerminal, venueID.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	return &terminal, nil
}

// Credential decrypts the terminal's API key for a gateway call.
func (s *TerminalService) Credential(terminal *models.Terminal) (string, error) {
	if terminal.APIKeyEncrypted == "" {
		return "", validationError("terminal has no api key")
	}
	return s.encryption.Decrypt(terminal.APIKeyEncrypted)
}

// CredentialByID decrypts the key of a stored terminal.
func (s *TerminalService) CredentialByID(ctx context.Context, id uuid.UUID) (string, error) {
	terminal, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.Credential(terminal)
}

// Touch records that the terminal was just used for a gateway call.
func (s *TerminalService) Touch(ctx context.Context, terminal *models.Terminal, at time.Time) {
	if err := s.db.WithContext(ctx).Model(terminal).UpdateColumn("last_used_at", at).Error; err != nil {
		log.Printf("[Terminal] Failed to record use of %s: %v", terminal.TerminalID, err)
	}
}
