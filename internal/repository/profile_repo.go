package repository

import (
	"context"
	"fmt"

	"github.com/reelchat/call-service/internal/domain"
	"gorm.io/gorm"
)

// GormProfileRepository is the read-only lookup over the profiles table.
type GormProfileRepository struct {
	db *gorm.DB
}

// NewGormProfileRepository creates a new profile repository.
func NewGormProfileRepository(db *gorm.DB) *GormProfileRepository {
	return &GormProfileRepository{db: db}
}

// GetByID retrieves a profile by user ID. Returns (nil, nil) when no row exists.
func (r *GormProfileRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	var profile domain.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}
