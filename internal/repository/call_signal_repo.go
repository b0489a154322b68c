package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelchat/call-service/internal/domain"
	"gorm.io/gorm"
)

// GormCallSignalRepository handles database operations for the append-only
// call signal log.
type GormCallSignalRepository struct {
	db *gorm.DB
}

// NewGormCallSignalRepository creates a new call signal repository.
func NewGormCallSignalRepository(db *gorm.DB) *GormCallSignalRepository {
	return &GormCallSignalRepository{db: db}
}

// Create appends a signal row. Signals are write-once; there is no update path.
func (r *GormCallSignalRepository) Create(ctx context.Context, signal *domain.CallSignal) error {
	if signal.ID == "" {
		signal.ID = uuid.New().String()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(signal).Error; err != nil {
		return fmt.Errorf("failed to create call signal: %w", err)
	}
	return nil
}

// LatestByType returns the most recent signal of the given type for a call,
// or (nil, nil) when none exists. Used by the answering side to fetch the
// stored offer.
func (r *GormCallSignalRepository) LatestByType(ctx context.Context, callID string, signalType domain.SignalType) (*domain.CallSignal, error) {
	var signal domain.CallSignal
	if err := r.db.WithContext(ctx).
		Where("call_id = ? AND signal_type = ?", callID, signalType).
		Order("created_at DESC").
		First(&signal).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest %s signal: %w", signalType, err)
	}
	return &signal, nil
}
