package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelchat/call-service/internal/domain"
	"gorm.io/gorm"
)

// GormCallMessageRepository handles database operations for in-call chat
// messages.
type GormCallMessageRepository struct {
	db *gorm.DB
}

// NewGormCallMessageRepository creates a new call message repository.
func NewGormCallMessageRepository(db *gorm.DB) *GormCallMessageRepository {
	return &GormCallMessageRepository{db: db}
}

// Create appends a chat message row.
func (r *GormCallMessageRepository) Create(ctx context.Context, message *domain.CallMessage) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("failed to create call message: %w", err)
	}
	return nil
}

// ListByCall returns all chat messages for a call in send order, so a chat
// drawer opened mid-call can backfill its history.
func (r *GormCallMessageRepository) ListByCall(ctx context.Context, callID string) ([]*domain.CallMessage, error) {
	var messages []*domain.CallMessage
	if err := r.db.WithContext(ctx).
		Where("call_id = ?", callID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list call messages: %w", err)
	}
	return messages, nil
}
