package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelchat/call-service/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCallSessionRepository handles database operations for call sessions.
type GormCallSessionRepository struct {
	db *gorm.DB
}

// NewGormCallSessionRepository creates a new call session repository.
func NewGormCallSessionRepository(db *gorm.DB) *GormCallSessionRepository {
	return &GormCallSessionRepository{db: db}
}

// Create inserts a new call session row.
func (r *GormCallSessionRepository) Create(ctx context.Context, session *domain.CallSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create call session: %w", err)
	}
	return nil
}

// GetByID retrieves a call session by ID. Returns (nil, nil) when no row exists.
func (r *GormCallSessionRepository) GetByID(ctx context.Context, id string) (*domain.CallSession, error) {
	var session domain.CallSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call session: %w", err)
	}
	return &session, nil
}

// Transition moves a session to a new status inside one transaction, holding
// a row lock so concurrent transitions from both participants serialize. The
// status machine is enforced here; terminal rows never change again.
func (r *GormCallSessionRepository) Transition(ctx context.Context, id string, to domain.CallStatus, mutate func(*domain.CallSession)) (*domain.CallSession, error) {
	var session domain.CallSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&session).Error; err != nil {
			return fmt.Errorf("failed to load call session: %w", err)
		}
		if !domain.CanTransition(session.Status, to) {
			return fmt.Errorf("illegal call status transition %s -> %s", session.Status, to)
		}
		session.Status = to
		if mutate != nil {
			mutate(&session)
		}
		if err := tx.Save(&session).Error; err != nil {
			return fmt.Errorf("failed to update call session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}
