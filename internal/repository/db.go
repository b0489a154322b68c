package repository

import (
	"context"

	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// CallSessionRepository defines the store operations for call sessions.
type CallSessionRepository interface {
	Create(ctx context.Context, session *domain.CallSession) error
	GetByID(ctx context.Context, id string) (*domain.CallSession, error)
	// Transition loads the session, verifies from->to legality against the
	// status machine, applies mutate and saves, all in one transaction.
	Transition(ctx context.Context, id string, to domain.CallStatus, mutate func(*domain.CallSession)) (*domain.CallSession, error)
}

// CallSignalRepository defines the store operations for the append-only
// signal log.
type CallSignalRepository interface {
	Create(ctx context.Context, signal *domain.CallSignal) error
	LatestByType(ctx context.Context, callID string, signalType domain.SignalType) (*domain.CallSignal, error)
}

// CallMessageRepository defines the store operations for in-call chat.
type CallMessageRepository interface {
	Create(ctx context.Context, message *domain.CallMessage) error
	ListByCall(ctx context.Context, callID string) ([]*domain.CallMessage, error)
}

// ProfileRepository is the read-only lookup for participant identity.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
}

// Manager combines all repositories behind one handle.
type Manager interface {
	Sessions() CallSessionRepository
	Signals() CallSignalRepository
	Messages() CallMessageRepository
	Profiles() ProfileRepository

	Ping(ctx context.Context) error
	Close() error
}

// GormManager implements Manager using GORM.
type GormManager struct {
	db          *gorm.DB
	sessionRepo *GormCallSessionRepository
	signalRepo  *GormCallSignalRepository
	messageRepo *GormCallMessageRepository
	profileRepo *GormProfileRepository
}

// OpenPostgres opens a Postgres-backed manager with GORM logging routed to zap.
func OpenPostgres(dsn string) (*GormManager, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(logger.NewGORMWriter(), gormlogger.Config{
			LogLevel: gormlogger.Error,
		}),
	})
	if err != nil {
		return nil, err
	}
	return NewGormManager(db), nil
}

// NewGormManager creates a manager over an existing *gorm.DB.
func NewGormManager(db *gorm.DB) *GormManager {
	return &GormManager{
		db:          db,
		sessionRepo: NewGormCallSessionRepository(db),
		signalRepo:  NewGormCallSignalRepository(db),
		messageRepo: NewGormCallMessageRepository(db),
		profileRepo: NewGormProfileRepository(db),
	}
}

// Sessions returns the call session repository.
func (m *GormManager) Sessions() CallSessionRepository {
	return m.sessionRepo
}

// Signals returns the call signal repository.
func (m *GormManager) Signals() CallSignalRepository {
	return m.signalRepo
}

// Messages returns the call message repository.
func (m *GormManager) Messages() CallMessageRepository {
	return m.messageRepo
}

// Profiles returns the profile repository.
func (m *GormManager) Profiles() ProfileRepository {
	return m.profileRepo
}

// Ping checks the database connection.
func (m *GormManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (m *GormManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
