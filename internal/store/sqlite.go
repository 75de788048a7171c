// Relational backend adapter, backed by GORM over the pure-Go SQLite driver.
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/chatrsa/go-messaging-backend/internal/domain"
)

// SQLiteStore adapts user and message operations to a SQLite database.
// It implements both UserBackend and MessageBackend.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database, applies PRAGMAs, sizes the
// connection pool, installs tracing, and migrates the schema.
func OpenSQLite(path string, trace bool) (*SQLiteStore, error) {
	// Fail early if the parent directory does not exist (instead of the
	// sqlite "out of memory (14)" it produces on some platforms).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if trace {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	if err := db.AutoMigrate(&domain.User{}, &domain.Message{}); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an existing GORM handle. Intended for tests that open
// an in-memory database themselves.
func NewSQLiteStore(db *gorm.DB) *SQLiteStore { return &SQLiteStore{db: db} }

// Name identifies the backend in logs.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close closes the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateUser inserts a new user row. A UNIQUE violation on the name column
// maps to ErrDuplicateName.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, passwordHash string) (*domain.User, error) {
	u := &domain.User{Name: name, PasswordHash: passwordHash}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return u, nil
}

// UserByID fetches a user by primary key, or ErrNotFound.
func (s *SQLiteStore) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &u, nil
}

// UserByName fetches a user by unique name, or ErrNotFound.
func (s *SQLiteStore) UserByName(ctx context.Context, name string) (*domain.User, error) {
	var u domain.User
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&u).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &u, nil
}

// DeleteUser removes a user row; the FK constraint cascades to messages.
// Deleting an absent user returns ErrNotFound.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&domain.User{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMessage inserts a message row with a UTC timestamp. The FK
// constraints reject sender or receiver ids that do not reference users.
func (s *SQLiteStore) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*domain.Message, error) {
	m := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// MessagesByUser returns every message sent or received by userID, ordered
// by ascending id.
func (s *SQLiteStore) MessagesByUser(ctx context.Context, userID int64) ([]domain.Message, error) {
	var out []domain.Message
	err := s.db.WithContext(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// mapNotFound converts gorm.ErrRecordNotFound into the store sentinel.
func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
