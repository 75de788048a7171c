// Package services – AuthService
//
// This file implements the AuthService, which owns registration and login.
// It normalizes names, enforces the uniqueness-before-create check against
// the replicated store, hashes credentials, and issues bearer tokens.
//
// The existence check and the subsequent create are two independent store
// calls with no distributed lock between them, so concurrent registrations
// with the same name can race; the relational backend's UNIQUE constraint
// catches the loser there, the key-value backend may diverge.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/chatrsa/go-messaging-backend/internal/auth"
	"github.com/chatrsa/go-messaging-backend/internal/domain"
	"github.com/chatrsa/go-messaging-backend/internal/store"
)

// UserStore is the replicated-store contract required by AuthService.
type UserStore interface {
	// CreateUser persists a new user across the backends.
	CreateUser(ctx context.Context, name, passwordHash string) (*domain.User, error)
	// UserByID fetches a user by id, or store.ErrNotFound.
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	// UserByName fetches a user by name, or store.ErrNotFound.
	UserByName(ctx context.Context, name string) (*domain.User, error)
}

// MessageStore is the replicated-store contract for pending messages.
type MessageStore interface {
	// MessagesByUser returns every message involving userID.
	MessagesByUser(ctx context.Context, userID int64) ([]domain.Message, error)
}

// TokenIssuer signs bearer tokens for authenticated users.
type TokenIssuer interface {
	Generate(userID int64) (string, error)
}

// AuthService provides registration and login on top of the replicated
// store and the token adapter.
type AuthService struct {
	Users    UserStore
	Messages MessageStore
	Tokens   TokenIssuer

	// NameMaxLen caps user names by rune length.
	NameMaxLen int
}

// NewAuthService constructs an AuthService with a sane name-length default.
func NewAuthService(users UserStore, messages MessageStore, tokens TokenIssuer) *AuthService {
	return &AuthService{
		Users:      users,
		Messages:   messages,
		Tokens:     tokens,
		NameMaxLen: 64,
	}
}

// Register creates a new user and returns it together with a signed token.
// The name is NFC-normalized and trimmed first. A name known to ANY backend
// is rejected with ErrNameTaken; backends that disagree are not reconciled.
func (s *AuthService) Register(ctx context.Context, name, password string) (*domain.User, string, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, "", ErrEmptyName
	}
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return nil, "", ErrNameTooLong
	}
	if strings.TrimSpace(password) == "" {
		return nil, "", ErrEmptyPassword
	}

	// Read-then-write: any backend reporting the name blocks registration.
	switch _, err := s.Users.UserByName(ctx, name); {
	case err == nil:
		return nil, "", ErrNameTaken
	case !errors.Is(err, store.ErrNotFound):
		return nil, "", err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user, err := s.Users.CreateUser(ctx, name, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, "", ErrNameTaken
		}
		return nil, "", err
	}

	token, err := s.Tokens.Generate(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies credentials and returns the user, a fresh token, and the
// user's stored messages. Message retrieval is best-effort: a store failure
// there yields an empty slice, not a failed login.
func (s *AuthService) Login(ctx context.Context, name, password string) (*domain.User, string, []domain.Message, error) {
	name = normalizeName(name)

	user, err := s.Users.UserByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", nil, ErrUserNotFound
		}
		return nil, "", nil, err
	}

	ok, err := auth.ComparePassword(user.PasswordHash, password)
	if err != nil || !ok {
		return nil, "", nil, ErrInvalidCredentials
	}

	token, err := s.Tokens.Generate(user.ID)
	if err != nil {
		return nil, "", nil, err
	}

	messages, err := s.Messages.MessagesByUser(ctx, user.ID)
	if err != nil {
		messages = []domain.Message{}
	}
	return user, token, messages, nil
}

// normalizeName trims whitespace and applies NFC so visually identical
// names hash and index identically.
func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
