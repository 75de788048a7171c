// Auth HTTP handlers.
//
// This file exposes the REST endpoints for account lifecycle:
//   - POST /auth/register  (create an account, returns user + token)
//   - POST /auth/login     (verify credentials, returns user + token +
//     stored messages)
//
// Handlers are transport-thin: they bind and validate the JSON payload,
// delegate to AuthService, and map service sentinels to HTTP statuses.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatrsa/go-messaging-backend/internal/domain"
	"github.com/chatrsa/go-messaging-backend/internal/services"
)

// AuthService is the application-service contract required by the auth
// handlers.
type AuthService interface {
	Register(ctx context.Context, name, password string) (*domain.User, string, error)
	Login(ctx context.Context, name, password string) (*domain.User, string, []domain.Message, error)
}

// CredentialsRequest is the JSON payload for both registration and login.
type CredentialsRequest struct {
	Name     string `json:"name" binding:"required,min=1"`
	Password string `json:"password" binding:"required,min=1"`
}

// RegisterResponse is the envelope for a newly created account.
type RegisterResponse struct {
	User  *domain.User `json:"user"`
	Token string       `json:"token"`
}

// LoginResponse is the envelope for a successful login. Messages carries
// the user's stored messages, matching what the pending-message replay
// would return.
type LoginResponse struct {
	User     *domain.User     `json:"user"`
	Token    string           `json:"token"`
	Messages []domain.Message `json:"messages"`
}

// Register creates an account and issues a bearer token.
func (h *Handlers) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and password are required")
		return
	}

	user, token, err := h.Auth.Register(c.Request.Context(), req.Name, req.Password)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, RegisterResponse{User: user, Token: token})
	case errors.Is(err, services.ErrNameTaken):
		fail(c, http.StatusConflict, ErrCodeConflict, "user name already taken")
	case errors.Is(err, services.ErrEmptyName),
		errors.Is(err, services.ErrNameTooLong),
		errors.Is(err, services.ErrEmptyPassword):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeRegisterFailed, "could not create user")
	}
}

// Login verifies credentials and issues a bearer token.
func (h *Handlers) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and password are required")
		return
	}

	user, token, messages, err := h.Auth.Login(c.Request.Context(), req.Name, req.Password)
	switch {
	case err == nil:
		ok(c, http.StatusOK, LoginResponse{User: user, Token: token, Messages: messages})
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid credentials")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeLoginFailed, "could not log in")
	}
}
