package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/chatrsa/go-messaging-backend/internal/domain"
	"github.com/chatrsa/go-messaging-backend/internal/services"
	"github.com/chatrsa/go-messaging-backend/internal/ws"
)

// fakeAuth scripts the service layer under the handlers.
type fakeAuth struct {
	user     *domain.User
	token    string
	messages []domain.Message
	err      error
}

func (f *fakeAuth) Register(ctx context.Context, name, password string) (*domain.User, string, error) {
	return f.user, f.token, f.err
}

func (f *fakeAuth) Login(ctx context.Context, name, password string) (*domain.User, string, []domain.Message, error) {
	return f.user, f.token, f.messages, f.err
}

func newAuthRouter(auth AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(auth, nil, ws.NewRegistry())
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, path string, payload string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRegisterHandler_Created(t *testing.T) {
	r := newAuthRouter(&fakeAuth{
		user:  &domain.User{ID: 1, Name: "alice"},
		token: "tok-1",
	})

	w, body := doJSON(t, r, "/auth/register", `{"name":"alice","password":"pw"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if body["token"] != "tok-1" {
		t.Fatalf("body = %v", body)
	}
	user, _ := body["user"].(map[string]any)
	if user["name"] != "alice" {
		t.Fatalf("user = %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatal("password hash must never serialize")
	}
}

func TestRegisterHandler_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"name taken", services.ErrNameTaken, http.StatusConflict, ErrCodeConflict},
		{"empty name", services.ErrEmptyName, http.StatusBadRequest, ErrCodeBadRequest},
		{"name too long", services.ErrNameTooLong, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty password", services.ErrEmptyPassword, http.StatusBadRequest, ErrCodeBadRequest},
		{"storage down", errors.New("boom"), http.StatusInternalServerError, ErrCodeRegisterFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newAuthRouter(&fakeAuth{err: tc.err})
			w, body := doJSON(t, r, "/auth/register", `{"name":"alice","password":"pw"}`)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if body["code"] != tc.wantCode {
				t.Fatalf("code = %v, want %q", body["code"], tc.wantCode)
			}
		})
	}
}

func TestRegisterHandler_BadPayload(t *testing.T) {
	r := newAuthRouter(&fakeAuth{})

	for _, payload := range []string{``, `{}`, `{"name":"alice"}`, `not json`} {
		w, _ := doJSON(t, r, "/auth/register", payload)
		if w.Code != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want 400", payload, w.Code)
		}
	}
}

func TestLoginHandler_OK(t *testing.T) {
	r := newAuthRouter(&fakeAuth{
		user:     &domain.User{ID: 1, Name: "alice"},
		token:    "tok-2",
		messages: []domain.Message{{ID: 5, Content: "hi"}},
	})

	w, body := doJSON(t, r, "/auth/login", `{"name":"alice","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", body["messages"])
	}
}

func TestLoginHandler_StatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"unknown user", services.ErrUserNotFound, http.StatusNotFound},
		{"bad credentials", services.ErrInvalidCredentials, http.StatusUnauthorized},
		{"storage down", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newAuthRouter(&fakeAuth{err: tc.err})
			w, _ := doJSON(t, r, "/auth/login", `{"name":"alice","password":"pw"}`)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}
