package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatrsa/go-messaging-backend/internal/auth"
	"github.com/chatrsa/go-messaging-backend/internal/config"
	"github.com/chatrsa/go-messaging-backend/internal/services"
	"github.com/chatrsa/go-messaging-backend/internal/store"
	"github.com/chatrsa/go-messaging-backend/internal/ws"
)

// newTestServer assembles the full stack on real (throwaway) storage.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sqliteStore, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), false)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	badgerStore, err := store.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() {
		_ = badgerStore.Close()
		_ = sqliteStore.Close()
	})

	users := store.NewReplicatedUsers(zerolog.Nop(), sqliteStore, badgerStore)
	messages := store.NewReplicatedMessages(zerolog.Nop(), sqliteStore, badgerStore)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	authSvc := services.NewAuthService(users, messages, tokens)

	registry := ws.NewRegistry()
	coordinator := ws.NewCoordinator(users, messages, registry, tokens, zerolog.Nop())

	cfg := config.Config{
		APIBasePath: "/api",
		RateRPS:     1000,
		RateBurst:   1000,
		OTEL:        config.OTELConfig{ServiceName: "test"},
	}

	router := gin.New()
	RegisterRoutes(router, authSvc, coordinator, registry, cfg)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func register(t *testing.T, srv *httptest.Server, name, password string) string {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/api/auth/register",
		map[string]string{"name": name, "password": password})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %v", name, resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("register %s: no token in %v", name, body)
	}
	return token
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame reads until a frame of wantType arrives, skipping interleaved
// presence broadcasts.
func readFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %q frame: %v", wantType, err)
		}
		if frame["type"] == wantType {
			return frame
		}
	}
}

func TestRegisterLoginAndOfflineDelivery(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := register(t, srv, "alice", "pw-alice")
	bobToken := register(t, srv, "bob", "pw-bob")

	// Wrong password is a 401, unknown user a 404.
	resp, _ := postJSON(t, srv.URL+"/api/auth/login",
		map[string]string{"name": "alice", "password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d, want 401", resp.StatusCode)
	}
	resp, _ = postJSON(t, srv.URL+"/api/auth/login",
		map[string]string{"name": "ghost", "password": "pw"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user: status %d, want 404", resp.StatusCode)
	}

	// Correct login returns a fresh token plus stored messages.
	resp, body := postJSON(t, srv.URL+"/api/auth/login",
		map[string]string{"name": "alice", "password": "pw-alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d, body %v", resp.StatusCode, body)
	}
	if tok, _ := body["token"].(string); tok == "" {
		t.Fatalf("login body missing token: %v", body)
	}
	if body["messages"] == nil {
		t.Fatalf("login body missing messages: %v", body)
	}

	// Alice connects and messages the (offline) bob.
	alice := dialWS(t, srv, aliceToken)
	welcome := readFrame(t, alice, "connection")
	if welcome["userName"] != "alice" || welcome["status"] != "connected" {
		t.Fatalf("unexpected welcome %v", welcome)
	}

	if err := alice.WriteJSON(map[string]string{
		"type": "send_message", "to": "bob", "content": "hi bob",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ack := readFrame(t, alice, "ack")
	if ack["status"] != "saved" || ack["delivered"] != false {
		t.Fatalf("offline send must ack saved, got %v", ack)
	}

	// Bob connects later and replays his pending messages.
	bob := dialWS(t, srv, bobToken)
	readFrame(t, bob, "connection")
	if err := bob.WriteJSON(map[string]string{"type": "get_pending_messages"}); err != nil {
		t.Fatalf("get_pending_messages: %v", err)
	}
	pending := readFrame(t, bob, "pending_messages")
	msgs, _ := pending["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("bob expects 1 pending message, got %v", pending)
	}
	first, _ := msgs[0].(map[string]any)
	if first["from"] != "alice" || first["content"] != "hi bob" {
		t.Fatalf("unexpected pending message %v", first)
	}
}

func TestLiveDeliveryAndPresence(t *testing.T) {
	srv := newTestServer(t)

	aliceToken := register(t, srv, "alice", "pw")
	bobToken := register(t, srv, "bob", "pw")

	alice := dialWS(t, srv, aliceToken)
	readFrame(t, alice, "connection")
	bob := dialWS(t, srv, bobToken)
	readFrame(t, bob, "connection")

	// Both online: bob gets a live push, alice a delivered ack.
	if err := alice.WriteJSON(map[string]string{
		"type": "send_message", "to": "bob", "content": "ping",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	push := readFrame(t, bob, "new_message")
	if push["from"] != "alice" || push["content"] != "ping" {
		t.Fatalf("unexpected push %v", push)
	}
	ack := readFrame(t, alice, "ack")
	if ack["status"] != "delivered" || ack["delivered"] != true {
		t.Fatalf("want delivered ack, got %v", ack)
	}

	// Presence query reflects both sessions.
	if err := alice.WriteJSON(map[string]string{"type": "get_online_users"}); err != nil {
		t.Fatalf("get_online_users: %v", err)
	}
	online := readFrame(t, alice, "online_users")
	if count, _ := online["count"].(float64); count != 2 {
		t.Fatalf("want 2 online users, got %v", online)
	}
}

func TestWebSocketRejectsBadTokens(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"invalid token", "not-a-jwt"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, tc.token), nil)
			if err != nil {
				t.Fatalf("dial: %v", err) // upgrade succeeds; policy close follows
			}
			defer conn.Close()

			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, _, err = conn.ReadMessage()
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("want close 1008, got %v", err)
			}
		})
	}
}

func TestSecondLoginEvictsFirstSession(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv, "alice", "pw")

	first := dialWS(t, srv, token)
	readFrame(t, first, "connection")

	second := dialWS(t, srv, token)
	readFrame(t, second, "connection")

	// The first connection gets a normal closure.
	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := first.ReadMessage()
		if err == nil {
			continue // drain any presence frames in flight
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("want close 1000 on eviction, got %v", err)
		}
		break
	}

	// The second session still works.
	if err := second.WriteJSON(map[string]string{"type": "get_online_users"}); err != nil {
		t.Fatalf("write on surviving session: %v", err)
	}
	online := readFrame(t, second, "online_users")
	if count, _ := online["count"].(float64); count != 1 {
		t.Fatalf("want exactly 1 online session, got %v", online)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	token := register(t, srv, "alice", "pw")
	conn := dialWS(t, srv, token)
	readFrame(t, conn, "connection")

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v", body["status"])
	}
	if count, _ := body["online_count"].(float64); count != 1 {
		t.Fatalf("online_count = %v, want 1", body["online_count"])
	}
}

func TestRegisterConflictAndValidation(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "alice", "pw")

	resp, body := postJSON(t, srv.URL+"/api/auth/register",
		map[string]string{"name": "alice", "password": "other"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate name: status %d, body %v", resp.StatusCode, body)
	}
	if body["code"] != "conflict" {
		t.Fatalf("error code = %v", body["code"])
	}

	resp, _ = postJSON(t, srv.URL+"/api/auth/register", map[string]string{"name": "bob"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password: status %d, want 400", resp.StatusCode)
	}
}
