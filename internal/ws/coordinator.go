package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatrsa/go-messaging-backend/internal/domain"
)

// TokenVerifier validates a bearer token and returns the user id it was
// issued for.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// UserStore is the replicated-store contract the coordinator needs for
// identity resolution.
type UserStore interface {
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	UserByName(ctx context.Context, name string) (*domain.User, error)
}

// MessageStore is the replicated-store contract for persistence and replay.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*domain.Message, error)
	MessagesByUser(ctx context.Context, userID int64) ([]domain.Message, error)
}

// Coordinator orchestrates the connection lifecycle
// (Connecting -> Authenticating -> Active -> Closed) and message routing.
// Per-connection frame handling is sequential; different connections
// interleave freely. No operation is retried internally.
type Coordinator struct {
	users    UserStore
	messages MessageStore
	registry *Registry
	tokens   TokenVerifier
	log      zerolog.Logger

	// WriteWait bounds each outbound frame write.
	WriteWait time.Duration
	// MaxMessageBytes caps inbound frame size.
	MaxMessageBytes int64
}

// NewCoordinator wires the coordinator and installs the presence broadcast
// on the registry.
func NewCoordinator(users UserStore, messages MessageStore, registry *Registry, tokens TokenVerifier, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		users:           users,
		messages:        messages,
		registry:        registry,
		tokens:          tokens,
		log:             log,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 64 << 10,
	}
	registry.SetOnChange(c.broadcastOnline)
	return c
}

// Serve owns one upgraded connection for its whole lifetime: it runs the
// handshake, then the read loop, and removes the session on any exit. The
// caller (the HTTP handler) must not touch raw afterwards.
func (c *Coordinator) Serve(ctx context.Context, raw *websocket.Conn, token string) {
	conn := newGorillaConn(raw, c.WriteWait)

	sess, ok := c.handshake(ctx, conn, token)
	if !ok {
		return
	}
	defer c.registry.Remove(conn)

	lg := c.log.With().
		Int64("user_id", sess.UserID).
		Str("user_name", sess.UserName).
		Logger()
	lg.Info().Msg("session active")

	raw.SetReadLimit(c.MaxMessageBytes)
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			// Transport close or error: remove the session, send nothing.
			lg.Info().Err(err).Msg("session closed")
			return
		}
		c.handleFrame(ctx, sess, data)
	}
}

// handshake authenticates the connection and registers the session. Any
// failure closes the transport with 1008; an uncaught fault while still in
// the handshake closes with 1011 defensively, since the transport may
// already be closing.
func (c *Coordinator) handshake(ctx context.Context, conn Conn, token string) (sess *Session, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Interface("panic", rec).Msg("handshake fault")
			wsHandshakeRejects.WithLabelValues("internal").Inc()
			_ = conn.Close(closeInternalError, "internal error")
			sess, ok = nil, false
		}
	}()

	if token == "" {
		wsHandshakeRejects.WithLabelValues("missing_token").Inc()
		_ = conn.Close(closePolicyViolation, "missing token")
		return nil, false
	}
	userID, err := c.tokens.Verify(token)
	if err != nil {
		wsHandshakeRejects.WithLabelValues("invalid_token").Inc()
		_ = conn.Close(closePolicyViolation, "invalid token")
		return nil, false
	}
	user, err := c.users.UserByID(ctx, userID)
	if err != nil {
		wsHandshakeRejects.WithLabelValues("unknown_user").Inc()
		_ = conn.Close(closePolicyViolation, "user not found")
		return nil, false
	}

	sess = c.registry.Add(conn, user.ID, user.Name)
	err = conn.WriteJSON(ConnectionFrame{
		Type:      typeConnection,
		Status:    "connected",
		UserID:    user.ID,
		UserName:  user.Name,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		c.registry.Remove(conn)
		return nil, false
	}
	return sess, true
}

// handleFrame decodes one inbound frame and dispatches on its type. A
// malformed or unknown frame gets a structured error frame; the connection
// is never closed over a single bad frame.
func (c *Coordinator) handleFrame(ctx context.Context, sess *Session, data []byte) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		wsFrames.WithLabelValues("unknown").Inc()
		c.send(sess, errorFrame("malformed frame", "payload is not valid JSON"))
		return
	}

	switch f.Type {
	case TypeSendMessage, TypeMessage:
		wsFrames.WithLabelValues(TypeSendMessage).Inc()
		c.handleSend(ctx, sess, f)
	case TypeGetPending:
		wsFrames.WithLabelValues(TypeGetPending).Inc()
		c.handlePending(ctx, sess)
	case TypeGetOnlineUsers:
		wsFrames.WithLabelValues(TypeGetOnlineUsers).Inc()
		c.handleOnline(sess)
	default:
		wsFrames.WithLabelValues("unknown").Inc()
		c.send(sess, errorFrame("unknown frame type", fmt.Sprintf("type %q is not supported", f.Type)))
	}
}

// handleSend persists a message and makes at most one delivery attempt:
// recipient online and writable gets a live push plus a delivered ack to
// the sender; otherwise the sender gets a saved ack and delivery relies on
// the pending-message replay path.
func (c *Coordinator) handleSend(ctx context.Context, sess *Session, f InboundFrame) {
	to := strings.TrimSpace(f.To)
	if to == "" {
		c.send(sess, errorFrame("missing recipient", `"to" is required`))
		return
	}
	if strings.TrimSpace(f.Content) == "" {
		c.send(sess, errorFrame("empty content", `"content" must not be empty`))
		return
	}

	recipient, err := c.users.UserByName(ctx, to)
	if err != nil {
		c.send(sess, errorFrame("unknown recipient", fmt.Sprintf("user %q not found", to)))
		return
	}

	msg, err := c.messages.CreateMessage(ctx, sess.UserID, recipient.ID, f.Content)
	if err != nil {
		c.log.Error().Err(err).Int64("sender", sess.UserID).Msg("message not persisted")
		c.send(sess, errorFrame("message not saved", "storage rejected the message"))
		return
	}

	now := time.Now().UTC()
	if rcpt, online := c.registry.Get(recipient.ID); online {
		pushErr := rcpt.Conn.WriteJSON(NewMessageFrame{
			Type:      typeNewMessage,
			From:      sess.UserName,
			To:        recipient.Name,
			Content:   msg.Content,
			MessageID: msg.ID,
			Timestamp: now,
		})
		if pushErr == nil {
			wsDeliveries.WithLabelValues("delivered").Inc()
			c.send(sess, AckFrame{
				Type: typeAck, Status: "delivered", To: recipient.Name,
				MessageID: msg.ID, Delivered: true, Timestamp: now,
			})
			return
		}
		c.log.Warn().Err(pushErr).Int64("recipient", recipient.ID).Msg("live push failed")
	}

	wsDeliveries.WithLabelValues("saved").Inc()
	c.send(sess, AckFrame{
		Type: typeAck, Status: "saved", To: recipient.Name,
		MessageID: msg.ID, Delivered: false, Timestamp: now,
	})
}

// handlePending replays the caller's stored messages, enriched with display
// names resolved best-effort through the store, sorted by ascending id.
func (c *Coordinator) handlePending(ctx context.Context, sess *Session) {
	msgs, err := c.messages.MessagesByUser(ctx, sess.UserID)
	if err != nil {
		c.send(sess, errorFrame("pending messages unavailable", "storage lookup failed"))
		return
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })

	names := map[int64]string{sess.UserID: sess.UserName}
	out := make([]PendingMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, PendingMessage{
			ID:        m.ID,
			From:      c.displayName(ctx, names, m.SenderID),
			To:        c.displayName(ctx, names, m.ReceiverID),
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	c.send(sess, PendingMessagesFrame{Type: typePendingMessages, Messages: out, Count: len(out)})
}

// handleOnline answers with the registry snapshot.
func (c *Coordinator) handleOnline(sess *Session) {
	c.send(sess, onlineFrame(c.registry.Online()))
}

// broadcastOnline pushes the presence snapshot to every live session.
// Write failures are ignored here; the owning read loop notices a dead
// transport on its own.
func (c *Coordinator) broadcastOnline(users []UserRef) {
	frame := onlineFrame(users)
	for _, s := range c.registry.Sessions() {
		_ = s.Conn.WriteJSON(frame)
	}
}

// displayName resolves a user id to a name, caching per call. A failed
// lookup substitutes a placeholder derived from the raw id.
func (c *Coordinator) displayName(ctx context.Context, cache map[int64]string, id int64) string {
	if name, ok := cache[id]; ok {
		return name
	}
	name := fmt.Sprintf("user-%d", id)
	if u, err := c.users.UserByID(ctx, id); err == nil {
		name = u.Name
	}
	cache[id] = name
	return name
}

// send writes one frame to the session, logging write failures at debug;
// the read loop owns disconnect handling.
func (c *Coordinator) send(sess *Session, frame any) {
	if err := sess.Conn.WriteJSON(frame); err != nil {
		c.log.Debug().Err(err).Int64("user_id", sess.UserID).Msg("frame write failed")
	}
}

func onlineFrame(users []UserRef) OnlineUsersFrame {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Name)
	}
	return OnlineUsersFrame{Type: typeOnlineUsersUpdate, Users: names, Count: len(names)}
}
