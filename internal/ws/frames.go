// Package ws implements the live-messaging layer: the session registry that
// tracks connected users, and the coordinator that authenticates WebSocket
// connections, routes messages, and replays stored messages.
//
// Frames are JSON objects with a "type" discriminator. Inbound frames form a
// closed set; anything else is answered with an error frame and the
// connection stays open.
package ws

import "time"

// Inbound frame types accepted by the coordinator.
const (
	TypeSendMessage = "send_message"
	// TypeMessage is the legacy alias some clients still send.
	TypeMessage           = "message"
	TypeGetPending        = "get_pending_messages"
	TypeGetOnlineUsers    = "get_online_users"
	typeConnection        = "connection"
	typeAck               = "ack"
	typeNewMessage        = "new_message"
	typeError             = "error"
	typePendingMessages   = "pending_messages"
	typeOnlineUsersUpdate = "online_users"
)

// Close codes used by the coordinator.
const (
	closeNormal          = 1000 // session displaced by a newer connection
	closePolicyViolation = 1008 // missing/invalid token, unknown user
	closeInternalError   = 1011 // uncaught fault during the handshake
)

// InboundFrame is the envelope every client frame is decoded into. Fields
// beyond Type are populated depending on the frame type.
type InboundFrame struct {
	Type    string `json:"type"`
	To      string `json:"to,omitempty"`
	Content string `json:"content,omitempty"`
}

// ConnectionFrame acknowledges a successful handshake.
type ConnectionFrame struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	UserID    int64     `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// AckFrame reports the outcome of a send_message to the sender.
// Status is "delivered" when the recipient received a live push, "saved"
// when the message was only persisted.
type AckFrame struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	To        string    `json:"to"`
	MessageID int64     `json:"messageId"`
	Delivered bool      `json:"delivered"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessageFrame is pushed to an online recipient.
type NewMessageFrame struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	MessageID int64     `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame reports a per-frame failure without closing the connection.
type ErrorFrame struct {
	Type      string    `json:"type"`
	Error     string    `json:"error"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingMessage is one stored message enriched with display names.
type PendingMessage struct {
	ID        int64     `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingMessagesFrame carries the replayed message list.
type PendingMessagesFrame struct {
	Type     string           `json:"type"`
	Messages []PendingMessage `json:"messages"`
	Count    int              `json:"count"`
}

// OnlineUsersFrame carries the names of currently connected users.
type OnlineUsersFrame struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

func errorFrame(msg, details string) ErrorFrame {
	return ErrorFrame{Type: typeError, Error: msg, Details: details, Timestamp: time.Now().UTC()}
}
