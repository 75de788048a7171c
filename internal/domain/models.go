// Package domain defines the persistence models for users and private
// messages. The types are mapped with GORM for the relational backend and
// carry JSON tags for the key-value backend and the wire layer.
package domain

import "time"

// User is an identity record. Users are created by registration, never
// mutated, and deleted explicitly. Names are unique within a backend; the
// replicated store does not guarantee uniqueness across backends atomically.
//
// Fields:
//   - ID: positive integer, assigned by the backend that persists the row.
//   - Name: unique display/login name.
//   - PasswordHash: opaque argon2id hash; never serialized to clients.
type User struct {
	ID           int64  `json:"id"   gorm:"primaryKey;autoIncrement"`
	Name         string `json:"name" gorm:"type:varchar(64);not null;uniqueIndex:ux_users_name"`
	PasswordHash string `json:"-"    gorm:"column:password_hash;type:text;not null"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Message is an immutable record of one private message. IDs are monotonic
// within a backend but not comparable across backends. Both user ids must
// reference existing users; the relational backend enforces this with
// foreign keys, the key-value backend does not.
type Message struct {
	ID         int64     `json:"id"         gorm:"primaryKey;autoIncrement"`
	SenderID   int64     `json:"senderId"   gorm:"not null;index:idx_messages_sender"`
	ReceiverID int64     `json:"receiverId" gorm:"not null;index:idx_messages_receiver"`
	Content    string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"createdAt"`

	// Sender and Receiver pin the FK constraints; deleting a user cascades
	// to their messages in the relational backend.
	Sender   User `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Receiver User `json:"-" gorm:"foreignKey:ReceiverID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
