// Key-value backend adapter, backed by BadgerDB.
//
// Key layout (zero-padded ids keep lexicographic order equal to numeric order):
//
//	user:id:{id19}          -> JSON user
//	user:name:{name}        -> decimal id
//	msg:sent:{user19}:{id19} -> JSON message (index by sender)
//	msg:recv:{user19}:{id19} -> JSON message (index by receiver)
//
// Ids come from Badger sequences, so they are monotonic within this backend
// but unrelated to the ids the relational backend assigns.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/chatrsa/go-messaging-backend/internal/domain"
)

const seqBandwidth = 64

// BadgerStore adapts user and message operations to a Badger database.
// It implements both UserBackend and MessageBackend.
type BadgerStore struct {
	db      *badger.DB
	userSeq *badger.Sequence
	msgSeq  *badger.Sequence
}

// OpenBadger opens (or creates) a Badger database at path. An empty path
// opens an in-memory instance, used by tests and throwaway deployments.
func OpenBadger(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	// Badger logs through its own logger by default; keep it quiet and let
	// the replicated layer do the structured logging.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	userSeq, err := db.GetSequence([]byte("seq:users"), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, err
	}
	msgSeq, err := db.GetSequence([]byte("seq:messages"), seqBandwidth)
	if err != nil {
		userSeq.Release()
		db.Close()
		return nil, err
	}
	return &BadgerStore{db: db, userSeq: userSeq, msgSeq: msgSeq}, nil
}

// Name identifies the backend in logs.
func (s *BadgerStore) Name() string { return "badger" }

// Close releases the id sequences and closes the database.
func (s *BadgerStore) Close() error {
	s.userSeq.Release()
	s.msgSeq.Release()
	return s.db.Close()
}

// badgerUser is the storage encoding for user values. domain.User redacts
// PasswordHash from JSON for the wire; the stored record needs it, so the
// adapter converts at its boundary instead of marshaling the domain type.
type badgerUser struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
}

func (u badgerUser) domain() *domain.User {
	return &domain.User{ID: u.ID, Name: u.Name, PasswordHash: u.PasswordHash}
}

func userKey(id int64) []byte    { return fmt.Appendf(nil, "user:id:%019d", id) }
func nameKey(name string) []byte { return []byte("user:name:" + name) }
func sentKey(userID, msgID int64) []byte {
	return fmt.Appendf(nil, "msg:sent:%019d:%019d", userID, msgID)
}
func recvKey(userID, msgID int64) []byte {
	return fmt.Appendf(nil, "msg:recv:%019d:%019d", userID, msgID)
}

// nextID returns the next positive id from a sequence. Badger sequences
// start at zero; ids must start at one.
func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// CreateUser persists a user under both the id and the name key. The name
// key doubles as the uniqueness check: an existing entry means the name is
// taken. There is no cross-process lock beyond the Badger transaction.
func (s *BadgerStore) CreateUser(ctx context.Context, name, passwordHash string) (*domain.User, error) {
	id, err := nextID(s.userSeq)
	if err != nil {
		return nil, err
	}
	u := badgerUser{ID: id, Name: name, PasswordHash: passwordHash}
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		switch _, err := txn.Get(nameKey(name)); {
		case err == nil:
			return ErrDuplicateName
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(userKey(id), raw); err != nil {
			return err
		}
		return txn.Set(nameKey(name), []byte(strconv.FormatInt(id, 10)))
	})
	if err != nil {
		return nil, err
	}
	return u.domain(), nil
}

// UserByID fetches a user by id, or ErrNotFound.
func (s *BadgerStore) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	var u badgerUser
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if err != nil {
		return nil, mapBadgerNotFound(err)
	}
	return u.domain(), nil
}

// UserByName resolves the name index and loads the user row, or ErrNotFound.
func (s *BadgerStore) UserByName(ctx context.Context, name string) (*domain.User, error) {
	var u badgerUser
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nameKey(name))
		if err != nil {
			return err
		}
		var id int64
		if err := item.Value(func(val []byte) error {
			id, err = strconv.ParseInt(string(val), 10, 64)
			return err
		}); err != nil {
			return err
		}
		item, err = txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		})
	})
	if err != nil {
		return nil, mapBadgerNotFound(err)
	}
	return u.domain(), nil
}

// DeleteUser removes the user keys and, because Badger has no referential
// constraints, manually cascades over the user's message indexes. The
// counterpart index entries of each message are removed as well.
func (s *BadgerStore) DeleteUser(ctx context.Context, id int64) error {
	u, err := s.UserByID(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := s.MessagesByUser(ctx, id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(userKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(nameKey(u.Name)); err != nil {
			return err
		}
		for _, m := range msgs {
			if err := txn.Delete(sentKey(m.SenderID, m.ID)); err != nil {
				return err
			}
			if err := txn.Delete(recvKey(m.ReceiverID, m.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateMessage persists a message under the sender and receiver indexes.
// Existence of the referenced users is not checked here; that is an
// application-level concern.
func (s *BadgerStore) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*domain.Message, error) {
	id, err := nextID(s.msgSeq)
	if err != nil {
		return nil, err
	}
	m := &domain.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(sentKey(senderID, id), raw); err != nil {
			return err
		}
		return txn.Set(recvKey(receiverID, id), raw)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MessagesByUser scans the sent and received prefixes for userID, de-dupes
// self-messages by id, and returns the union ordered by ascending id.
func (s *BadgerStore) MessagesByUser(ctx context.Context, userID int64) ([]domain.Message, error) {
	byID := make(map[int64]domain.Message)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{
			fmt.Appendf(nil, "msg:sent:%019d:", userID),
			fmt.Appendf(nil, "msg:recv:%019d:", userID),
		} {
			if err := collectMessages(txn, prefix, byID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sortMessagesByID(out)
	return out, nil
}

// sortMessagesByID orders messages in place by ascending id.
func sortMessagesByID(msgs []domain.Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
}

// collectMessages iterates one index prefix and unmarshals every entry.
func collectMessages(txn *badger.Txn, prefix []byte, byID map[int64]domain.Message) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var m domain.Message
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return err
		}
		byID[m.ID] = m
	}
	return nil
}

// mapBadgerNotFound converts badger.ErrKeyNotFound into the store sentinel.
func mapBadgerNotFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}
