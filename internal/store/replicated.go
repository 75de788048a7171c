// Replicated facade over the backend adapters.
//
// Every operation fans out to all configured backends concurrently and joins
// all results before deciding the outcome:
//
//   - writes and point reads: first success wins. Failures next to at least
//     one success are logged and swallowed, an availability-over-visibility
//     tradeoff. Partial replication is therefore possible and uncorrected.
//   - list reads: the single longest slice among the successful backends
//     wins. This is a heuristic, not a merge; when backends diverge, the
//     shorter backend's unique entries are dropped from the result.
//
// The backends here are not a classical replica set: the setup behaves like
// a migration shim where correctness under disagreement is deliberately not
// solved. Callers get regular (value, error) pairs; an error is returned
// only when every backend failed.
package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/chatrsa/go-messaging-backend/internal/domain"
)

// UserBackend is the adapter contract for user persistence.
type UserBackend interface {
	// Name identifies the backend in logs.
	Name() string
	// CreateUser persists a new user; ErrDuplicateName when the name is taken.
	CreateUser(ctx context.Context, name, passwordHash string) (*domain.User, error)
	// UserByID fetches a user by id, or ErrNotFound.
	UserByID(ctx context.Context, id int64) (*domain.User, error)
	// UserByName fetches a user by name, or ErrNotFound.
	UserByName(ctx context.Context, name string) (*domain.User, error)
	// DeleteUser removes a user and cascades to their messages.
	DeleteUser(ctx context.Context, id int64) error
}

// MessageBackend is the adapter contract for message persistence.
type MessageBackend interface {
	// Name identifies the backend in logs.
	Name() string
	// CreateMessage persists one immutable message.
	CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*domain.Message, error)
	// MessagesByUser returns every message sent or received by userID,
	// ordered by ascending id.
	MessagesByUser(ctx context.Context, userID int64) ([]domain.Message, error)
}

// outcome carries one backend's result through the join channel.
type outcome[T any] struct {
	idx     int
	backend string
	value   T
	err     error
}

// fanOut launches call once per backend and joins all results, preserving
// backend order. Calls are issued together and awaited jointly; a hung
// backend stalls the whole operation (no timeout beyond ctx).
func fanOut[T any](n int, name func(i int) string, call func(i int) (T, error)) []outcome[T] {
	ch := make(chan outcome[T], n)
	for i := 0; i < n; i++ {
		go func(i int) {
			v, err := call(i)
			ch <- outcome[T]{idx: i, backend: name(i), value: v, err: err}
		}(i)
	}
	out := make([]outcome[T], n)
	for i := 0; i < n; i++ {
		o := <-ch
		out[o.idx] = o
	}
	return out
}

// firstSuccess applies the first-success-wins policy: return any one
// successful value (backend order breaks the tie deterministically), log the
// swallowed failures, and only when every backend failed join the errors so
// callers can still match sentinels with errors.Is.
func firstSuccess[T any](log zerolog.Logger, op string, results []outcome[T]) (T, error) {
	winner := -1
	for i, o := range results {
		if o.err == nil && winner < 0 {
			winner = i
		}
	}
	if winner >= 0 {
		for _, o := range results {
			if o.err != nil {
				log.Warn().
					Str("op", op).
					Str("backend", o.backend).
					Err(o.err).
					Msg("backend failed; result served by another backend")
			}
		}
		return results[winner].value, nil
	}
	errs := make([]error, 0, len(results))
	for _, o := range results {
		errs = append(errs, o.err)
	}
	var zero T
	return zero, errors.Join(errs...)
}

// ReplicatedUsers fans user operations out across a fixed list of backends.
type ReplicatedUsers struct {
	backends []UserBackend
	log      zerolog.Logger
}

// NewReplicatedUsers constructs the facade. The backend list is fixed for
// the lifetime of the store; there is no ambient global state.
func NewReplicatedUsers(log zerolog.Logger, backends ...UserBackend) *ReplicatedUsers {
	return &ReplicatedUsers{backends: backends, log: log}
}

func (r *ReplicatedUsers) name(i int) string { return r.backends[i].Name() }

// CreateUser writes to every backend concurrently, first success wins.
// Some backends may have committed the user while others diverged; that gap
// is logged, not corrected.
func (r *ReplicatedUsers) CreateUser(ctx context.Context, name, passwordHash string) (*domain.User, error) {
	results := fanOut(len(r.backends), r.name, func(i int) (*domain.User, error) {
		return r.backends[i].CreateUser(ctx, name, passwordHash)
	})
	return firstSuccess(r.log, "create_user", results)
}

// UserByID queries every backend; any single success answers the call.
func (r *ReplicatedUsers) UserByID(ctx context.Context, id int64) (*domain.User, error) {
	results := fanOut(len(r.backends), r.name, func(i int) (*domain.User, error) {
		return r.backends[i].UserByID(ctx, id)
	})
	return firstSuccess(r.log, "user_by_id", results)
}

// UserByName queries every backend; "does ANY backend know the name", not
// "do all backends agree". Divergence is not detected.
func (r *ReplicatedUsers) UserByName(ctx context.Context, name string) (*domain.User, error) {
	results := fanOut(len(r.backends), r.name, func(i int) (*domain.User, error) {
		return r.backends[i].UserByName(ctx, name)
	})
	return firstSuccess(r.log, "user_by_name", results)
}

// DeleteUser deletes from every backend, first success wins, so a delete can
// silently fail against some backends while reporting overall success.
func (r *ReplicatedUsers) DeleteUser(ctx context.Context, id int64) error {
	results := fanOut(len(r.backends), r.name, func(i int) (struct{}, error) {
		return struct{}{}, r.backends[i].DeleteUser(ctx, id)
	})
	_, err := firstSuccess(r.log, "delete_user", results)
	return err
}

// ReplicatedMessages fans message operations out across a fixed list of
// backends.
type ReplicatedMessages struct {
	backends []MessageBackend
	log      zerolog.Logger
}

// NewReplicatedMessages constructs the facade over a fixed backend list.
func NewReplicatedMessages(log zerolog.Logger, backends ...MessageBackend) *ReplicatedMessages {
	return &ReplicatedMessages{backends: backends, log: log}
}

func (r *ReplicatedMessages) name(i int) string { return r.backends[i].Name() }

// CreateMessage writes to every backend concurrently, first success wins.
// The returned id is backend-specific: if the winning backend differs
// between calls, ids are not globally ordered.
func (r *ReplicatedMessages) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*domain.Message, error) {
	results := fanOut(len(r.backends), r.name, func(i int) (*domain.Message, error) {
		return r.backends[i].CreateMessage(ctx, senderID, receiverID, content)
	})
	return firstSuccess(r.log, "create_message", results)
}

// MessagesByUser queries every backend and returns the single longest slice
// among the ones that succeeded (ties go to the earlier backend). Shorter
// backends' unique messages are silently dropped.
func (r *ReplicatedMessages) MessagesByUser(ctx context.Context, userID int64) ([]domain.Message, error) {
	results := fanOut(len(r.backends), r.name, func(i int) ([]domain.Message, error) {
		return r.backends[i].MessagesByUser(ctx, userID)
	})

	longest := -1
	for i, o := range results {
		if o.err != nil {
			continue
		}
		if longest < 0 || len(o.value) > len(results[longest].value) {
			longest = i
		}
	}
	if longest < 0 {
		_, err := firstSuccess(r.log, "messages_by_user", results)
		return nil, err
	}
	for _, o := range results {
		if o.err != nil {
			r.log.Warn().
				Str("op", "messages_by_user").
				Str("backend", o.backend).
				Err(o.err).
				Msg("backend failed; result served by another backend")
		}
	}
	return results[longest].value, nil
}
