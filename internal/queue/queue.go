// Package queue implements the durable write-ahead log of locally-originated
// mutations. Items are persisted in the local store's database so a crash
// immediately after enqueue cannot lose an action; item ids double as
// idempotency keys so retried delivery has a single server-side effect.
package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/store"
)

// ErrNotFound is returned when a queue item id does not exist.
var ErrNotFound = errors.New("queue item not found")

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Item is one pending mutation awaiting delivery to the server.
type Item struct {
	ID            string // locally generated, used as the idempotency key
	Operation     models.Operation
	Collection    models.Collection
	EntityID      string
	Payload       json.RawMessage
	Status        Status
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	NextAttemptAt *time.Time // backoff gate; nil means eligible immediately
	CompletedAt   *time.Time
	LastError     string
}

// Eligible reports whether the item's backoff gate has passed.
func (it Item) Eligible(now time.Time) bool {
	return it.NextAttemptAt == nil || !it.NextAttemptAt.After(now)
}

// Queue manages mutation_queue rows in the local store.
type Queue struct {
	st *store.Store
}

// New creates a Queue over an open store.
func New(st *store.Store) *Queue {
	return &Queue{st: st}
}

// Enqueue persists a new pending item. The insert commits before Enqueue
// returns, so the caller may report the action as saved.
func (q *Queue) Enqueue(op models.Operation, collection models.Collection, entityID string, payload json.RawMessage) (*Item, error) {
	if !models.ValidOperation(op) {
		return nil, fmt.Errorf("invalid operation %q", op)
	}
	if !models.ValidCollection(collection) {
		return nil, fmt.Errorf("invalid collection %q", collection)
	}

	item := newItem(op, collection, entityID, payload)
	err := q.st.WithWriteLock(func() error {
		return insertItem(q.st.Conn(), item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// EnqueueWithLocalWrite performs the two-phase local commit in one
// transaction: the optimistic record write and the queue insert either both
// commit or neither does.
func (q *Queue) EnqueueWithLocalWrite(op models.Operation, collection models.Collection, entityID string, payload json.RawMessage) (*Item, error) {
	if !models.ValidOperation(op) {
		return nil, fmt.Errorf("invalid operation %q", op)
	}
	if !models.ValidCollection(collection) {
		return nil, fmt.Errorf("invalid collection %q", collection)
	}

	item := newItem(op, collection, entityID, payload)
	err := q.st.WithWriteLock(func() error {
		tx, err := q.st.Conn().Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if op == models.OperationDelete {
			if _, err := tx.Exec(`DELETE FROM records WHERE collection = ? AND id = ?`,
				string(collection), entityID); err != nil {
				return fmt.Errorf("local delete %s/%s: %w", collection, entityID, err)
			}
		} else {
			if err := store.PutLocalTx(tx, collection, entityID, payload, item.CreatedAt); err != nil {
				return err
			}
		}
		if err := insertItemTx(tx, item); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func newItem(op models.Operation, collection models.Collection, entityID string, payload json.RawMessage) *Item {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return &Item{
		ID:         uuid.NewString(),
		Operation:  op,
		Collection: collection,
		EntityID:   entityID,
		Payload:    payload,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertItem(db *sql.DB, item *Item) error { return execInsert(db, item) }

func insertItemTx(tx *sql.Tx, item *Item) error { return execInsert(tx, item) }

func execInsert(e execer, item *Item) error {
	_, err := e.Exec(`
		INSERT INTO mutation_queue (id, operation, collection, entity_id, payload, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		item.ID, string(item.Operation), string(item.Collection), item.EntityID,
		string(item.Payload), string(item.Status), item.CreatedAt.Format(store.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("enqueue mutation: %w", err)
	}
	return nil
}

const itemColumns = `id, operation, collection, entity_id, payload, status, attempts,
	created_at, last_attempt_at, next_attempt_at, completed_at, COALESCE(last_error, '')`

func scanItem(scan func(dest ...any) error) (Item, error) {
	var (
		it                                  Item
		op, coll, payload, stat             string
		createdAt                           string
		lastAttempt, nextAttempt, completed sql.NullString
	)
	err := scan(&it.ID, &op, &coll, &it.EntityID, &payload, &stat, &it.Attempts,
		&createdAt, &lastAttempt, &nextAttempt, &completed, &it.LastError)
	if err != nil {
		return it, err
	}

	it.Operation = models.Operation(op)
	it.Collection = models.Collection(coll)
	it.Payload = json.RawMessage(payload)
	it.Status = Status(stat)

	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return it, fmt.Errorf("parse created_at for %s: %w", it.ID, err)
	}
	if it.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
		return it, fmt.Errorf("parse last_attempt_at for %s: %w", it.ID, err)
	}
	if it.NextAttemptAt, err = parseNullTime(nextAttempt); err != nil {
		return it, fmt.Errorf("parse next_attempt_at for %s: %w", it.ID, err)
	}
	if it.CompletedAt, err = parseNullTime(completed); err != nil {
		return it, fmt.Errorf("parse completed_at for %s: %w", it.ID, err)
	}
	return it, nil
}

func parseTime(v string) (time.Time, error) {
	for _, f := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(f, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get returns a single item by id.
func (q *Queue) Get(id string) (*Item, error) {
	row := q.st.Conn().QueryRow(`SELECT `+itemColumns+` FROM mutation_queue WHERE id = ?`, id)
	it, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// List returns items, optionally filtered by status (empty = all),
// ordered by creation.
func (q *Queue) List(filter Status) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM mutation_queue`
	var args []any
	if filter != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter))
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := q.st.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// PendingInOrder returns every pending item in creation order, including
// items whose backoff gate has not passed. The gate must be applied per
// entity, not per item: a gated mutation holds back every later mutation for
// the same entity, so callers filter via Eligible after grouping.
// The rowid tiebreak keeps same-timestamp items stable.
func (q *Queue) PendingInOrder() ([]Item, error) {
	rows, err := q.st.Conn().Query(`
		SELECT `+itemColumns+` FROM mutation_queue
		WHERE status = ?
		ORDER BY created_at, rowid`,
		string(StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkSyncing transitions pending→syncing, incrementing attempts and
// stamping last_attempt_at.
func (q *Queue) MarkSyncing(id string) error {
	return q.update(id, `
		UPDATE mutation_queue
		SET status = ?, attempts = attempts + 1, last_attempt_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusSyncing), nowString(), id, string(StatusPending))
}

// MarkCompleted transitions syncing→completed, stamping completed_at and
// clearing last_error.
func (q *Queue) MarkCompleted(id string) error {
	return q.update(id, `
		UPDATE mutation_queue SET status = ?, last_error = '', completed_at = ? WHERE id = ?`,
		string(StatusCompleted), nowString(), id)
}

// MarkPendingRetry transitions syncing→pending after a transient failure,
// recording the error and the backoff gate.
func (q *Queue) MarkPendingRetry(id, errMsg string, delay time.Duration) error {
	next := time.Now().UTC().Add(delay)
	return q.update(id, `
		UPDATE mutation_queue SET status = ?, last_error = ?, next_attempt_at = ? WHERE id = ?`,
		string(StatusPending), errMsg, next.Format(store.TimeLayout), id)
}

// MarkFailed transitions an item to the terminal failed state.
// Failed items are only retried by explicit operator action.
func (q *Queue) MarkFailed(id, errMsg string) error {
	return q.update(id, `
		UPDATE mutation_queue SET status = ?, last_error = ? WHERE id = ?`,
		string(StatusFailed), errMsg, id)
}

// Retry resets a failed item to pending for another delivery attempt.
func (q *Queue) Retry(id string) error {
	return q.update(id, `
		UPDATE mutation_queue
		SET status = ?, attempts = 0, next_attempt_at = NULL, last_error = ''
		WHERE id = ? AND status = ?`,
		string(StatusPending), id, string(StatusFailed))
}

// Remove deletes an item regardless of status.
func (q *Queue) Remove(id string) error {
	return q.st.WithWriteLock(func() error {
		res, err := q.st.Conn().Exec(`DELETE FROM mutation_queue WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ClearCompleted purges items completed before the retention window and
// returns the count purged. Retention is measured from completion, not
// enqueue, so an item that waited out a long outage is not purged the moment
// it finally delivers. Pending and failed items are never purged here.
func (q *Queue) ClearCompleted(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	var purged int64
	err := q.st.WithWriteLock(func() error {
		res, err := q.st.Conn().Exec(`
			DELETE FROM mutation_queue
			WHERE status = ? AND COALESCE(completed_at, created_at) < ?`,
			string(StatusCompleted), cutoff.Format(store.TimeLayout))
		if err != nil {
			return err
		}
		purged, _ = res.RowsAffected()
		return nil
	})
	return purged, err
}

// PendingCount returns the number of pending items (badge count).
func (q *Queue) PendingCount() (int64, error) {
	return q.count(StatusPending)
}

// FailedCount returns the number of failed items (badge count).
func (q *Queue) FailedCount() (int64, error) {
	return q.count(StatusFailed)
}

func (q *Queue) count(status Status) (int64, error) {
	var n int64
	err := q.st.Conn().QueryRow(`SELECT COUNT(*) FROM mutation_queue WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

func (q *Queue) update(id, query string, args ...any) error {
	return q.st.WithWriteLock(func() error {
		res, err := q.st.Conn().Exec(query, args...)
		if err != nil {
			return fmt.Errorf("update queue item %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

func nowString() string {
	return time.Now().UTC().Format(store.TimeLayout)
}
