package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/till/internal/models"
)

const recordColumns = "collection, id, payload, updated_at, last_synced_at, local_modified_at"

func scanRecord(scan func(dest ...any) error) (models.Record, error) {
	var (
		r                           models.Record
		collection, id, payload     string
		updated, synced, localModAt sql.NullString
	)
	if err := scan(&collection, &id, &payload, &updated, &synced, &localModAt); err != nil {
		return r, err
	}

	r.Collection = models.Collection(collection)
	r.ID = id
	r.Payload = json.RawMessage(payload)

	if updated.Valid && updated.String != "" {
		t, err := parseTimestamp(updated.String)
		if err != nil {
			return r, fmt.Errorf("parse updated_at for %s/%s: %w", collection, id, err)
		}
		r.UpdatedAt = t
	}

	var err error
	if r.LastSyncedAt, err = scanTimePtr(synced); err != nil {
		return r, fmt.Errorf("parse last_synced_at for %s/%s: %w", collection, id, err)
	}
	if r.LocalModifiedAt, err = scanTimePtr(localModAt); err != nil {
		return r, fmt.Errorf("parse local_modified_at for %s/%s: %w", collection, id, err)
	}
	return r, nil
}

// GetAll returns every record in a collection, ordered by id.
func (s *Store) GetAll(collection models.Collection) ([]models.Record, error) {
	rows, err := s.conn.Query(
		`SELECT `+recordColumns+` FROM records WHERE collection = ? ORDER BY id`,
		string(collection),
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns a single record, or nil if it does not exist.
func (s *Store) Get(collection models.Collection, id string) (*models.Record, error) {
	row := s.conn.QueryRow(
		`SELECT `+recordColumns+` FROM records WHERE collection = ? AND id = ?`,
		string(collection), id,
	)
	r, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// PutMany upserts records by primary key inside one transaction.
// Either all records commit or none do.
func (s *Store) PutMany(collection models.Collection, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.WithWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if err := putManyTx(tx, collection, records); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit records: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
}

// putManyTx upserts records within an existing transaction.
func putManyTx(tx *sql.Tx, collection models.Collection, records []models.Record) error {
	stmt, err := tx.Prepare(`
		INSERT INTO records (collection, id, payload, updated_at, last_synced_at, local_modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at,
			local_modified_at = excluded.local_modified_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		payload := r.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		var updatedAt any
		if !r.UpdatedAt.IsZero() {
			updatedAt = formatTime(r.UpdatedAt)
		}
		if _, err := stmt.Exec(
			string(collection), r.ID, string(payload),
			updatedAt, formatTimePtr(r.LastSyncedAt), formatTimePtr(r.LocalModifiedAt),
		); err != nil {
			return fmt.Errorf("upsert record %s/%s: %w", collection, r.ID, err)
		}
	}
	return nil
}

// PutLocalTx upserts a record's payload as an optimistic local edit within an
// existing transaction: local_modified_at is stamped, server bookkeeping
// columns are preserved.
func PutLocalTx(tx *sql.Tx, collection models.Collection, id string, payload json.RawMessage, now time.Time) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := tx.Exec(`
		INSERT INTO records (collection, id, payload, local_modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			payload = excluded.payload,
			local_modified_at = excluded.local_modified_at`,
		string(collection), id, string(payload), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("local write %s/%s: %w", collection, id, err)
	}
	return nil
}

// PutLocal applies an optimistic local edit in its own transaction.
func (s *Store) PutLocal(collection models.Collection, id string, payload json.RawMessage) error {
	return s.WithWriteLock(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()
		if err := PutLocalTx(tx, collection, id, payload, time.Now()); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Delete removes a record.
func (s *Store) Delete(collection models.Collection, id string) error {
	return s.WithWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM records WHERE collection = ? AND id = ?`, string(collection), id)
		return err
	})
}

// Clear removes every record in a collection.
func (s *Store) Clear(collection models.Collection) error {
	return s.WithWriteLock(func() error {
		_, err := s.conn.Exec(`DELETE FROM records WHERE collection = ?`, string(collection))
		return err
	})
}

// DirtyIDs returns the ids of records in a collection carrying an unsynced
// local edit. Used by the pull path to protect local pending work from being
// overwritten by server state.
func (s *Store) DirtyIDs(collection models.Collection) (map[string]bool, error) {
	rows, err := s.conn.Query(`
		SELECT id FROM records
		WHERE collection = ?
		  AND local_modified_at IS NOT NULL
		  AND (last_synced_at IS NULL OR local_modified_at > last_synced_at)`,
		string(collection),
	)
	if err != nil {
		return nil, fmt.Errorf("query dirty ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// LocalVersions returns each record's server version marker (updated_at) for
// a collection. The pull path uses it to drop delta entries older than what
// the replica already holds. Records with no version yet are omitted.
func (s *Store) LocalVersions(collection models.Collection) (map[string]time.Time, error) {
	rows, err := s.conn.Query(
		`SELECT id, updated_at FROM records WHERE collection = ?`,
		string(collection),
	)
	if err != nil {
		return nil, fmt.Errorf("query local versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]time.Time)
	for rows.Next() {
		var (
			id      string
			updated sql.NullString
		)
		if err := rows.Scan(&id, &updated); err != nil {
			return nil, err
		}
		if !updated.Valid || updated.String == "" {
			continue
		}
		t, err := parseTimestamp(updated.String)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for %s/%s: %w", collection, id, err)
		}
		versions[id] = t
	}
	return versions, rows.Err()
}

// CountDirty returns the number of records in a collection carrying an
// unsynced local edit.
func (s *Store) CountDirty(collection models.Collection) (int64, error) {
	var count int64
	err := s.conn.QueryRow(`
		SELECT COUNT(*) FROM records
		WHERE collection = ?
		  AND local_modified_at IS NOT NULL
		  AND (last_synced_at IS NULL OR local_modified_at > last_synced_at)`,
		string(collection),
	).Scan(&count)
	return count, err
}
