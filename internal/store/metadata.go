package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/till/internal/models"
)

// MetadataPatch is a partial update to the sync metadata singleton.
// Nil fields are left unchanged.
type MetadataPatch struct {
	LastSync       *time.Time
	CollectionSync map[models.Collection]time.Time // merged per key, not replaced
	SyncInProgress *bool
}

// ensureMetadataRow inserts the singleton row if missing.
func (s *Store) ensureMetadataRow() error {
	_, err := s.conn.Exec(`INSERT OR IGNORE INTO sync_metadata (id, collection_sync) VALUES (1, '{}')`)
	return err
}

// GetSyncMetadata reads the singleton sync metadata record.
func (s *Store) GetSyncMetadata() (*models.SyncMetadata, error) {
	var (
		lastSync   sql.NullString
		collJSON   string
		inProgress int
	)
	err := s.conn.QueryRow(`
		SELECT last_sync, collection_sync, sync_in_progress FROM sync_metadata WHERE id = 1
	`).Scan(&lastSync, &collJSON, &inProgress)
	if err == sql.ErrNoRows {
		// Pre-init store; treat as empty metadata
		return &models.SyncMetadata{CollectionSync: map[models.Collection]time.Time{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync metadata: %w", err)
	}

	meta := &models.SyncMetadata{
		SyncInProgress: inProgress != 0,
		CollectionSync: map[models.Collection]time.Time{},
	}
	if meta.LastSync, err = scanTimePtr(lastSync); err != nil {
		return nil, fmt.Errorf("parse last_sync: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(collJSON), &raw); err != nil {
		return nil, fmt.Errorf("parse collection_sync: %w", err)
	}
	for k, v := range raw {
		t, err := parseTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("parse collection_sync[%s]: %w", k, err)
		}
		meta.CollectionSync[models.Collection(k)] = t
	}
	return meta, nil
}

// UpdateSyncMetadata merge-updates the singleton under the write lock.
// Read-modify-write is serialized so concurrent partial updates cannot
// interleave.
func (s *Store) UpdateSyncMetadata(patch MetadataPatch) error {
	return s.WithWriteLock(func() error {
		meta, err := s.GetSyncMetadata()
		if err != nil {
			return err
		}

		if patch.LastSync != nil {
			meta.LastSync = patch.LastSync
		}
		if patch.SyncInProgress != nil {
			meta.SyncInProgress = *patch.SyncInProgress
		}
		for c, t := range patch.CollectionSync {
			meta.CollectionSync[c] = t
		}

		raw := make(map[string]string, len(meta.CollectionSync))
		for c, t := range meta.CollectionSync {
			raw[string(c)] = formatTime(t)
		}
		collJSON, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("marshal collection_sync: %w", err)
		}

		inProgress := 0
		if meta.SyncInProgress {
			inProgress = 1
		}
		_, err = s.conn.Exec(`
			INSERT INTO sync_metadata (id, last_sync, collection_sync, sync_in_progress)
			VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				last_sync = excluded.last_sync,
				collection_sync = excluded.collection_sync,
				sync_in_progress = excluded.sync_in_progress`,
			formatTimePtr(meta.LastSync), string(collJSON), inProgress,
		)
		if err != nil {
			return fmt.Errorf("write sync metadata: %w", err)
		}
		return nil
	})
}

// SetSyncInProgress flips the cycle mutex flag.
func (s *Store) SetSyncInProgress(v bool) error {
	b := v
	return s.UpdateSyncMetadata(MetadataPatch{SyncInProgress: &b})
}

// clearStaleSyncFlag resets sync_in_progress on open (crash recovery).
func (s *Store) clearStaleSyncFlag() error {
	_, err := s.conn.Exec(`UPDATE sync_metadata SET sync_in_progress = 0 WHERE sync_in_progress != 0`)
	return err
}
