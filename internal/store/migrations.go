package store

import (
	"database/sql"
	"fmt"
)

// columnExists checks whether a column exists on a table
func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.conn.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// tableExists checks whether a table exists in the database
func (s *Store) tableExists(table string) (bool, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetSchemaVersion returns the current schema version from the database
func (s *Store) GetSchemaVersion() (int, error) {
	var version string
	err := s.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		// Table might not exist yet
		return 0, nil
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

// setSchemaVersion sets the schema version in the database
func (s *Store) setSchemaVersion(version int) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// RunMigrations upgrades the schema to the current version. Migrations must
// complete before any read/write is permitted against the new schema.
// Returns the number of migrations applied.
func (s *Store) RunMigrations() (int, error) {
	version, err := s.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	if version >= SchemaVersion {
		return 0, nil
	}

	applied := 0

	// v1: backoff eligibility column on the mutation queue
	if version < 1 {
		ok, err := s.columnExists("mutation_queue", "next_attempt_at")
		if err != nil {
			return applied, err
		}
		if !ok {
			if _, err := s.conn.Exec(`ALTER TABLE mutation_queue ADD COLUMN next_attempt_at DATETIME`); err != nil {
				return applied, fmt.Errorf("migration 1: %w", err)
			}
		}
		if _, err := s.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_queue_status ON mutation_queue(status, next_attempt_at)`); err != nil {
			return applied, fmt.Errorf("migration 1 index: %w", err)
		}
		applied++
	}

	// v2: dirty-record scan index
	if version < 2 {
		if _, err := s.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_records_dirty ON records(collection, local_modified_at)`); err != nil {
			return applied, fmt.Errorf("migration 2: %w", err)
		}
		applied++
	}

	// v3: completion timestamp so queue retention is measured from delivery
	if version < 3 {
		ok, err := s.columnExists("mutation_queue", "completed_at")
		if err != nil {
			return applied, err
		}
		if !ok {
			if _, err := s.conn.Exec(`ALTER TABLE mutation_queue ADD COLUMN completed_at DATETIME`); err != nil {
				return applied, fmt.Errorf("migration 3: %w", err)
			}
		}
		applied++
	}

	if err := s.setSchemaVersion(SchemaVersion); err != nil {
		return applied, fmt.Errorf("set schema version: %w", err)
	}
	return applied, nil
}
