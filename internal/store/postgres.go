package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"spaceforge/api/internal/space"
	"spaceforge/api/internal/version"
)

// BlobStore offloads version payloads to object storage. When set, the
// payload column stays NULL and payload_key points at the stored object.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// PostgresStore persists version records. It implements version.Persistence.
type PostgresStore struct {
	db    *sql.DB
	blobs BlobStore
}

func NewPostgresStore(db *sql.DB, blobs BlobStore) *PostgresStore {
	return &PostgresStore{db: db, blobs: blobs}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func payloadKey(spaceID, versionID string) string {
	return spaceID + "/" + versionID
}

func (s *PostgresStore) SaveVersion(ctx context.Context, rec version.Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	mappings, err := json.Marshal(rec.SourceMappings)
	if err != nil {
		return fmt.Errorf("encode source mappings: %w", err)
	}

	payload := rec.Payload
	var key sql.NullString
	if s.blobs != nil {
		key = sql.NullString{String: payloadKey(rec.SpaceID, rec.ID), Valid: true}
		if err := s.blobs.Put(ctx, key.String, rec.Payload); err != nil {
			return fmt.Errorf("store payload: %w", err)
		}
		payload = nil
	}

	var parent sql.NullString
	if rec.ParentVersionID != "" {
		parent = sql.NullString{String: rec.ParentVersionID, Valid: true}
	}
	var nextBackup sql.NullTime
	if !rec.NextBackupTime.IsZero() {
		nextBackup = sql.NullTime{Time: rec.NextBackupTime, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO space_versions (
			id, space_id, version_number, parent_version_id, description,
			tags, source_mappings, protected, auto_backup, backup_interval_seconds,
			next_backup_at, compressed, original_size, compressed_size,
			payload, payload_key, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		rec.ID, rec.SpaceID, rec.VersionNumber, parent, rec.Description,
		tags, mappings, rec.Protected, rec.AutoBackup, int64(rec.BackupInterval/time.Second),
		nextBackup, rec.Compressed, rec.OriginalSize, rec.CompressedSize,
		payload, key, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteVersion(ctx context.Context, spaceID, versionID string, cleanupPayload bool) error {
	var key sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_key FROM space_versions WHERE id=$1 AND space_id=$2`,
		versionID, spaceID,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup version: %w", err)
	}

	if cleanupPayload && key.Valid && s.blobs != nil {
		if err := s.blobs.Remove(ctx, key.String); err != nil {
			return fmt.Errorf("remove payload: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM space_versions WHERE id=$1 AND space_id=$2`,
		versionID, spaceID,
	); err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]version.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, space_id, version_number, parent_version_id, description,
			tags, source_mappings, protected, auto_backup, backup_interval_seconds,
			next_backup_at, compressed, original_size, compressed_size,
			payload, payload_key, created_at
		FROM space_versions
		ORDER BY space_id, version_number
	`)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	defer rows.Close()

	var records []version.Record
	for rows.Next() {
		var (
			rec             version.Record
			parent, key     sql.NullString
			nextBackup      sql.NullTime
			tags, mappings  []byte
			intervalSeconds int64
			payload         []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.SpaceID, &rec.VersionNumber, &parent, &rec.Description,
			&tags, &mappings, &rec.Protected, &rec.AutoBackup, &intervalSeconds,
			&nextBackup, &rec.Compressed, &rec.OriginalSize, &rec.CompressedSize,
			&payload, &key, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		rec.ParentVersionID = parent.String
		rec.BackupInterval = time.Duration(intervalSeconds) * time.Second
		if nextBackup.Valid {
			rec.NextBackupTime = nextBackup.Time
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &rec.Tags); err != nil {
				return nil, fmt.Errorf("decode tags for %s: %w", rec.ID, err)
			}
		}
		if len(mappings) > 0 {
			var sm []space.SourceMapping
			if err := json.Unmarshal(mappings, &sm); err != nil {
				return nil, fmt.Errorf("decode source mappings for %s: %w", rec.ID, err)
			}
			rec.SourceMappings = sm
		}
		if key.Valid && s.blobs != nil {
			payload, err = s.blobs.Get(ctx, key.String)
			if err != nil {
				return nil, fmt.Errorf("fetch payload for %s: %w", rec.ID, err)
			}
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return records, nil
}
