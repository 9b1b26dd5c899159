// Package version implements the append-only version store for space
// documents: monotonic per-space numbering, a parent-linked version tree,
// scoped restore, cascade delete, retention pruning and optional payload
// compression at the storage boundary.
package version

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"spaceforge/api/internal/space"
)

// Version is one immutable commit of a space snapshot. The snapshot payload
// is held as JSON, gzip-compressed when the version was created with
// compression; Snapshot always returns the fully materialized form.
type Version struct {
	ID              string    `json:"id"`
	SpaceID         string    `json:"spaceId"`
	VersionNumber   int       `json:"versionNumber"`
	ParentVersionID string    `json:"parentVersionId,omitempty"`
	Description     string    `json:"description"`
	Tags            []string  `json:"tags"`
	Protected       bool      `json:"protected"`
	AutoBackup      bool      `json:"autoBackup,omitempty"`
	BackupInterval  time.Duration `json:"backupInterval,omitempty"`
	NextBackupTime  time.Time `json:"nextBackupTime,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	Compressed      bool      `json:"compressed"`
	OriginalSize    int       `json:"originalSize,omitempty"`
	CompressedSize  int       `json:"compressedSize,omitempty"`

	SourceMappings []space.SourceMapping `json:"sourceMappings,omitempty"`

	payload []byte
}

// Snapshot materializes the stored snapshot as a fresh deep copy. Versions
// are immutable; callers may mutate the returned value freely.
func (v *Version) Snapshot() (*space.Snapshot, error) {
	raw := v.payload
	if v.Compressed {
		decompressed, err := gunzip(raw)
		if err != nil {
			return nil, fmt.Errorf("decompress version %s: %w", v.ID, err)
		}
		raw = decompressed
	}
	var snap space.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode version %s: %w", v.ID, err)
	}
	return &snap, nil
}

// Payload returns the stored bytes as-is (compressed when Compressed).
func (v *Version) Payload() []byte {
	return v.payload
}

// HasTag reports whether the version carries the tag.
func (v *Version) HasTag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func encodePayload(snap *space.Snapshot, compress bool) (payload []byte, originalSize, compressedSize int, err error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if !compress {
		return raw, len(raw), 0, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, 0, 0, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, 0, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), len(raw), buf.Len(), nil
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
