package version

import (
	"context"
	"time"

	"spaceforge/api/internal/space"
)

// Record is the storage-facing projection of a Version. Payload carries the
// snapshot JSON exactly as the store holds it (gzip bytes when Compressed);
// persistence round-trips it opaquely.
type Record struct {
	ID              string
	SpaceID         string
	VersionNumber   int
	ParentVersionID string
	Description     string
	Tags            []string
	SourceMappings  []space.SourceMapping
	Protected       bool
	AutoBackup      bool
	BackupInterval  time.Duration
	NextBackupTime  time.Time
	CreatedAt       time.Time
	Compressed      bool
	OriginalSize    int
	CompressedSize  int
	Payload         []byte
}

// Persistence is the external durability backend, invoked at commit points
// only. The store assumes durability once SaveVersion returns nil and
// surfaces any error as ErrStorage without registering the version.
type Persistence interface {
	SaveVersion(ctx context.Context, rec Record) error
	// DeleteVersion removes the stored record; cleanupPayload additionally
	// removes any externally stored payload object.
	DeleteVersion(ctx context.Context, spaceID, versionID string, cleanupPayload bool) error
	// LoadAll returns every stored record, used to hydrate the store at boot.
	LoadAll(ctx context.Context) ([]Record, error)
}

func recordOf(v *Version) Record {
	return Record{
		ID:              v.ID,
		SpaceID:         v.SpaceID,
		VersionNumber:   v.VersionNumber,
		ParentVersionID: v.ParentVersionID,
		Description:     v.Description,
		Tags:            v.Tags,
		SourceMappings:  v.SourceMappings,
		Protected:       v.Protected,
		AutoBackup:      v.AutoBackup,
		BackupInterval:  v.BackupInterval,
		NextBackupTime:  v.NextBackupTime,
		CreatedAt:       v.CreatedAt,
		Compressed:      v.Compressed,
		OriginalSize:    v.OriginalSize,
		CompressedSize:  v.CompressedSize,
		Payload:         v.payload,
	}
}

func versionOf(rec Record) *Version {
	return &Version{
		ID:              rec.ID,
		SpaceID:         rec.SpaceID,
		VersionNumber:   rec.VersionNumber,
		ParentVersionID: rec.ParentVersionID,
		Description:     rec.Description,
		Tags:            rec.Tags,
		SourceMappings:  rec.SourceMappings,
		Protected:       rec.Protected,
		AutoBackup:      rec.AutoBackup,
		BackupInterval:  rec.BackupInterval,
		NextBackupTime:  rec.NextBackupTime,
		CreatedAt:       rec.CreatedAt,
		Compressed:      rec.Compressed,
		OriginalSize:    rec.OriginalSize,
		CompressedSize:  rec.CompressedSize,
		payload:         rec.Payload,
	}
}
