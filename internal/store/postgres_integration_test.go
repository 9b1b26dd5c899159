package store

import (
	"context"
	"os"
	"testing"
	"time"

	"spaceforge/api/internal/space"
	"spaceforge/api/internal/version"
)

// TestSaveLoadDeleteRoundTrip exercises the real schema end to end: insert a
// version row, hydrate it back, delete it.
func TestSaveLoadDeleteRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	s := NewPostgresStore(db, nil)
	syncedAt := time.Now().UTC().Truncate(time.Second)
	rec := version.Record{
		ID:            "ver_integration_test",
		SpaceID:       "space_integration_test",
		VersionNumber: 1,
		Description:   "integration round trip",
		Tags:          []string{"milestone"},
		SourceMappings: []space.SourceMapping{{
			SourceType:    "layout",
			SourceID:      "layout-1",
			SourceItemID:  "el-1",
			SpaceItemID:   "item-1",
			ImportVersion: 1,
			LastSyncedAt:  &syncedAt,
		}},
		Compressed:     true,
		OriginalSize:   128,
		CompressedSize: 64,
		Payload:        []byte("compressed-bytes"),
		CreatedAt:      time.Now().UTC(),
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM space_versions WHERE id = $1`, rec.ID)
	})

	if err := s.SaveVersion(ctx, rec); err != nil {
		t.Fatalf("SaveVersion() error = %v", err)
	}

	records, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	var loaded *version.Record
	for i := range records {
		if records[i].ID == rec.ID {
			loaded = &records[i]
			break
		}
	}
	if loaded == nil {
		t.Fatal("saved record not returned by LoadAll")
	}
	if loaded.SpaceID != rec.SpaceID || loaded.VersionNumber != 1 || !loaded.Compressed {
		t.Fatalf("loaded = %+v", loaded)
	}
	if string(loaded.Payload) != "compressed-bytes" {
		t.Fatalf("payload = %q", loaded.Payload)
	}
	if len(loaded.Tags) != 1 || loaded.Tags[0] != "milestone" {
		t.Fatalf("tags = %v", loaded.Tags)
	}
	if len(loaded.SourceMappings) != 1 || loaded.SourceMappings[0].SourceItemID != "el-1" {
		t.Fatalf("source mappings = %+v", loaded.SourceMappings)
	}

	if err := s.DeleteVersion(ctx, rec.SpaceID, rec.ID, true); err != nil {
		t.Fatalf("DeleteVersion() error = %v", err)
	}
	records, err = s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() after delete error = %v", err)
	}
	for _, got := range records {
		if got.ID == rec.ID {
			t.Fatal("record still present after delete")
		}
	}

	// deleting an already absent row is not an error
	if err := s.DeleteVersion(ctx, rec.SpaceID, rec.ID, true); err != nil {
		t.Fatalf("repeat DeleteVersion() error = %v", err)
	}
}
