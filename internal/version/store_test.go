package version

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"spaceforge/api/internal/space"
)

func snapshotWithItems(items ...space.Item) *space.Snapshot {
	if items == nil {
		items = []space.Item{}
	}
	return &space.Snapshot{ID: "space-1", Items: items}
}

func mustCreate(t *testing.T, s *Store, spaceID string, snap *space.Snapshot, opts CreateOptions) *Version {
	t.Helper()
	v, err := s.CreateVersion(context.Background(), spaceID, snap, opts)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	return v
}

func TestCreateVersionNumbering(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems(space.Item{ID: "item-1", AssetType: space.AssetImage})

	v1 := mustCreate(t, s, "space-1", snap, CreateOptions{Description: "first"})
	v2 := mustCreate(t, s, "space-1", snap, CreateOptions{ParentVersionID: v1.ID})
	other := mustCreate(t, s, "space-2", snap, CreateOptions{})

	if v1.VersionNumber != 1 || v2.VersionNumber != 2 {
		t.Fatalf("version numbers = %d, %d, want 1, 2", v1.VersionNumber, v2.VersionNumber)
	}
	if other.VersionNumber != 1 {
		t.Fatalf("independent space starts at %d, want 1", other.VersionNumber)
	}
	if v2.ParentVersionID != v1.ID {
		t.Fatalf("ParentVersionID = %s", v2.ParentVersionID)
	}
}

func TestCreateVersionConcurrent(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateVersion(context.Background(), "space-1", snap, CreateOptions{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent CreateVersion() error = %v", err)
	}

	versions := s.ListVersions("space-1", ListOptions{})
	if len(versions) != n {
		t.Fatalf("len(versions) = %d, want %d", len(versions), n)
	}
	seen := make(map[int]bool, n)
	for _, v := range versions {
		if seen[v.VersionNumber] {
			t.Fatalf("duplicate version number %d", v.VersionNumber)
		}
		seen[v.VersionNumber] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing version number %d", i)
		}
	}
}

func TestCreateVersionInvalidSnapshot(t *testing.T) {
	s := New(Config{}, nil)
	_, err := s.CreateVersion(context.Background(), "space-1", &space.Snapshot{}, CreateOptions{})
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("error = %v, want ErrInvalidSnapshot", err)
	}
	if len(s.ListVersions("space-1", ListOptions{})) != 0 {
		t.Fatal("invalid snapshot must not register a version")
	}
}

func TestCreateVersionParentNotFound(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()

	if _, err := s.CreateVersion(context.Background(), "space-1", snap, CreateOptions{ParentVersionID: "ver_missing"}); !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("error = %v, want ErrParentNotFound", err)
	}

	// parents must live in the same space
	foreign := mustCreate(t, s, "space-2", snap, CreateOptions{})
	if _, err := s.CreateVersion(context.Background(), "space-1", snap, CreateOptions{ParentVersionID: foreign.ID}); !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("error = %v, want ErrParentNotFound", err)
	}
}

func TestCreateVersionLimit(t *testing.T) {
	s := New(Config{MaxVersionsPerSpace: 2}, nil)
	snap := snapshotWithItems()

	mustCreate(t, s, "space-1", snap, CreateOptions{})
	mustCreate(t, s, "space-1", snap, CreateOptions{})
	if _, err := s.CreateVersion(context.Background(), "space-1", snap, CreateOptions{}); !errors.Is(err, ErrVersionLimitExceeded) {
		t.Fatalf("error = %v, want ErrVersionLimitExceeded", err)
	}
}

func TestCompressedPayloadRoundTrip(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems(
		space.Item{ID: "item-1", AssetType: space.AssetObject, Position: space.Vec3{1.5, 2.5, 3.5}},
	)
	snap.Environment.BackgroundColor = "#123456"

	v := mustCreate(t, s, "space-1", snap, CreateOptions{Compress: true})
	if !v.Compressed || v.OriginalSize == 0 || v.CompressedSize == 0 {
		t.Fatalf("compression metadata = %+v", v)
	}

	restored, err := v.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !reflect.DeepEqual(restored, snap.Clone()) {
		t.Fatalf("restored snapshot differs:\n got %+v\nwant %+v", restored, snap)
	}
}

func TestListVersionsOrderingAndFilters(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()

	mustCreate(t, s, "space-1", snap, CreateOptions{Tags: []string{"draft"}})
	mustCreate(t, s, "space-1", snap, CreateOptions{Tags: []string{"milestone"}})
	mustCreate(t, s, "space-1", snap, CreateOptions{Tags: []string{"milestone", "draft"}})

	all := s.ListVersions("space-1", ListOptions{})
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].VersionNumber != 3 || all[2].VersionNumber != 1 {
		t.Fatal("versions must be most recent first")
	}

	milestones := s.ListVersions("space-1", ListOptions{FilterTags: []string{"milestone"}})
	if len(milestones) != 2 {
		t.Fatalf("len(milestones) = %d, want 2", len(milestones))
	}

	paged := s.ListVersions("space-1", ListOptions{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].VersionNumber != 2 {
		t.Fatalf("paged = %+v", paged)
	}

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	ranged := s.ListVersions("space-1", ListOptions{From: &past, To: &future})
	if len(ranged) != 3 {
		t.Fatalf("len(ranged) = %d, want 3", len(ranged))
	}
	none := s.ListVersions("space-1", ListOptions{To: &past})
	if len(none) != 0 {
		t.Fatalf("len(none) = %d, want 0", len(none))
	}
}

func TestRestoreVersionScopes(t *testing.T) {
	s := New(Config{}, nil)

	committed := snapshotWithItems(space.Item{ID: "item-1", AssetType: space.AssetImage})
	committed.Environment.BackgroundColor = "#000000"
	committed.Camera.FOV = 60
	v := mustCreate(t, s, "space-1", committed, CreateOptions{})

	working := snapshotWithItems(space.Item{ID: "item-2", AssetType: space.AssetText})
	working.Environment.BackgroundColor = "#ffffff"
	working.Camera.FOV = 90
	if err := s.SetWorkingCopy("space-1", working); err != nil {
		t.Fatalf("SetWorkingCopy() error = %v", err)
	}

	restored, err := s.RestoreVersion(context.Background(), "space-1", v.ID, RestoreOptions{
		Scopes: []string{ScopeEnvironment},
	})
	if err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	if restored.Environment.BackgroundColor != "#000000" {
		t.Fatal("environment scope not restored")
	}
	if restored.Camera.FOV != 90 {
		t.Fatal("camera must stay untouched outside its scope")
	}
	if restored.Item("item-2") == nil {
		t.Fatal("items must stay untouched outside their scope")
	}
}

func TestRestoreVersionCreatesRestorePoint(t *testing.T) {
	s := New(Config{}, nil)
	v := mustCreate(t, s, "space-1", snapshotWithItems(space.Item{ID: "item-1", AssetType: space.AssetImage}), CreateOptions{})

	working := snapshotWithItems(space.Item{ID: "item-2", AssetType: space.AssetText})
	if err := s.SetWorkingCopy("space-1", working); err != nil {
		t.Fatalf("SetWorkingCopy() error = %v", err)
	}

	restored, err := s.RestoreVersion(context.Background(), "space-1", v.ID, RestoreOptions{CreateRestorePoint: true})
	if err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	if restored.Item("item-1") == nil || restored.Item("item-2") != nil {
		t.Fatalf("restored = %+v", restored.Items)
	}

	versions := s.ListVersions("space-1", ListOptions{})
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want restore point + original", len(versions))
	}
	point := versions[0]
	if !point.HasTag("restore-point") {
		t.Fatalf("restore point tags = %v", point.Tags)
	}
	pointSnap, err := point.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if pointSnap.Item("item-2") == nil {
		t.Fatal("restore point must hold the pre-restore working copy")
	}
}

func TestRestoreUnknownScope(t *testing.T) {
	s := New(Config{}, nil)
	v := mustCreate(t, s, "space-1", snapshotWithItems(), CreateOptions{})
	if _, err := s.RestoreVersion(context.Background(), "space-1", v.ID, RestoreOptions{Scopes: []string{"lighting"}}); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}

func TestDeleteProtectedVersion(t *testing.T) {
	s := New(Config{}, nil)
	v := mustCreate(t, s, "space-1", snapshotWithItems(), CreateOptions{Protected: true})

	err := s.DeleteVersion(context.Background(), "space-1", v.ID, DeleteOptions{})
	if !errors.Is(err, ErrProtectedVersion) {
		t.Fatalf("error = %v, want ErrProtectedVersion", err)
	}
	if _, err := s.GetVersion("space-1", v.ID); err != nil {
		t.Fatal("protected version must survive the attempt")
	}
}

func TestDeleteCascade(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()
	v1 := mustCreate(t, s, "space-1", snap, CreateOptions{})
	v2 := mustCreate(t, s, "space-1", snap, CreateOptions{ParentVersionID: v1.ID})
	mustCreate(t, s, "space-1", snap, CreateOptions{ParentVersionID: v2.ID})

	if err := s.DeleteVersion(context.Background(), "space-1", v1.ID, DeleteOptions{Cascade: true}); err != nil {
		t.Fatalf("DeleteVersion() error = %v", err)
	}
	if remaining := s.ListVersions("space-1", ListOptions{}); len(remaining) != 0 {
		t.Fatalf("remaining = %+v, want none", remaining)
	}
}

func TestDeleteCascadeBlockedByProtectedDescendant(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()
	v1 := mustCreate(t, s, "space-1", snap, CreateOptions{})
	mustCreate(t, s, "space-1", snap, CreateOptions{ParentVersionID: v1.ID, Protected: true})

	err := s.DeleteVersion(context.Background(), "space-1", v1.ID, DeleteOptions{Cascade: true})
	if !errors.Is(err, ErrProtectedVersion) {
		t.Fatalf("error = %v, want ErrProtectedVersion", err)
	}
	if len(s.ListVersions("space-1", ListOptions{})) != 2 {
		t.Fatal("nothing may be deleted when a cascade descendant is protected")
	}
}

func TestDeleteWithoutCascadeLeavesChildren(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()
	v1 := mustCreate(t, s, "space-1", snap, CreateOptions{})
	v2 := mustCreate(t, s, "space-1", snap, CreateOptions{ParentVersionID: v1.ID})

	if err := s.DeleteVersion(context.Background(), "space-1", v1.ID, DeleteOptions{}); err != nil {
		t.Fatalf("DeleteVersion() error = %v", err)
	}
	child, err := s.GetVersion("space-1", v2.ID)
	if err != nil {
		t.Fatalf("child lookup error = %v", err)
	}
	// dangling parent reference is tolerated
	if child.ParentVersionID != v1.ID {
		t.Fatalf("ParentVersionID = %s", child.ParentVersionID)
	}
}

func TestPrune(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()
	mustCreate(t, s, "space-1", snap, CreateOptions{})
	protected := mustCreate(t, s, "space-1", snap, CreateOptions{Protected: true})
	mustCreate(t, s, "space-1", snap, CreateOptions{})
	mustCreate(t, s, "space-1", snap, CreateOptions{})
	mustCreate(t, s, "space-1", snap, CreateOptions{})

	deleted, err := s.Prune(context.Background(), "space-1", 2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
	remaining := s.ListVersions("space-1", ListOptions{})
	if len(remaining) != 3 {
		t.Fatalf("len(remaining) = %d, want 3", len(remaining))
	}
	if _, err := s.GetVersion("space-1", protected.ID); err != nil {
		t.Fatal("protected version must survive pruning")
	}
}

func TestDiffBetweenVersions(t *testing.T) {
	s := New(Config{}, nil)
	from := snapshotWithItems(space.Item{ID: "item-1", AssetType: space.AssetImage, Position: space.Vec3{0, 0, 0}})
	v1 := mustCreate(t, s, "space-1", from, CreateOptions{})

	to := from.Clone()
	to.Items[0].Position = space.Vec3{4, 0, 0}
	v2 := mustCreate(t, s, "space-1", to, CreateOptions{ParentVersionID: v1.ID, Compress: true})

	result, err := s.Diff("space-1", v1.ID, v2.ID)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if result.Statistics.TotalChanges != 1 {
		t.Fatalf("TotalChanges = %d, want 1", result.Statistics.TotalChanges)
	}
	if result.Changes.Items == nil || len(result.Changes.Items.Modified) != 1 {
		t.Fatalf("Changes = %+v", result.Changes)
	}
}

func TestMergeResolvesCommonAncestor(t *testing.T) {
	s := New(Config{}, nil)
	base := snapshotWithItems(space.Item{ID: "item-1", AssetType: space.AssetImage, Position: space.Vec3{0, 0, 0}})
	v1 := mustCreate(t, s, "space-1", base, CreateOptions{})

	leftSnap := base.Clone()
	leftSnap.Items[0].Position = space.Vec3{5, 0, 0}
	left := mustCreate(t, s, "space-1", leftSnap, CreateOptions{ParentVersionID: v1.ID})

	rightSnap := base.Clone()
	rightSnap.Environment.Lighting = "dusk"
	right := mustCreate(t, s, "space-1", rightSnap, CreateOptions{ParentVersionID: v1.ID})

	result, err := s.MergeVersions("space-1", left.ID, right.ID, MergeOptions{})
	if err != nil {
		t.Fatalf("MergeVersions() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	if result.MergedSpace.Items[0].Position != (space.Vec3{5, 0, 0}) {
		t.Fatalf("merged position = %v", result.MergedSpace.Items[0].Position)
	}
	if result.MergedSpace.Environment.Lighting != "dusk" {
		t.Fatalf("merged lighting = %s", result.MergedSpace.Environment.Lighting)
	}
}

func TestMergeWithoutCommonAncestor(t *testing.T) {
	s := New(Config{}, nil)
	snap := snapshotWithItems()
	left := mustCreate(t, s, "space-1", snap, CreateOptions{})
	right := mustCreate(t, s, "space-1", snap, CreateOptions{})

	_, err := s.MergeVersions("space-1", left.ID, right.ID, MergeOptions{})
	if !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("error = %v, want ErrParentNotFound", err)
	}

	// an explicit base sidesteps ancestor resolution
	if _, err := s.MergeVersions("space-1", left.ID, right.ID, MergeOptions{BaseVersionID: left.ID}); err != nil {
		t.Fatalf("explicit base error = %v", err)
	}
}

type flakyPersistence struct {
	mu       sync.Mutex
	records  map[string]Record
	failSave bool
}

func newFlakyPersistence() *flakyPersistence {
	return &flakyPersistence{records: map[string]Record{}}
}

func (p *flakyPersistence) SaveVersion(ctx context.Context, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSave {
		return fmt.Errorf("disk full")
	}
	p.records[rec.ID] = rec
	return nil
}

func (p *flakyPersistence) DeleteVersion(ctx context.Context, spaceID, versionID string, cleanupPayload bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, versionID)
	return nil
}

func (p *flakyPersistence) LoadAll(ctx context.Context) ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec)
	}
	return out, nil
}

func TestStorageFailureIsAtomic(t *testing.T) {
	persist := newFlakyPersistence()
	persist.failSave = true
	s := New(Config{}, persist)

	_, err := s.CreateVersion(context.Background(), "space-1", snapshotWithItems(), CreateOptions{})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("error = %v, want ErrStorage", err)
	}
	if len(s.ListVersions("space-1", ListOptions{})) != 0 {
		t.Fatal("failed persistence must not register the version")
	}

	// the next number is still 1 once storage recovers
	persist.failSave = false
	v := mustCreate(t, s, "space-1", snapshotWithItems(), CreateOptions{})
	if v.VersionNumber != 1 {
		t.Fatalf("VersionNumber = %d, want 1", v.VersionNumber)
	}
}

func TestLoadHydratesFromPersistence(t *testing.T) {
	persist := newFlakyPersistence()
	first := New(Config{}, persist)
	snap := snapshotWithItems(space.Item{ID: "item-1", AssetType: space.AssetImage})
	v1 := mustCreate(t, first, "space-1", snap, CreateOptions{Compress: true, Tags: []string{"milestone"}})
	mustCreate(t, first, "space-1", snap, CreateOptions{ParentVersionID: v1.ID})

	second := New(Config{}, persist)
	if err := second.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	versions := second.ListVersions("space-1", ListOptions{})
	if len(versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2", len(versions))
	}
	if versions[0].VersionNumber != 2 || versions[1].VersionNumber != 1 {
		t.Fatal("hydrated versions must keep their ordering")
	}
	restored, err := versions[1].Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if restored.Item("item-1") == nil {
		t.Fatal("hydrated payload must round trip")
	}
	next := mustCreate(t, second, "space-1", snap, CreateOptions{})
	if next.VersionNumber != 3 {
		t.Fatalf("next VersionNumber = %d, want 3", next.VersionNumber)
	}
}

func TestWorkingCopyIsolation(t *testing.T) {
	s := New(Config{}, nil)
	if _, err := s.WorkingCopy("space-1"); !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("error = %v, want ErrSpaceNotFound", err)
	}

	snap := snapshotWithItems(space.Item{ID: "item-1", AssetType: space.AssetImage})
	if err := s.SetWorkingCopy("space-1", snap); err != nil {
		t.Fatalf("SetWorkingCopy() error = %v", err)
	}
	copy1, err := s.WorkingCopy("space-1")
	if err != nil {
		t.Fatalf("WorkingCopy() error = %v", err)
	}
	copy1.Items[0].Position = space.Vec3{9, 9, 9}

	copy2, _ := s.WorkingCopy("space-1")
	if copy2.Items[0].Position == (space.Vec3{9, 9, 9}) {
		t.Fatal("working copy reads must be isolated")
	}
}
