package merge

import (
	"testing"

	"spaceforge/api/internal/space"
)

func baseSnapshot() *space.Snapshot {
	return &space.Snapshot{
		ID: "space-1",
		Environment: space.Environment{
			BackgroundColor: "#000000",
			Lighting:        "studio",
		},
		Camera: space.Camera{
			Position: space.Vec3{0, 5, 10},
			FOV:      60,
		},
		Items: []space.Item{
			{ID: "item-1", AssetType: space.AssetImage, Position: space.Vec3{0, 0, 0}},
			{ID: "item-2", AssetType: space.AssetObject, Scale: space.Vec3{1, 1, 1}},
		},
	}
}

func TestMergeDisjointChanges(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items[0].Position = space.Vec3{5, 0, 0}
	right := base.Clone()
	right.Items[1].Scale = space.Vec3{2, 2, 2}
	right.Environment.BackgroundColor = "#ffffff"

	result := Snapshots(base, left, right, Options{})
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("Conflicts = %+v, want none", result.Conflicts)
	}
	merged := result.MergedSpace
	if merged.Items[0].Position != (space.Vec3{5, 0, 0}) {
		t.Fatalf("item-1 position = %v", merged.Items[0].Position)
	}
	if merged.Items[1].Scale != (space.Vec3{2, 2, 2}) {
		t.Fatalf("item-2 scale = %v", merged.Items[1].Scale)
	}
	if merged.Environment.BackgroundColor != "#ffffff" {
		t.Fatalf("backgroundColor = %s", merged.Environment.BackgroundColor)
	}
}

func TestMergeSameFieldConflictUnresolved(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items[0].Position = space.Vec3{5, 0, 0}
	right := base.Clone()
	right.Items[0].Position = space.Vec3{0, 0, 5}

	result := Snapshots(base, left, right, Options{})
	if result.Success {
		t.Fatal("expected merge to report unresolved conflicts")
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("len(Conflicts) = %d, want 1", len(result.Conflicts))
	}
	conflict := result.Conflicts[0]
	if conflict.Path != "space.items[0].position" {
		t.Fatalf("Path = %s", conflict.Path)
	}
	if conflict.Type != ConflictModification {
		t.Fatalf("Type = %s", conflict.Type)
	}
	if len(conflict.Candidates) != 2 {
		t.Fatalf("Candidates = %+v", conflict.Candidates)
	}
	if conflict.Resolution != ResolutionNone {
		t.Fatalf("Resolution = %s, want unresolved", conflict.Resolution)
	}

	// unresolved paths retain the base value
	if result.MergedSpace.Items[0].Position != (space.Vec3{0, 0, 0}) {
		t.Fatalf("merged position = %v, want base value", result.MergedSpace.Items[0].Position)
	}
}

func TestMergeBothSidesAgree(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items[0].Position = space.Vec3{3, 3, 3}
	right := base.Clone()
	right.Items[0].Position = space.Vec3{3, 3, 3}

	result := Snapshots(base, left, right, Options{})
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	if result.MergedSpace.Items[0].Position != (space.Vec3{3, 3, 3}) {
		t.Fatalf("merged position = %v", result.MergedSpace.Items[0].Position)
	}
}

func TestMergeDeletionConflict(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items = left.Items[1:] // delete item-1
	right := base.Clone()
	right.Items[0].Position = space.Vec3{7, 0, 0}

	result := Snapshots(base, left, right, Options{})
	if result.Success {
		t.Fatal("expected deletion conflict")
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("len(Conflicts) = %d, want 1", len(result.Conflicts))
	}
	conflict := result.Conflicts[0]
	if conflict.Type != ConflictDeletion {
		t.Fatalf("Type = %s, want deletion", conflict.Type)
	}
	if conflict.Path != "space.items[0]" {
		t.Fatalf("Path = %s", conflict.Path)
	}
	if conflict.Candidates[0] != nil {
		t.Fatalf("deleted side candidate = %v, want nil", conflict.Candidates[0])
	}

	// unresolved: base item survives
	if result.MergedSpace.Item("item-1") == nil {
		t.Fatal("base item should survive an unresolved deletion conflict")
	}
}

func TestMergeDeletionAgainstUntouchedApplies(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items = left.Items[1:] // delete item-1, right leaves it alone
	right := base.Clone()

	result := Snapshots(base, left, right, Options{})
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	if result.MergedSpace.Item("item-1") != nil {
		t.Fatal("clean deletion should apply")
	}
}

func TestMergeResolverTakeRight(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items[0].Position = space.Vec3{5, 0, 0}
	right := base.Clone()
	right.Items[0].Position = space.Vec3{0, 0, 5}

	result := Snapshots(base, left, right, Options{
		Resolver: func(c Conflict) Decision {
			return Decision{Resolution: ResolutionRight}
		},
	})
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Resolution != ResolutionRight {
		t.Fatalf("Conflicts = %+v", result.Conflicts)
	}
	if result.MergedSpace.Items[0].Position != (space.Vec3{0, 0, 5}) {
		t.Fatalf("merged position = %v, want right value", result.MergedSpace.Items[0].Position)
	}
}

func TestMergeResolverTakeTheirsNormalizesToRight(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Environment.Lighting = "noon"
	right := base.Clone()
	right.Environment.Lighting = "dusk"

	result := Snapshots(base, left, right, Options{
		Resolver: func(c Conflict) Decision {
			return Decision{Resolution: ResolutionTheirs}
		},
	})
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	if result.Conflicts[0].Resolution != ResolutionRight {
		t.Fatalf("Resolution = %s, want take-right", result.Conflicts[0].Resolution)
	}
	if result.MergedSpace.Environment.Lighting != "dusk" {
		t.Fatalf("lighting = %s", result.MergedSpace.Environment.Lighting)
	}
}

func TestMergeResolverCustomValue(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items[0].Position = space.Vec3{5, 0, 0}
	right := base.Clone()
	right.Items[0].Position = space.Vec3{0, 0, 5}

	result := Snapshots(base, left, right, Options{
		Resolver: func(c Conflict) Decision {
			return Decision{Resolution: ResolutionCustom, Value: space.Vec3{2.5, 0, 2.5}}
		},
	})
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	if result.MergedSpace.Items[0].Position != (space.Vec3{2.5, 0, 2.5}) {
		t.Fatalf("merged position = %v, want custom value", result.MergedSpace.Items[0].Position)
	}
}

func TestMergeAddAddConflict(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Items = append(left.Items, space.Item{ID: "item-3", AssetType: space.AssetText, Position: space.Vec3{1, 0, 0}})
	right := base.Clone()
	right.Items = append(right.Items, space.Item{ID: "item-3", AssetType: space.AssetText, Position: space.Vec3{2, 0, 0}})

	result := Snapshots(base, left, right, Options{})
	if result.Success {
		t.Fatal("expected add-add conflict")
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Path != "space.items[2]" {
		t.Fatalf("Conflicts = %+v", result.Conflicts)
	}
	// unresolved add-add omits the item entirely
	if result.MergedSpace.Item("item-3") != nil {
		t.Fatal("unresolved add-add should omit the item")
	}
}

func TestMergeAddAddIdentical(t *testing.T) {
	added := space.Item{ID: "item-3", AssetType: space.AssetText, Position: space.Vec3{1, 0, 0}}
	base := baseSnapshot()
	left := base.Clone()
	left.Items = append(left.Items, added)
	right := base.Clone()
	right.Items = append(right.Items, added)

	result := Snapshots(base, left, right, Options{})
	if !result.Success {
		t.Fatalf("Success = false, conflicts = %+v", result.Conflicts)
	}
	count := 0
	for _, item := range result.MergedSpace.Items {
		if item.ID == "item-3" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("item-3 appears %d times, want 1", count)
	}
}

func TestMergeCameraConflictPath(t *testing.T) {
	base := baseSnapshot()
	left := base.Clone()
	left.Camera.FOV = 70
	right := base.Clone()
	right.Camera.FOV = 80

	result := Snapshots(base, left, right, Options{})
	if result.Success {
		t.Fatal("expected camera conflict")
	}
	if result.Conflicts[0].Path != "space.camera.fov" {
		t.Fatalf("Path = %s", result.Conflicts[0].Path)
	}
	if result.MergedSpace.Camera.FOV != 60 {
		t.Fatalf("fov = %v, want base value", result.MergedSpace.Camera.FOV)
	}
}
