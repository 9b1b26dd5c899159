// Package diff computes structural deltas between two space snapshots.
// Diffing is deterministic, allocation-light and O(n) in item count.
package diff

import (
	"reflect"

	"spaceforge/api/internal/space"
)

// FieldDelta carries the before/after values of one changed field.
type FieldDelta struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// ModifiedItem lists the changed field paths for one item present in both
// snapshots. Paths are the shallowest that fully describe the change, e.g.
// "objectProperties.components" when any component differs.
type ModifiedItem struct {
	ID      string   `json:"id"`
	Changes []string `json:"changes"`
}

type ItemChanges struct {
	Added    []space.Item   `json:"added"`
	Removed  []space.Item   `json:"removed"`
	Modified []ModifiedItem `json:"modified"`
}

type Changes struct {
	Items       *ItemChanges          `json:"items,omitempty"`
	Environment map[string]FieldDelta `json:"environment,omitempty"`
	Camera      map[string]FieldDelta `json:"camera,omitempty"`
}

type Statistics struct {
	TotalChanges       int  `json:"totalChanges"`
	ItemsChanged       int  `json:"itemsChanged"`
	EnvironmentChanged bool `json:"environmentChanged"`
	CameraChanged      bool `json:"cameraChanged"`
}

type VersionDiff struct {
	Changes    Changes    `json:"changes"`
	Statistics Statistics `json:"statistics"`
}

// Snapshots diffs target against base. Items are matched by id; an id only in
// target is an addition, only in base a removal, in both with any differing
// field a modification.
func Snapshots(base, target *space.Snapshot) VersionDiff {
	var out VersionDiff

	baseIndex := base.ItemIndex()
	targetIndex := target.ItemIndex()

	items := ItemChanges{
		Added:    []space.Item{},
		Removed:  []space.Item{},
		Modified: []ModifiedItem{},
	}
	for _, item := range target.Items {
		baseAt, ok := baseIndex[item.ID]
		if !ok {
			items.Added = append(items.Added, space.CloneItem(item))
			continue
		}
		if changes := ItemFields(base.Items[baseAt], item); len(changes) > 0 {
			items.Modified = append(items.Modified, ModifiedItem{ID: item.ID, Changes: changes})
		}
	}
	for _, item := range base.Items {
		if _, ok := targetIndex[item.ID]; !ok {
			items.Removed = append(items.Removed, space.CloneItem(item))
		}
	}
	if len(items.Added) > 0 || len(items.Removed) > 0 || len(items.Modified) > 0 {
		out.Changes.Items = &items
	}

	out.Changes.Environment = EnvironmentFields(base.Environment, target.Environment)
	out.Changes.Camera = CameraFields(base.Camera, target.Camera)

	out.Statistics.ItemsChanged = len(items.Added) + len(items.Removed) + len(items.Modified)
	out.Statistics.EnvironmentChanged = len(out.Changes.Environment) > 0
	out.Statistics.CameraChanged = len(out.Changes.Camera) > 0
	out.Statistics.TotalChanges = out.Statistics.ItemsChanged +
		len(out.Changes.Environment) + len(out.Changes.Camera)
	return out
}

// ItemFields returns the shallowest changed field paths between two items
// sharing an id. An empty result means the items are identical.
func ItemFields(base, target space.Item) []string {
	var changes []string
	add := func(path string) { changes = append(changes, path) }

	if base.AssetID != target.AssetID {
		add("assetId")
	}
	if base.AssetType != target.AssetType {
		add("assetType")
	}
	if base.Position != target.Position {
		add("position")
	}
	if base.Rotation != target.Rotation {
		add("rotation")
	}
	if base.Scale != target.Scale {
		add("scale")
	}
	if !floatPtrEqual(base.Opacity, target.Opacity) {
		add("opacity")
	}
	if !boolPtrEqual(base.Visible, target.Visible) {
		add("visible")
	}
	if !boolPtrEqual(base.Clickable, target.Clickable) {
		add("clickable")
	}
	if base.HoverEffect != target.HoverEffect {
		add("hoverEffect")
	}
	if base.GroupID != target.GroupID {
		add("groupId")
	}
	changes = append(changes, objectPropertyFields(base.ObjectProperties, target.ObjectProperties)...)
	if !reflect.DeepEqual(base.ImportMetadata, target.ImportMetadata) {
		add("importMetadata")
	}
	if !mapsEqual(base.CustomData, target.CustomData) {
		add("customData")
	}
	return changes
}

// objectPropertyFields reports either the single path "objectProperties" when
// presence differs, or the changed sub-paths when both sides carry properties.
// Component arrays are compared as a unit: one changed member reports the
// parent path once.
func objectPropertyFields(base, target *space.ObjectProperties) []string {
	if base == nil && target == nil {
		return nil
	}
	if base == nil || target == nil {
		return []string{"objectProperties"}
	}
	var changes []string
	if !boolPtrEqual(base.ShowComponents, target.ShowComponents) {
		changes = append(changes, "objectProperties.showComponents")
	}
	if base.InteractionLevel != target.InteractionLevel {
		changes = append(changes, "objectProperties.interactionLevel")
	}
	if base.LODLevel != target.LODLevel {
		changes = append(changes, "objectProperties.lodLevel")
	}
	if !boolPtrEqual(base.Physics, target.Physics) {
		changes = append(changes, "objectProperties.physics")
	}
	if !componentsEqual(base.Components, target.Components) {
		changes = append(changes, "objectProperties.components")
	}
	if !mapsEqual(base.Custom, target.Custom) {
		changes = append(changes, "objectProperties.custom")
	}
	return changes
}

func componentsEqual(base, target []space.Component) bool {
	if len(base) != len(target) {
		return false
	}
	for i := range base {
		if base[i].ID != target[i].ID ||
			base[i].Position != target[i].Position ||
			base[i].Visible != target[i].Visible ||
			!mapsEqual(base[i].Custom, target[i].Custom) {
			return false
		}
	}
	return true
}

// EnvironmentFields lists only the changed environment sub-fields with their
// before/after values. Fog is reported as one field.
func EnvironmentFields(base, target space.Environment) map[string]FieldDelta {
	out := map[string]FieldDelta{}
	if base.BackgroundColor != target.BackgroundColor {
		out["backgroundColor"] = FieldDelta{From: base.BackgroundColor, To: target.BackgroundColor}
	}
	if base.Lighting != target.Lighting {
		out["lighting"] = FieldDelta{From: base.Lighting, To: target.Lighting}
	}
	if base.Fog != target.Fog {
		out["fog"] = FieldDelta{From: base.Fog, To: target.Fog}
	}
	if base.Skybox != target.Skybox {
		out["skybox"] = FieldDelta{From: base.Skybox, To: target.Skybox}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CameraFields lists only the changed camera sub-fields.
func CameraFields(base, target space.Camera) map[string]FieldDelta {
	out := map[string]FieldDelta{}
	if base.Position != target.Position {
		out["position"] = FieldDelta{From: base.Position, To: target.Position}
	}
	if base.Target != target.Target {
		out["target"] = FieldDelta{From: base.Target, To: target.Target}
	}
	if base.FOV != target.FOV {
		out["fov"] = FieldDelta{From: base.FOV, To: target.FOV}
	}
	if base.Controls != target.Controls {
		out["controls"] = FieldDelta{From: base.Controls, To: target.Controls}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
