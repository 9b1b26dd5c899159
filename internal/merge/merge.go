// Package merge performs three-way merges over space snapshots using the diff
// engine's output. Conflicts are data, not errors: a merge never aborts, it
// reports what it could not reconcile and leaves base values in place.
package merge

import (
	"encoding/json"
	"fmt"
	"reflect"

	"spaceforge/api/internal/diff"
	"spaceforge/api/internal/space"
)

type ConflictType string

const (
	ConflictModification      ConflictType = "modification"
	ConflictDeletion          ConflictType = "deletion"
	ConflictDimensionMismatch ConflictType = "dimension-mismatch"
)

// Conflict describes one path both branches changed incompatibly. Candidates
// holds the left and right values in that order; a deleted side contributes
// nil. Resolution records how the conflict was settled, empty if it was not.
type Conflict struct {
	Path       string       `json:"path"`
	Type       ConflictType `json:"conflictType"`
	Candidates []any        `json:"candidateValues"`
	Resolution Resolution   `json:"resolution,omitempty"`
}

type Resolution string

const (
	ResolutionNone   Resolution = ""
	ResolutionLeft   Resolution = "take-left"
	ResolutionRight  Resolution = "take-right"
	ResolutionTheirs Resolution = "take-theirs"
	ResolutionCustom Resolution = "custom"
)

// Decision is a resolver's verdict for one conflict. Value is consulted only
// for ResolutionCustom.
type Decision struct {
	Resolution Resolution
	Value      any
}

// Resolver is invoked once per detected conflict. Returning a zero Decision
// leaves the conflict unresolved.
type Resolver func(Conflict) Decision

type Options struct {
	Resolver Resolver
}

// Result is the outcome of a merge. MergedSpace is always populated, with
// base values retained at unresolved conflict paths, so callers can inspect
// partial merges even when Success is false.
type Result struct {
	Success     bool            `json:"success"`
	Conflicts   []Conflict      `json:"conflicts"`
	MergedSpace *space.Snapshot `json:"mergedSpace,omitempty"`
}

// Snapshots merges left and right against their common base. Changes present
// on exactly one side apply cleanly; changes on both sides apply when they
// agree and conflict when they do not. A deletion against a modification of
// the same item is a deletion conflict.
func Snapshots(base, left, right *space.Snapshot, opts Options) Result {
	diffL := diff.Snapshots(base, left)
	diffR := diff.Snapshots(base, right)

	m := &merger{
		base:     base,
		left:     left,
		right:    right,
		resolver: opts.Resolver,
		merged:   base.Clone(),
	}
	m.mergeItems(diffL.Changes.Items, diffR.Changes.Items)
	m.mergeEnvironment(diffL.Changes.Environment, diffR.Changes.Environment)
	m.mergeCamera(diffL.Changes.Camera, diffR.Changes.Camera)

	unresolved := 0
	for _, c := range m.conflicts {
		if c.Resolution == ResolutionNone {
			unresolved++
		}
	}
	if m.conflicts == nil {
		m.conflicts = []Conflict{}
	}
	return Result{
		Success:     unresolved == 0,
		Conflicts:   m.conflicts,
		MergedSpace: m.merged,
	}
}

type merger struct {
	base, left, right *space.Snapshot
	resolver          Resolver
	merged            *space.Snapshot
	conflicts         []Conflict
}

// resolve records the conflict and returns the decision applied to it.
func (m *merger) resolve(c Conflict) Decision {
	var d Decision
	if m.resolver != nil {
		d = m.resolver(c)
	}
	if d.Resolution == ResolutionTheirs {
		d.Resolution = ResolutionRight
	}
	switch d.Resolution {
	case ResolutionLeft, ResolutionRight, ResolutionCustom:
		c.Resolution = d.Resolution
	default:
		c.Resolution = ResolutionNone
		d = Decision{}
	}
	m.conflicts = append(m.conflicts, c)
	return d
}

func (m *merger) mergeItems(changesL, changesR *diff.ItemChanges) {
	modifiedL := modifiedByID(changesL)
	modifiedR := modifiedByID(changesR)
	removedL := removedSet(changesL)
	removedR := removedSet(changesR)
	addedL := addedByID(changesL)
	addedR := addedByID(changesR)

	leftIndex := m.left.ItemIndex()
	rightIndex := m.right.ItemIndex()

	items := make([]space.Item, 0, len(m.base.Items))
	for i, baseItem := range m.base.Items {
		id := baseItem.ID
		_, goneL := removedL[id]
		_, goneR := removedR[id]
		pathsL := modifiedL[id]
		pathsR := modifiedR[id]

		switch {
		case goneL && goneR:
			continue
		case goneL && len(pathsR) == 0 && !goneR:
			// removed on the left, untouched on the right
			continue
		case goneR && len(pathsL) == 0 && !goneL:
			continue
		case goneL || goneR:
			item, keep := m.mergeDeletionConflict(i, baseItem, goneL, leftIndex, rightIndex, pathsL, pathsR)
			if keep {
				items = append(items, item)
			}
			continue
		}

		merged := space.CloneItem(baseItem)
		for _, path := range unionPaths(pathsL, pathsR) {
			m.mergeItemField(&merged, i, path, pathsL, pathsR, leftIndex, rightIndex)
		}
		items = append(items, merged)
	}

	// one-sided additions apply; both-sided additions must agree
	for _, item := range m.left.Items {
		if _, ok := addedL[item.ID]; !ok {
			continue
		}
		rightAdd, both := addedR[item.ID]
		if !both {
			items = append(items, space.CloneItem(item))
			continue
		}
		if reflect.DeepEqual(item, rightAdd) {
			items = append(items, space.CloneItem(item))
			continue
		}
		d := m.resolve(Conflict{
			Path:       fmt.Sprintf("space.items[%d]", leftIndex[item.ID]),
			Type:       ConflictModification,
			Candidates: []any{item, rightAdd},
		})
		switch d.Resolution {
		case ResolutionLeft:
			items = append(items, space.CloneItem(item))
		case ResolutionRight:
			items = append(items, space.CloneItem(rightAdd))
		case ResolutionCustom:
			if custom, err := itemFromValue(d.Value); err == nil {
				items = append(items, custom)
			}
		}
	}
	for _, item := range m.right.Items {
		if _, ok := addedR[item.ID]; !ok {
			continue
		}
		if _, both := addedL[item.ID]; both {
			continue
		}
		items = append(items, space.CloneItem(item))
	}
	m.merged.Items = items
}

func (m *merger) mergeDeletionConflict(baseAt int, baseItem space.Item, goneL bool, leftIndex, rightIndex map[string]int, pathsL, pathsR []string) (space.Item, bool) {
	var survivor space.Item
	var candidates []any
	if goneL {
		survivor = m.right.Items[rightIndex[baseItem.ID]]
		candidates = []any{nil, survivor}
	} else {
		survivor = m.left.Items[leftIndex[baseItem.ID]]
		candidates = []any{survivor, nil}
	}
	d := m.resolve(Conflict{
		Path:       fmt.Sprintf("space.items[%d]", baseAt),
		Type:       ConflictDeletion,
		Candidates: candidates,
	})
	switch d.Resolution {
	case ResolutionLeft:
		if goneL {
			return space.Item{}, false
		}
		return space.CloneItem(survivor), true
	case ResolutionRight:
		if goneL {
			return space.CloneItem(survivor), true
		}
		return space.Item{}, false
	case ResolutionCustom:
		if custom, err := itemFromValue(d.Value); err == nil {
			return custom, true
		}
		return space.CloneItem(baseItem), true
	default:
		// unresolved: the base item stays
		return space.CloneItem(baseItem), true
	}
}

func (m *merger) mergeItemField(merged *space.Item, baseAt int, path string, pathsL, pathsR []string, leftIndex, rightIndex map[string]int) {
	leftItem := m.left.Items[leftIndex[merged.ID]]
	rightItem := m.right.Items[rightIndex[merged.ID]]
	inL := containsPath(pathsL, path)
	inR := containsPath(pathsR, path)

	switch {
	case inL && !inR:
		copyItemField(merged, path, leftItem)
	case inR && !inL:
		copyItemField(merged, path, rightItem)
	default:
		lv := itemField(leftItem, path)
		rv := itemField(rightItem, path)
		if reflect.DeepEqual(lv, rv) {
			copyItemField(merged, path, leftItem)
			return
		}
		d := m.resolve(Conflict{
			Path:       fmt.Sprintf("space.items[%d].%s", baseAt, path),
			Type:       ConflictModification,
			Candidates: []any{lv, rv},
		})
		switch d.Resolution {
		case ResolutionLeft:
			copyItemField(merged, path, leftItem)
		case ResolutionRight:
			copyItemField(merged, path, rightItem)
		case ResolutionCustom:
			_ = setItemFieldValue(merged, path, d.Value)
		}
	}
}

func (m *merger) mergeEnvironment(deltaL, deltaR map[string]diff.FieldDelta) {
	for _, field := range unionDeltaFields(deltaL, deltaR) {
		_, inL := deltaL[field]
		_, inR := deltaR[field]
		switch {
		case inL && !inR:
			copyEnvironmentField(&m.merged.Environment, field, m.left.Environment)
		case inR && !inL:
			copyEnvironmentField(&m.merged.Environment, field, m.right.Environment)
		default:
			lv := environmentField(m.left.Environment, field)
			rv := environmentField(m.right.Environment, field)
			if reflect.DeepEqual(lv, rv) {
				copyEnvironmentField(&m.merged.Environment, field, m.left.Environment)
				continue
			}
			d := m.resolve(Conflict{
				Path:       "space.environment." + field,
				Type:       ConflictModification,
				Candidates: []any{lv, rv},
			})
			switch d.Resolution {
			case ResolutionLeft:
				copyEnvironmentField(&m.merged.Environment, field, m.left.Environment)
			case ResolutionRight:
				copyEnvironmentField(&m.merged.Environment, field, m.right.Environment)
			case ResolutionCustom:
				_ = setEnvironmentFieldValue(&m.merged.Environment, field, d.Value)
			}
		}
	}
}

func (m *merger) mergeCamera(deltaL, deltaR map[string]diff.FieldDelta) {
	for _, field := range unionDeltaFields(deltaL, deltaR) {
		_, inL := deltaL[field]
		_, inR := deltaR[field]
		switch {
		case inL && !inR:
			copyCameraField(&m.merged.Camera, field, m.left.Camera)
		case inR && !inL:
			copyCameraField(&m.merged.Camera, field, m.right.Camera)
		default:
			lv := cameraField(m.left.Camera, field)
			rv := cameraField(m.right.Camera, field)
			if reflect.DeepEqual(lv, rv) {
				copyCameraField(&m.merged.Camera, field, m.left.Camera)
				continue
			}
			d := m.resolve(Conflict{
				Path:       "space.camera." + field,
				Type:       ConflictModification,
				Candidates: []any{lv, rv},
			})
			switch d.Resolution {
			case ResolutionLeft:
				copyCameraField(&m.merged.Camera, field, m.left.Camera)
			case ResolutionRight:
				copyCameraField(&m.merged.Camera, field, m.right.Camera)
			case ResolutionCustom:
				_ = setCameraFieldValue(&m.merged.Camera, field, d.Value)
			}
		}
	}
}

func modifiedByID(changes *diff.ItemChanges) map[string][]string {
	out := map[string][]string{}
	if changes == nil {
		return out
	}
	for _, mod := range changes.Modified {
		out[mod.ID] = mod.Changes
	}
	return out
}

func removedSet(changes *diff.ItemChanges) map[string]struct{} {
	out := map[string]struct{}{}
	if changes == nil {
		return out
	}
	for _, item := range changes.Removed {
		out[item.ID] = struct{}{}
	}
	return out
}

func addedByID(changes *diff.ItemChanges) map[string]space.Item {
	out := map[string]space.Item{}
	if changes == nil {
		return out
	}
	for _, item := range changes.Added {
		out[item.ID] = item
	}
	return out
}

func unionPaths(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	for _, path := range b {
		if !containsPath(a, path) {
			out = append(out, path)
		}
	}
	return out
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}

// unionDeltaFields returns field names in a stable order so conflict lists
// are deterministic.
func unionDeltaFields(a, b map[string]diff.FieldDelta) []string {
	ordered := []string{
		"backgroundColor", "lighting", "fog", "skybox",
		"position", "target", "fov", "controls",
	}
	var out []string
	for _, field := range ordered {
		_, inA := a[field]
		_, inB := b[field]
		if inA || inB {
			out = append(out, field)
		}
	}
	return out
}

func itemFromValue(value any) (space.Item, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return space.Item{}, err
	}
	var item space.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return space.Item{}, err
	}
	if item.ID == "" {
		return space.Item{}, fmt.Errorf("custom item resolution requires an id")
	}
	return item, nil
}
