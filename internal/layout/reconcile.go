// Package layout reconciles machine-regenerated item sets (re-imported from
// an external 2D layout source) against a space that may carry manual edits.
// Re-export is additive: it never silently deletes user-visible content, and
// it never clobbers a manual edit unless explicitly told to.
package layout

import (
	"fmt"
	"time"

	"spaceforge/api/internal/merge"
	"spaceforge/api/internal/space"
	"spaceforge/api/internal/util"
)

const sourceTypeLayout = "layout"

type ConflictResolution string

const (
	PreserveManual ConflictResolution = "preserve-manual"
	UseLayout      ConflictResolution = "use-layout"
	DetectOnly     ConflictResolution = "detect-only"
)

type Options struct {
	ConflictResolution ConflictResolution
	HandleAddedItems   bool
	HandleRemovedItems bool
	// ImportVersion stamps the regenerated mappings. Zero means "previous
	// highest for this layout + 1".
	ImportVersion int
}

type Summary struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

type Result struct {
	MergedSnapshot *space.Snapshot       `json:"mergedSnapshot"`
	SourceMappings []space.SourceMapping `json:"sourceMappings"`
	Conflicts      []merge.Conflict      `json:"conflicts"`
	Summary        Summary               `json:"summary"`
}

// ImportItems prepares a freshly generated layout item set for first import:
// space item ids are minted where missing, provenance metadata and baseline
// geometry are stamped, and the matching source mappings are returned.
func ImportItems(fresh []space.Item, layoutID string, importVersion int) ([]space.Item, []space.SourceMapping) {
	if importVersion <= 0 {
		importVersion = 1
	}
	now := time.Now().UTC()
	items := make([]space.Item, 0, len(fresh))
	mappings := make([]space.SourceMapping, 0, len(fresh))
	for _, incoming := range fresh {
		item := space.CloneItem(incoming)
		sourceItemID := sourceItemIDOf(item)
		if item.ID == "" {
			item.ID = mintItemID(layoutID, sourceItemID)
		}
		stampImportMetadata(&item, incoming, layoutID, sourceItemID, importVersion, now)
		items = append(items, item)
		mappings = append(mappings, mappingFor(item, importVersion, now))
	}
	return items, mappings
}

// Reconcile merges a regenerated item set into the current snapshot.
//
// Items without layout provenance (or sourced from a different layout) are
// manual and always carried through untouched. A layout-sourced item whose
// current geometry still matches its import baseline simply tracks the fresh
// regeneration. When both the user and the layout moved the same item, that
// is a dimension-mismatch conflict settled per opts.ConflictResolution.
func Reconcile(current *space.Snapshot, fresh []space.Item, layoutID string, opts Options) (Result, error) {
	if current == nil {
		return Result{}, fmt.Errorf("current snapshot is required")
	}
	if layoutID == "" {
		return Result{}, fmt.Errorf("layout id is required")
	}
	switch opts.ConflictResolution {
	case "":
		opts.ConflictResolution = PreserveManual
	case PreserveManual, UseLayout, DetectOnly:
	default:
		return Result{}, fmt.Errorf("invalid conflict resolution %q", opts.ConflictResolution)
	}

	importVersion := opts.ImportVersion
	if importVersion <= 0 {
		importVersion = 1
		for _, item := range current.Items {
			if meta := item.ImportMetadata; meta != nil && meta.SourceType == sourceTypeLayout && meta.SourceID == layoutID && meta.ImportVersion >= importVersion {
				importVersion = meta.ImportVersion + 1
			}
		}
	}

	now := time.Now().UTC()
	merged := current.Clone()
	merged.Items = merged.Items[:0]

	freshBySource := make(map[string]space.Item, len(fresh))
	for _, item := range fresh {
		freshBySource[sourceItemIDOf(item)] = item
	}
	consumed := make(map[string]struct{}, len(fresh))

	result := Result{
		SourceMappings: []space.SourceMapping{},
		Conflicts:      []merge.Conflict{},
	}

	for _, existing := range current.Items {
		meta := existing.ImportMetadata
		if meta == nil || meta.SourceType != sourceTypeLayout || meta.SourceID != layoutID {
			merged.Items = append(merged.Items, space.CloneItem(existing))
			continue
		}

		incoming, alive := freshBySource[meta.SourceItemID]
		if !alive {
			// gone from the layout: keep it unless the caller opted out
			if opts.HandleRemovedItems {
				merged.Items = append(merged.Items, space.CloneItem(existing))
			} else {
				result.Summary.Removed++
			}
			continue
		}
		consumed[meta.SourceItemID] = struct{}{}

		item, modified := reconcileItem(existing, incoming, opts.ConflictResolution, len(merged.Items), &result.Conflicts)
		stampImportMetadata(&item, incoming, layoutID, meta.SourceItemID, importVersion, now)
		result.SourceMappings = append(result.SourceMappings, mappingFor(item, importVersion, now))
		merged.Items = append(merged.Items, item)
		if modified {
			result.Summary.Modified++
		}
	}

	if opts.HandleAddedItems {
		for _, incoming := range fresh {
			sourceItemID := sourceItemIDOf(incoming)
			if _, ok := consumed[sourceItemID]; ok {
				continue
			}
			item := space.CloneItem(incoming)
			if item.ID == "" {
				item.ID = mintItemID(layoutID, sourceItemID)
			}
			stampImportMetadata(&item, incoming, layoutID, sourceItemID, importVersion, now)
			result.SourceMappings = append(result.SourceMappings, mappingFor(item, importVersion, now))
			merged.Items = append(merged.Items, item)
			result.Summary.Added++
		}
	}

	result.MergedSnapshot = merged
	return result, nil
}

// reconcileItem folds one fresh regeneration into its existing counterpart.
// The second return reports whether the merged item's geometry moved relative
// to existing. Non-geometry fields always track the regeneration.
func reconcileItem(existing, incoming space.Item, resolution ConflictResolution, mergedAt int, conflicts *[]merge.Conflict) (space.Item, bool) {
	meta := existing.ImportMetadata
	item := space.CloneItem(incoming)
	item.ID = existing.ID

	modified := false
	for _, axis := range []struct {
		path     string
		current  space.Vec3
		fresh    space.Vec3
		baseline *space.Vec3
		set      func(*space.Item, space.Vec3)
	}{
		{"position", existing.Position, incoming.Position, meta.ImportedPosition, func(it *space.Item, v space.Vec3) { it.Position = v }},
		{"rotation", existing.Rotation, incoming.Rotation, meta.ImportedRotation, func(it *space.Item, v space.Vec3) { it.Rotation = v }},
		{"scale", existing.Scale, incoming.Scale, meta.ImportedScale, func(it *space.Item, v space.Vec3) { it.Scale = v }},
	} {
		if axis.current == axis.fresh {
			// no drift between the space and what the layout now produces
			axis.set(&item, axis.fresh)
			continue
		}
		manualEdit := axis.baseline != nil && axis.current != *axis.baseline
		layoutMoved := axis.baseline == nil || axis.fresh != *axis.baseline
		switch {
		case !manualEdit:
			axis.set(&item, axis.fresh)
			modified = true
		case !layoutMoved:
			// user moved it, layout did not: the manual edit wins outright
			axis.set(&item, axis.current)
		default:
			conflict := merge.Conflict{
				Path:       fmt.Sprintf("space.items[%d].%s", mergedAt, axis.path),
				Type:       merge.ConflictDimensionMismatch,
				Candidates: []any{axis.current, axis.fresh},
			}
			switch resolution {
			case UseLayout:
				conflict.Resolution = merge.ResolutionRight
				axis.set(&item, axis.fresh)
				modified = true
			case PreserveManual:
				conflict.Resolution = merge.ResolutionLeft
				axis.set(&item, axis.current)
			default:
				// detect-only keeps the manual value but leaves the
				// conflict unresolved for the caller to act on
				axis.set(&item, axis.current)
			}
			*conflicts = append(*conflicts, conflict)
		}
	}
	return item, modified
}

// mintItemID assigns an id to a layout item that arrived without one. A stable
// derivation from the layout element keeps the id identical across
// regenerations; only items with no source identity get a random id.
func mintItemID(layoutID, sourceItemID string) string {
	if sourceItemID != "" {
		return "item_" + util.ShortHash(layoutID+"/"+sourceItemID)
	}
	return util.NewID("item")
}

func sourceItemIDOf(item space.Item) string {
	if item.ImportMetadata != nil && item.ImportMetadata.SourceItemID != "" {
		return item.ImportMetadata.SourceItemID
	}
	return item.ID
}

// stampImportMetadata records provenance on item. The baseline geometry is
// always taken from the layout-produced regeneration, never from the item's
// final (possibly manually edited) geometry, so the next sync can still tell
// the two apart.
func stampImportMetadata(item *space.Item, regenerated space.Item, layoutID, sourceItemID string, importVersion int, now time.Time) {
	position := regenerated.Position
	rotation := regenerated.Rotation
	scale := regenerated.Scale
	syncedAt := now
	item.ImportMetadata = &space.ImportMetadata{
		SourceType:       sourceTypeLayout,
		SourceID:         layoutID,
		SourceItemID:     sourceItemID,
		ImportVersion:    importVersion,
		LastSyncedAt:     &syncedAt,
		ImportedPosition: &position,
		ImportedRotation: &rotation,
		ImportedScale:    &scale,
	}
}

func mappingFor(item space.Item, importVersion int, now time.Time) space.SourceMapping {
	syncedAt := now
	return space.SourceMapping{
		SourceType:    sourceTypeLayout,
		SourceID:      item.ImportMetadata.SourceID,
		SourceItemID:  item.ImportMetadata.SourceItemID,
		SpaceItemID:   item.ID,
		ImportVersion: importVersion,
		LastSyncedAt:  &syncedAt,
	}
}
