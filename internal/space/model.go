// Package space defines the versioned space document model: a snapshot of a
// spatial scene graph composed of positioned items with nested properties.
package space

import (
	"encoding/json"
	"fmt"
	"time"
)

// Vec3 is an xyz triple. Position, rotation and scale are all Vec3s.
type Vec3 [3]float64

type Fog struct {
	Enabled bool    `json:"enabled"`
	Color   string  `json:"color,omitempty"`
	Density float64 `json:"density,omitempty"`
}

type Environment struct {
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Lighting        string `json:"lighting,omitempty"`
	Fog             Fog    `json:"fog"`
	Skybox          string `json:"skybox,omitempty"`
}

type Camera struct {
	Position Vec3    `json:"position"`
	Target   Vec3    `json:"target"`
	FOV      float64 `json:"fov,omitempty"`
	Controls string  `json:"controls,omitempty"`
}

type AssetType string

const (
	AssetImage            AssetType = "image"
	AssetVideo            AssetType = "video"
	AssetAudio            AssetType = "audio"
	AssetText             AssetType = "text"
	AssetLayout           AssetType = "layout"
	AssetCanvas           AssetType = "canvas"
	AssetObject           AssetType = "object"
	AssetObjectCollection AssetType = "object_collection"
)

var allowedAssetTypes = map[AssetType]struct{}{
	AssetImage:            {},
	AssetVideo:            {},
	AssetAudio:            {},
	AssetText:             {},
	AssetLayout:           {},
	AssetCanvas:           {},
	AssetObject:           {},
	AssetObjectCollection: {},
}

// Component is one sub-item of an object. Beyond the fixed fields, anything
// the editor attaches travels in Custom as plain JSON values.
type Component struct {
	ID       string         `json:"id"`
	Position Vec3           `json:"position"`
	Visible  bool           `json:"visible"`
	Custom   map[string]any `json:"custom,omitempty"`
}

type ObjectProperties struct {
	ShowComponents   *bool          `json:"showComponents,omitempty"`
	InteractionLevel string         `json:"interactionLevel,omitempty"`
	LODLevel         int            `json:"lodLevel,omitempty"`
	Physics          *bool          `json:"physics,omitempty"`
	Components       []Component    `json:"components,omitempty"`
	Custom           map[string]any `json:"custom,omitempty"`
}

// ImportMetadata links an item back to the external layout element that
// generated it. The Imported* fields record the geometry as produced at the
// last sync, which is what lets reconciliation tell a manual edit apart from
// a layout change. Items without metadata are user-authored.
type ImportMetadata struct {
	SourceType    string     `json:"sourceType"`
	SourceID      string     `json:"sourceId"`
	SourceItemID  string     `json:"sourceItemId"`
	ImportVersion int        `json:"importVersion,omitempty"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`

	ImportedPosition *Vec3 `json:"importedPosition,omitempty"`
	ImportedRotation *Vec3 `json:"importedRotation,omitempty"`
	ImportedScale    *Vec3 `json:"importedScale,omitempty"`
}

type Item struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"assetId,omitempty"`
	AssetType   AssetType `json:"assetType"`
	Position    Vec3      `json:"position"`
	Rotation    Vec3      `json:"rotation"`
	Scale       Vec3      `json:"scale"`
	Opacity     *float64  `json:"opacity,omitempty"`
	Visible     *bool     `json:"visible,omitempty"`
	Clickable   *bool     `json:"clickable,omitempty"`
	HoverEffect string    `json:"hoverEffect,omitempty"`

	ObjectProperties *ObjectProperties `json:"objectProperties,omitempty"`
	GroupID          string            `json:"groupId,omitempty"`
	ImportMetadata   *ImportMetadata   `json:"importMetadata,omitempty"`
	CustomData       map[string]any    `json:"customData,omitempty"`
}

type RelationshipEdge struct {
	ID         string `json:"id"`
	FromItemID string `json:"fromItemId"`
	ToItemID   string `json:"toItemId"`
	Kind       string `json:"kind,omitempty"`
}

type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Center Vec3   `json:"center"`
	Size   Vec3   `json:"size"`
}

// SourceMapping records provenance for one space item, linking it to the
// layout element it was generated from.
type SourceMapping struct {
	SourceType    string     `json:"sourceType"`
	SourceID      string     `json:"sourceId"`
	SourceItemID  string     `json:"sourceItemId"`
	SpaceItemID   string     `json:"spaceItemId"`
	ImportVersion int        `json:"importVersion"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`
}

// Snapshot is the full state of a space document. Exactly one live snapshot
// (the working copy) exists per space; versions hold immutable copies.
// Item order is significant and preserved across diff and merge.
type Snapshot struct {
	ID            string             `json:"id"`
	Environment   Environment        `json:"environment"`
	Camera        Camera             `json:"camera"`
	Items         []Item             `json:"items"`
	Relationships []RelationshipEdge `json:"relationships,omitempty"`
	Zones         []Zone             `json:"zones,omitempty"`
}

// Validate checks the structural invariants a snapshot must satisfy before it
// can be committed as a version.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if s.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	if s.Items == nil {
		return fmt.Errorf("items collection is required")
	}
	seen := make(map[string]struct{}, len(s.Items))
	for i, item := range s.Items {
		if item.ID == "" {
			return fmt.Errorf("items[%d]: id is required", i)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("items[%d]: duplicate item id %q", i, item.ID)
		}
		seen[item.ID] = struct{}{}
		if item.AssetType != "" {
			if _, ok := allowedAssetTypes[item.AssetType]; !ok {
				return fmt.Errorf("items[%d]: invalid asset type %q", i, item.AssetType)
			}
		}
	}
	return nil
}

// Clone returns a deep copy. The model is JSON-shaped throughout (scalar
// fields plus string-keyed maps of JSON values), so a marshal round trip is a
// complete copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	if out.Items == nil && s.Items != nil {
		out.Items = []Item{}
	}
	return &out
}

// CloneItem deep-copies a single item.
func CloneItem(item Item) Item {
	raw, _ := json.Marshal(item)
	var out Item
	_ = json.Unmarshal(raw, &out)
	return out
}

// ItemIndex maps item id to position in the Items slice.
func (s *Snapshot) ItemIndex() map[string]int {
	index := make(map[string]int, len(s.Items))
	for i, item := range s.Items {
		index[item.ID] = i
	}
	return index
}

// Item returns the item with the given id, or nil.
func (s *Snapshot) Item(id string) *Item {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i]
		}
	}
	return nil
}
