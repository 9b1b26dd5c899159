package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"spaceforge/api/internal/cache"
	"spaceforge/api/internal/config"
	"spaceforge/api/internal/layout"
	"spaceforge/api/internal/merge"
	"spaceforge/api/internal/mirror"
	"spaceforge/api/internal/space"
	"spaceforge/api/internal/version"
)

type Service struct {
	cfg      config.Config
	versions *version.Store

	// optional backends, nil when not configured
	snapshots *cache.SnapshotCache
	mirrors   *mirror.Service
	db        *sql.DB
}

func New(cfg config.Config, versions *version.Store) *Service {
	return &Service{cfg: cfg, versions: versions}
}

func NewWithBackends(cfg config.Config, versions *version.Store, snapshots *cache.SnapshotCache, mirrors *mirror.Service, db *sql.DB) *Service {
	return &Service{
		cfg:       cfg,
		versions:  versions,
		snapshots: snapshots,
		mirrors:   mirrors,
		db:        db,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *Service) CachePing(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	return s.snapshots.Ping(ctx)
}

// GetSpace returns the working copy of a space.
func (s *Service) GetSpace(ctx context.Context, spaceID string) (map[string]any, error) {
	snap, err := s.versions.WorkingCopy(spaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"spaceId": spaceID, "space": snap}, nil
}

// PutSpace replaces the working copy of a space.
func (s *Service) PutSpace(ctx context.Context, spaceID string, snap *space.Snapshot) (map[string]any, error) {
	if snap == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "space is required", nil)
	}
	if err := s.versions.SetWorkingCopy(spaceID, snap); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "spaceId": spaceID}, nil
}

type CreateVersionInput struct {
	// Space is the snapshot to commit; when nil the current working copy is
	// committed.
	Space                 *space.Snapshot `json:"space"`
	Description           string          `json:"description"`
	Tags                  []string        `json:"tags"`
	ParentVersionID       string          `json:"parentVersionId"`
	Protected             bool            `json:"protected"`
	AutoBackup            bool            `json:"autoBackup"`
	BackupIntervalSeconds int             `json:"backupIntervalSeconds"`
	// Compress defaults to true; storage always holds compressed payloads
	// unless explicitly disabled.
	Compress *bool `json:"compress"`
}

func (s *Service) CreateVersion(ctx context.Context, spaceID string, input CreateVersionInput) (map[string]any, error) {
	snap := input.Space
	if snap == nil {
		working, err := s.versions.WorkingCopy(spaceID)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "space is required: no working copy exists", nil)
		}
		snap = working
	}

	compress := true
	if input.Compress != nil {
		compress = *input.Compress
	}

	v, err := s.versions.CreateVersion(ctx, spaceID, snap, version.CreateOptions{
		Description:     input.Description,
		Tags:            input.Tags,
		ParentVersionID: input.ParentVersionID,
		Protected:       input.Protected,
		AutoBackup:      input.AutoBackup,
		BackupInterval:  time.Duration(input.BackupIntervalSeconds) * time.Second,
		Compress:        compress,
		SourceMappings:  sourceMappingsOf(snap),
	})
	if err != nil {
		return nil, err
	}

	// write-behind side effects: failures are logged, never fatal
	if s.mirrors != nil {
		if _, err := s.mirrors.RecordVersion(spaceID, v.VersionNumber, v.Description, snap); err != nil {
			log.Printf("mirror record failed for space %s version %d: %v", spaceID, v.VersionNumber, err)
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.Put(ctx, spaceID, v.ID, snap); err != nil {
			log.Printf("snapshot cache put failed for %s: %v", v.ID, err)
		}
	}

	return map[string]any{"version": versionPayload(v)}, nil
}

type ListVersionsInput struct {
	Limit  int
	Offset int
	Tags   []string
	From   *time.Time
	To     *time.Time
}

func (s *Service) ListVersions(ctx context.Context, spaceID string, input ListVersionsInput) (map[string]any, error) {
	versions := s.versions.ListVersions(spaceID, version.ListOptions{
		Limit:      input.Limit,
		Offset:     input.Offset,
		FilterTags: input.Tags,
		From:       input.From,
		To:         input.To,
	})
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionPayload(v))
	}
	return map[string]any{"spaceId": spaceID, "versions": items}, nil
}

func (s *Service) GetVersion(ctx context.Context, spaceID, versionID string, includeSnapshot bool) (map[string]any, error) {
	v, err := s.versions.GetVersion(spaceID, versionID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"version": versionPayload(v)}
	if includeSnapshot {
		snap, err := s.snapshotOf(ctx, v)
		if err != nil {
			return nil, err
		}
		payload["space"] = snap
	}
	return payload, nil
}

// snapshotOf materializes a version's snapshot through the cache when one is
// configured. Versions are immutable, so a cache hit is always valid.
func (s *Service) snapshotOf(ctx context.Context, v *version.Version) (*space.Snapshot, error) {
	if s.snapshots != nil {
		cached, err := s.snapshots.Get(ctx, v.SpaceID, v.ID)
		if err != nil {
			log.Printf("snapshot cache get failed for %s: %v", v.ID, err)
		} else if cached != nil {
			return cached, nil
		}
	}
	snap, err := v.Snapshot()
	if err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.Put(ctx, v.SpaceID, v.ID, snap); err != nil {
			log.Printf("snapshot cache put failed for %s: %v", v.ID, err)
		}
	}
	return snap, nil
}

type RestoreInput struct {
	CreateRestorePoint      bool     `json:"createRestorePoint"`
	RestorePointDescription string   `json:"restorePointDescription"`
	Scopes                  []string `json:"scopes"`
}

func (s *Service) RestoreVersion(ctx context.Context, spaceID, versionID string, input RestoreInput) (map[string]any, error) {
	snap, err := s.versions.RestoreVersion(ctx, spaceID, versionID, version.RestoreOptions{
		CreateRestorePoint:      input.CreateRestorePoint,
		RestorePointDescription: input.RestorePointDescription,
		Scopes:                  input.Scopes,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "spaceId": spaceID, "space": snap}, nil
}

func (s *Service) DeleteVersion(ctx context.Context, spaceID, versionID string, cascade, cleanupFiles bool) (map[string]any, error) {
	if err := s.versions.DeleteVersion(ctx, spaceID, versionID, version.DeleteOptions{
		Cascade:      cascade,
		CleanupFiles: cleanupFiles,
	}); err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		if err := s.snapshots.Invalidate(ctx, spaceID, versionID); err != nil {
			log.Printf("snapshot cache invalidate failed for %s: %v", versionID, err)
		}
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) PruneVersions(ctx context.Context, spaceID string, keep int) (map[string]any, error) {
	if keep <= 0 {
		keep = s.cfg.RetentionKeep
	}
	deleted, err := s.versions.Prune(ctx, spaceID, keep)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "deleted": deleted, "kept": keep}, nil
}

func (s *Service) DiffVersions(ctx context.Context, spaceID, fromID, toID string) (map[string]any, error) {
	result, err := s.versions.Diff(spaceID, fromID, toID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"spaceId": spaceID,
		"from":    fromID,
		"to":      toID,
		"diff":    result,
	}, nil
}

// Server-side resolution strategies accepted by MergeVersions.
const (
	StrategyManual    = "manual"
	StrategyTakeLeft  = "take-left"
	StrategyTakeRight = "take-right"
)

// PathResolution is a client-supplied decision for one conflict path.
type PathResolution struct {
	Resolution merge.Resolution `json:"resolution"`
	Value      any              `json:"value,omitempty"`
}

type MergeInput struct {
	LeftVersionID  string `json:"leftVersionId"`
	RightVersionID string `json:"rightVersionId"`
	BaseVersionID  string `json:"baseVersionId"`
	// Strategy resolves conflicts without per-path input: take-left or
	// take-right. Manual (the default) leaves conflicts unresolved unless a
	// path resolution matches.
	Strategy    string                    `json:"strategy"`
	Resolutions map[string]PathResolution `json:"resolutions"`
	// CommitDescription, when set and the merge succeeds, commits the merged
	// snapshot as a new version parented on the left version.
	CommitDescription string `json:"commitDescription"`
}

func (s *Service) MergeVersions(ctx context.Context, spaceID string, input MergeInput) (map[string]any, error) {
	if input.LeftVersionID == "" || input.RightVersionID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "leftVersionId and rightVersionId are required", nil)
	}
	resolver, err := buildResolver(input.Strategy, input.Resolutions)
	if err != nil {
		return nil, err
	}

	result, err := s.versions.MergeVersions(spaceID, input.LeftVersionID, input.RightVersionID, version.MergeOptions{
		BaseVersionID: input.BaseVersionID,
		Resolver:      resolver,
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"success":     result.Success,
		"conflicts":   result.Conflicts,
		"mergedSpace": result.MergedSpace,
	}

	if result.Success && input.CommitDescription != "" {
		created, err := s.CreateVersion(ctx, spaceID, CreateVersionInput{
			Space:           result.MergedSpace,
			Description:     input.CommitDescription,
			Tags:            []string{"merge"},
			ParentVersionID: input.LeftVersionID,
		})
		if err != nil {
			return nil, err
		}
		payload["version"] = created["version"]
	}
	return payload, nil
}

func buildResolver(strategy string, resolutions map[string]PathResolution) (merge.Resolver, error) {
	var fallback merge.Resolution
	switch strategy {
	case "", StrategyManual:
		fallback = merge.ResolutionNone
	case StrategyTakeLeft:
		fallback = merge.ResolutionLeft
	case StrategyTakeRight:
		fallback = merge.ResolutionRight
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown merge strategy %q", strategy), nil)
	}
	return func(c merge.Conflict) merge.Decision {
		if pick, ok := resolutions[c.Path]; ok {
			return merge.Decision{Resolution: pick.Resolution, Value: pick.Value}
		}
		return merge.Decision{Resolution: fallback}
	}, nil
}

type LayoutImportInput struct {
	LayoutID string       `json:"layoutId"`
	Items    []space.Item `json:"items"`
	// ImportVersion stamps the imported items; zero means 1.
	ImportVersion int `json:"importVersion"`
}

// ImportLayout appends machine-generated items to the working copy, stamping
// provenance metadata so later syncs can reconcile them.
func (s *Service) ImportLayout(ctx context.Context, spaceID string, input LayoutImportInput) (map[string]any, error) {
	if input.LayoutID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "layoutId is required", nil)
	}
	if len(input.Items) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "items are required", nil)
	}

	working, err := s.versions.WorkingCopy(spaceID)
	if err != nil {
		return nil, err
	}

	importVersion := input.ImportVersion
	if importVersion <= 0 {
		importVersion = 1
	}
	items, mappings := layout.ImportItems(input.Items, input.LayoutID, importVersion)
	working.Items = append(working.Items, items...)

	if err := s.versions.SetWorkingCopy(spaceID, working); err != nil {
		return nil, err
	}
	return map[string]any{
		"ok":             true,
		"imported":       len(items),
		"sourceMappings": mappings,
		"space":          working,
	}, nil
}

type LayoutSyncInput struct {
	LayoutID           string       `json:"layoutId"`
	Items              []space.Item `json:"items"`
	ConflictResolution string       `json:"conflictResolution"`
	// Both default to true: re-export is additive unless the caller opts out.
	HandleAddedItems   *bool `json:"handleAddedItems"`
	HandleRemovedItems *bool `json:"handleRemovedItems"`
	ImportVersion      int   `json:"importVersion"`
}

// SyncLayout reconciles a regenerated layout against the working copy,
// preserving manual edits per the requested conflict resolution mode.
func (s *Service) SyncLayout(ctx context.Context, spaceID string, input LayoutSyncInput) (map[string]any, error) {
	if input.LayoutID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "layoutId is required", nil)
	}
	switch layout.ConflictResolution(input.ConflictResolution) {
	case "", layout.PreserveManual, layout.UseLayout, layout.DetectOnly:
	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown conflict resolution %q", input.ConflictResolution), nil)
	}

	working, err := s.versions.WorkingCopy(spaceID)
	if err != nil {
		return nil, err
	}

	result, err := layout.Reconcile(working, input.Items, input.LayoutID, layout.Options{
		ConflictResolution: layout.ConflictResolution(input.ConflictResolution),
		HandleAddedItems:   boolOrDefault(input.HandleAddedItems, true),
		HandleRemovedItems: boolOrDefault(input.HandleRemovedItems, true),
		ImportVersion:      input.ImportVersion,
	})
	if err != nil {
		return nil, err
	}

	if err := s.versions.SetWorkingCopy(spaceID, result.MergedSnapshot); err != nil {
		return nil, err
	}
	return map[string]any{
		"ok":             true,
		"space":          result.MergedSnapshot,
		"sourceMappings": result.SourceMappings,
		"conflicts":      result.Conflicts,
		"summary":        result.Summary,
	}, nil
}

func (s *Service) MirrorHistory(ctx context.Context, spaceID string, limit int) (map[string]any, error) {
	if s.mirrors == nil {
		return nil, domainError(http.StatusNotImplemented, "MIRROR_DISABLED", "Version mirror is not configured", nil)
	}
	commits, err := s.mirrors.History(spaceID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"spaceId": spaceID, "commits": commits}, nil
}

func boolOrDefault(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func versionPayload(v *version.Version) map[string]any {
	payload := map[string]any{
		"id":            v.ID,
		"spaceId":       v.SpaceID,
		"versionNumber": v.VersionNumber,
		"description":   v.Description,
		"tags":          v.Tags,
		"protected":     v.Protected,
		"compressed":    v.Compressed,
		"createdAt":     v.CreatedAt,
	}
	if v.ParentVersionID != "" {
		payload["parentVersionId"] = v.ParentVersionID
	}
	if v.Compressed {
		payload["originalSize"] = v.OriginalSize
		payload["compressedSize"] = v.CompressedSize
	}
	if v.AutoBackup {
		payload["autoBackup"] = true
		payload["backupIntervalSeconds"] = int(v.BackupInterval / time.Second)
		payload["nextBackupTime"] = v.NextBackupTime
	}
	if len(v.SourceMappings) > 0 {
		payload["sourceMappings"] = v.SourceMappings
	}
	return payload
}

// sourceMappingsOf derives provenance records from the snapshot's imported
// items, so each version carries the mappings that were live when committed.
func sourceMappingsOf(snap *space.Snapshot) []space.SourceMapping {
	var mappings []space.SourceMapping
	for _, item := range snap.Items {
		meta := item.ImportMetadata
		if meta == nil {
			continue
		}
		mappings = append(mappings, space.SourceMapping{
			SourceType:    meta.SourceType,
			SourceID:      meta.SourceID,
			SourceItemID:  meta.SourceItemID,
			SpaceItemID:   item.ID,
			ImportVersion: meta.ImportVersion,
			LastSyncedAt:  meta.LastSyncedAt,
		})
	}
	return mappings
}
