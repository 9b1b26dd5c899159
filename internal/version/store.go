package version

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"spaceforge/api/internal/diff"
	"spaceforge/api/internal/merge"
	"spaceforge/api/internal/space"
	"spaceforge/api/internal/util"
)

// Restore scopes. A restore replaces only the named scopes of the working
// copy, leaving the rest untouched.
const (
	ScopeItems       = "items"
	ScopeEnvironment = "environment"
	ScopeCamera      = "camera"
)

type Config struct {
	// MaxVersionsPerSpace caps version history per space; zero means
	// unlimited.
	MaxVersionsPerSpace int
}

// Store is the in-memory version arena with an optional durability backend.
// Version-number assignment is serialized per space: every mutation of a
// space's history runs under that space's lock, so concurrent creates all
// succeed with distinct, gap-free numbers.
type Store struct {
	cfg     Config
	persist Persistence

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	stateMu  sync.RWMutex
	versions map[string]*Version
	bySpace  map[string][]*Version // ascending by version number
	working  map[string]*space.Snapshot
}

func New(cfg Config, persist Persistence) *Store {
	return &Store{
		cfg:      cfg,
		persist:  persist,
		locks:    make(map[string]*sync.Mutex),
		versions: make(map[string]*Version),
		bySpace:  make(map[string][]*Version),
		working:  make(map[string]*space.Snapshot),
	}
}

// Load hydrates the store from the persistence backend.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	records, err := s.persist.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("%w: load versions: %v", ErrStorage, err)
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, rec := range records {
		v := versionOf(rec)
		s.versions[v.ID] = v
		s.bySpace[v.SpaceID] = append(s.bySpace[v.SpaceID], v)
	}
	for _, versions := range s.bySpace {
		sort.Slice(versions, func(i, j int) bool {
			return versions[i].VersionNumber < versions[j].VersionNumber
		})
	}
	return nil
}

func (s *Store) spaceLock(spaceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[spaceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[spaceID] = lock
	}
	return lock
}

// WorkingCopy returns a deep copy of the space's live snapshot.
func (s *Store) WorkingCopy(spaceID string) (*space.Snapshot, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	snap, ok := s.working[spaceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, spaceID)
	}
	return snap.Clone(), nil
}

// SetWorkingCopy replaces the space's live snapshot.
func (s *Store) SetWorkingCopy(spaceID string, snap *space.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.working[spaceID] = snap.Clone()
	return nil
}

type CreateOptions struct {
	Description     string
	Tags            []string
	ParentVersionID string
	SourceMappings  []space.SourceMapping
	Protected       bool
	AutoBackup      bool
	BackupInterval  time.Duration
	Compress        bool
}

// CreateVersion commits a snapshot as the next version of the space. The
// version number is max existing + 1 (1 for the first version). Nothing is
// persisted or registered when validation, the version cap, parent
// resolution or the storage backend fails.
func (s *Store) CreateVersion(ctx context.Context, spaceID string, snap *space.Snapshot, opts CreateOptions) (*Version, error) {
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	lock := s.spaceLock(spaceID)
	lock.Lock()
	defer lock.Unlock()
	return s.createLocked(ctx, spaceID, snap, opts)
}

// createLocked assumes the space lock is held.
func (s *Store) createLocked(ctx context.Context, spaceID string, snap *space.Snapshot, opts CreateOptions) (*Version, error) {
	s.stateMu.RLock()
	existing := s.bySpace[spaceID]
	nextNumber := 1
	if len(existing) > 0 {
		nextNumber = existing[len(existing)-1].VersionNumber + 1
	}
	if s.cfg.MaxVersionsPerSpace > 0 && len(existing) >= s.cfg.MaxVersionsPerSpace {
		s.stateMu.RUnlock()
		return nil, fmt.Errorf("%w: space %s holds %d versions", ErrVersionLimitExceeded, spaceID, len(existing))
	}
	if opts.ParentVersionID != "" {
		parent, ok := s.versions[opts.ParentVersionID]
		if !ok || parent.SpaceID != spaceID {
			s.stateMu.RUnlock()
			return nil, fmt.Errorf("%w: %s in space %s", ErrParentNotFound, opts.ParentVersionID, spaceID)
		}
	}
	s.stateMu.RUnlock()

	payload, originalSize, compressedSize, err := encodePayload(snap, opts.Compress)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	v := &Version{
		ID:              util.NewID("ver"),
		SpaceID:         spaceID,
		VersionNumber:   nextNumber,
		ParentVersionID: opts.ParentVersionID,
		Description:     opts.Description,
		Tags:            normalizeTags(opts.Tags),
		SourceMappings:  opts.SourceMappings,
		Protected:       opts.Protected,
		AutoBackup:      opts.AutoBackup,
		BackupInterval:  opts.BackupInterval,
		CreatedAt:       now,
		Compressed:      opts.Compress,
		OriginalSize:    originalSize,
		CompressedSize:  compressedSize,
		payload:         payload,
	}
	if v.AutoBackup && v.BackupInterval > 0 {
		v.NextBackupTime = now.Add(v.BackupInterval)
	}

	if s.persist != nil {
		if err := s.persist.SaveVersion(ctx, recordOf(v)); err != nil {
			return nil, fmt.Errorf("%w: save version: %v", ErrStorage, err)
		}
	}

	s.stateMu.Lock()
	s.versions[v.ID] = v
	s.bySpace[spaceID] = append(s.bySpace[spaceID], v)
	s.stateMu.Unlock()
	return v, nil
}

type ListOptions struct {
	Limit      int
	Offset     int
	FilterTags []string // any-of
	From       *time.Time
	To         *time.Time // inclusive
}

// ListVersions returns the space's history, most recent first.
func (s *Store) ListVersions(spaceID string, opts ListOptions) []*Version {
	s.stateMu.RLock()
	ascending := s.bySpace[spaceID]
	filtered := make([]*Version, 0, len(ascending))
	for i := len(ascending) - 1; i >= 0; i-- {
		v := ascending[i]
		if len(opts.FilterTags) > 0 && !hasAnyTag(v, opts.FilterTags) {
			continue
		}
		if opts.From != nil && v.CreatedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && v.CreatedAt.After(*opts.To) {
			continue
		}
		filtered = append(filtered, v)
	}
	s.stateMu.RUnlock()

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*Version{}
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}

// GetVersion returns the version if it belongs to the space.
func (s *Store) GetVersion(spaceID, versionID string) (*Version, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok || v.SpaceID != spaceID {
		return nil, fmt.Errorf("%w: %s in space %s", ErrVersionNotFound, versionID, spaceID)
	}
	return v, nil
}

type RestoreOptions struct {
	CreateRestorePoint      bool
	RestorePointDescription string
	// Scopes restricts what is replaced; empty means all scopes.
	Scopes []string
}

// RestoreVersion replaces the named scopes of the working copy with the
// target version's state. With CreateRestorePoint the pre-restore working
// copy is committed first, so it is never lost.
func (s *Store) RestoreVersion(ctx context.Context, spaceID, versionID string, opts RestoreOptions) (*space.Snapshot, error) {
	lock := s.spaceLock(spaceID)
	lock.Lock()
	defer lock.Unlock()

	v, err := s.GetVersion(spaceID, versionID)
	if err != nil {
		return nil, err
	}
	target, err := v.Snapshot()
	if err != nil {
		return nil, err
	}

	s.stateMu.RLock()
	current := s.working[spaceID].Clone()
	s.stateMu.RUnlock()

	if opts.CreateRestorePoint && current != nil {
		description := opts.RestorePointDescription
		if description == "" {
			description = fmt.Sprintf("Restore point before restoring version %d", v.VersionNumber)
		}
		if _, err := s.createLocked(ctx, spaceID, current, CreateOptions{
			Description: description,
			Tags:        []string{"restore-point"},
		}); err != nil {
			return nil, err
		}
	}

	if current == nil {
		current = &space.Snapshot{ID: target.ID, Items: []space.Item{}}
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeItems, ScopeEnvironment, ScopeCamera}
	}
	for _, scope := range scopes {
		switch scope {
		case ScopeItems:
			current.Items = target.Items
			current.Relationships = target.Relationships
			current.Zones = target.Zones
		case ScopeEnvironment:
			current.Environment = target.Environment
		case ScopeCamera:
			current.Camera = target.Camera
		default:
			return nil, fmt.Errorf("%w: unknown restore scope %q", ErrInvalidSnapshot, scope)
		}
	}

	s.stateMu.Lock()
	s.working[spaceID] = current
	s.stateMu.Unlock()
	return current.Clone(), nil
}

type DeleteOptions struct {
	Cascade      bool
	CleanupFiles bool
}

// DeleteVersion removes a version. With Cascade it also removes every
// version whose parent chain passes through it; without, children keep their
// now-dangling parent reference, which history listing tolerates. Protected
// versions, including protected cascade descendants, abort the delete before
// anything is removed.
func (s *Store) DeleteVersion(ctx context.Context, spaceID, versionID string, opts DeleteOptions) error {
	lock := s.spaceLock(spaceID)
	lock.Lock()
	defer lock.Unlock()

	target, err := s.GetVersion(spaceID, versionID)
	if err != nil {
		return err
	}

	doomed := []*Version{target}
	if opts.Cascade {
		doomed = append(doomed, s.descendantsOf(spaceID, versionID)...)
	}
	for _, v := range doomed {
		if v.Protected {
			return fmt.Errorf("%w: %s (version %d)", ErrProtectedVersion, v.ID, v.VersionNumber)
		}
	}

	// children first so a storage failure midway never orphans a record
	// whose ancestor is already gone
	for i := len(doomed) - 1; i >= 0; i-- {
		v := doomed[i]
		if s.persist != nil {
			if err := s.persist.DeleteVersion(ctx, spaceID, v.ID, opts.CleanupFiles); err != nil {
				return fmt.Errorf("%w: delete version %s: %v", ErrStorage, v.ID, err)
			}
		}
		s.stateMu.Lock()
		delete(s.versions, v.ID)
		s.bySpace[spaceID] = withoutVersion(s.bySpace[spaceID], v.ID)
		s.stateMu.Unlock()
	}
	return nil
}

// descendantsOf returns every version whose parent chain passes through
// versionID, in breadth-first order.
func (s *Store) descendantsOf(spaceID, versionID string) []*Version {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	children := make(map[string][]*Version)
	for _, v := range s.bySpace[spaceID] {
		if v.ParentVersionID != "" {
			children[v.ParentVersionID] = append(children[v.ParentVersionID], v)
		}
	}
	var out []*Version
	queue := []string{versionID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

// Prune keeps the most recent keep versions and deletes the rest, oldest
// first, skipping protected versions. Returns how many were deleted.
func (s *Store) Prune(ctx context.Context, spaceID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	recentFirst := s.ListVersions(spaceID, ListOptions{})
	if len(recentFirst) <= keep {
		return 0, nil
	}
	excess := recentFirst[keep:]
	deleted := 0
	for i := len(excess) - 1; i >= 0; i-- {
		v := excess[i]
		if v.Protected {
			continue
		}
		if err := s.DeleteVersion(ctx, spaceID, v.ID, DeleteOptions{CleanupFiles: true}); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Diff computes the structural delta between two versions of a space.
func (s *Store) Diff(spaceID, fromID, toID string) (diff.VersionDiff, error) {
	from, err := s.GetVersion(spaceID, fromID)
	if err != nil {
		return diff.VersionDiff{}, err
	}
	to, err := s.GetVersion(spaceID, toID)
	if err != nil {
		return diff.VersionDiff{}, err
	}
	base, err := from.Snapshot()
	if err != nil {
		return diff.VersionDiff{}, err
	}
	target, err := to.Snapshot()
	if err != nil {
		return diff.VersionDiff{}, err
	}
	return diff.Snapshots(base, target), nil
}

type MergeOptions struct {
	// BaseVersionID pins the merge base explicitly; empty means the nearest
	// common ancestor resolved from the version tree.
	BaseVersionID string
	Resolver      merge.Resolver
}

// MergeVersions three-way merges two versions of a space. Conflicts come
// back as data on the result; the only errors are unresolvable inputs.
func (s *Store) MergeVersions(spaceID, leftID, rightID string, opts MergeOptions) (merge.Result, error) {
	left, err := s.GetVersion(spaceID, leftID)
	if err != nil {
		return merge.Result{}, err
	}
	right, err := s.GetVersion(spaceID, rightID)
	if err != nil {
		return merge.Result{}, err
	}

	var base *Version
	if opts.BaseVersionID != "" {
		base, err = s.GetVersion(spaceID, opts.BaseVersionID)
		if err != nil {
			return merge.Result{}, err
		}
	} else {
		base = s.commonAncestor(left, right)
		if base == nil {
			return merge.Result{}, fmt.Errorf("%w: versions %s and %s share no ancestor", ErrParentNotFound, leftID, rightID)
		}
	}

	baseSnap, err := base.Snapshot()
	if err != nil {
		return merge.Result{}, err
	}
	leftSnap, err := left.Snapshot()
	if err != nil {
		return merge.Result{}, err
	}
	rightSnap, err := right.Snapshot()
	if err != nil {
		return merge.Result{}, err
	}
	return merge.Snapshots(baseSnap, leftSnap, rightSnap, merge.Options{Resolver: opts.Resolver}), nil
}

// commonAncestor walks parent chains to find the nearest version both sides
// descend from (either side itself counts).
func (s *Store) commonAncestor(left, right *Version) *Version {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	ancestors := make(map[string]struct{})
	for v := left; v != nil; {
		ancestors[v.ID] = struct{}{}
		if v.ParentVersionID == "" {
			break
		}
		v = s.versions[v.ParentVersionID]
	}
	for v := right; v != nil; {
		if _, ok := ancestors[v.ID]; ok {
			return v
		}
		if v.ParentVersionID == "" {
			break
		}
		v = s.versions[v.ParentVersionID]
	}
	return nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func hasAnyTag(v *Version, tags []string) bool {
	for _, tag := range tags {
		if v.HasTag(tag) {
			return true
		}
	}
	return false
}

func withoutVersion(versions []*Version, id string) []*Version {
	out := versions[:0]
	for _, v := range versions {
		if v.ID != id {
			out = append(out, v)
		}
	}
	return out
}
