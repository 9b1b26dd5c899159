// Package mirror maintains an auditable git mirror of version history: one
// repository per space, one commit per committed version, tagged v<number>.
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"spaceforge/api/internal/space"
)

const snapshotFile = "snapshot.json"

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordVersion commits the snapshot on main and tags it v<versionNumber>.
// The mirror is write-behind: failures here must not fail the version commit,
// so callers log and continue.
func (s *Service) RecordVersion(spaceID string, versionNumber int, description string, snap *space.Snapshot) (CommitInfo, error) {
	lock := s.spaceLock(spaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(spaceID)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	message := fmt.Sprintf("Version %d", versionNumber)
	if description != "" {
		message = fmt.Sprintf("Version %d: %s", versionNumber, description)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	tag := fmt.Sprintf("v%d", versionNumber)
	if _, err := repo.CreateTag(tag, hash, &git.CreateTagOptions{
		Tagger:  signature(),
		Message: tag,
	}); err != nil && !errors.Is(err, git.ErrTagExists) {
		return CommitInfo{}, fmt.Errorf("tag version: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists the mirror's commits, most recent first.
func (s *Service) History(spaceID string, limit int) ([]CommitInfo, error) {
	lock := s.spaceLock(spaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(spaceID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []CommitInfo{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt reads the snapshot committed for a version tag.
func (s *Service) SnapshotAt(spaceID string, versionNumber int) (*space.Snapshot, error) {
	lock := s.spaceLock(spaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(spaceID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	tag := fmt.Sprintf("v%d", versionNumber)
	hash, err := repo.ResolveRevision(plumbing.Revision(tag))
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", tag, err)
	}
	commitObj, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", tag, err)
	}

	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read snapshot bytes: %w", err)
	}
	var snap space.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Service) ensureRepo(spaceID string) (*git.Repository, error) {
	path := s.repoPath(spaceID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), []byte("{}\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write initial snapshot: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return nil, fmt.Errorf("git add initial snapshot: %w", err)
	}
	hash, err := worktree.Commit("Initialize space mirror", &git.CommitOptions{Author: signature()})
	if err != nil {
		return nil, fmt.Errorf("commit initial snapshot: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(spaceID string) string {
	return filepath.Join(s.baseDir, spaceID)
}

func (s *Service) spaceLock(spaceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[spaceID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[spaceID] = lock
	return lock
}

func signature() *object.Signature {
	return &object.Signature{
		Name:  "Spaceforge",
		Email: "spaceforge@localhost",
		When:  time.Now(),
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		CreatedAt: commitObj.Author.When,
	}
}
