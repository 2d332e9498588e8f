// Package history keeps a git repository per workspace and commits a
// snapshot of the workspace every time it is saved.
package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/jonboulle/clockwork"

	"canvas/api/internal/workspace"
)

const snapshotFile = "workspace.json"

var (
	// ErrNoHistory is returned for a workspace that was never committed.
	ErrNoHistory = errors.New("no history for workspace")
	// ErrInvalidID rejects ids that cannot be used as a directory name.
	ErrInvalidID = errors.New("invalid workspace id")

	validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Snapshot is the content stored in each commit.
type Snapshot struct {
	Name     string             `json:"name"`
	Icon     string             `json:"icon"`
	Document workspace.Document `json:"document"`
}

// Commit describes one entry of a workspace's history.
type Commit struct {
	Hash      string `json:"hash"`
	Message   string `json:"message"`
	Author    string `json:"author"`
	CreatedAt int64  `json:"createdAt"`
}

type Service struct {
	baseDir string
	clock   clockwork.Clock
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		baseDir: baseDir,
		clock:   clock,
		locks:   make(map[string]*sync.Mutex),
	}
}

// SnapshotOf extracts the committed content of ws.
func SnapshotOf(ws workspace.Workspace) Snapshot {
	return Snapshot{Name: ws.Name, Icon: ws.Icon, Document: ws.Document()}
}

// Record commits the current state of ws. The repository is created on first
// use. When nothing changed since the last commit it returns created=false.
func (s *Service) Record(ws workspace.Workspace, author, message string) (Commit, bool, error) {
	path, err := s.repoPath(ws.ID)
	if err != nil {
		return Commit{}, false, err
	}
	lock := s.workspaceLock(ws.ID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return Commit{}, false, err
	}

	payload, err := json.MarshalIndent(SnapshotOf(ws), "", "  ")
	if err != nil {
		return Commit{}, false, fmt.Errorf("marshal snapshot: %w", err)
	}
	payload = append(payload, '\n')

	if head, err := headCommit(repo); err == nil {
		previous, err := readFile(head)
		if err != nil {
			return Commit{}, false, err
		}
		if bytes.Equal(previous, payload) {
			return toCommit(head), false, nil
		}
	} else if !errors.Is(err, ErrNoHistory) {
		return Commit{}, false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), payload, 0o644); err != nil {
		return Commit{}, false, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Commit{}, false, fmt.Errorf("git add snapshot: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: authorEmail(author),
			When:  s.clock.Now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// History lists commits newest first. limit <= 0 means no limit.
func (s *Service) History(workspaceID string, limit int) ([]Commit, error) {
	path, err := s.repoPath(workspaceID)
	if err != nil {
		return nil, err
	}
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := open(path)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0, max(limit, 0))
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot returns the content committed at hash (full or abbreviated).
func (s *Service) Snapshot(workspaceID, hash string) (Snapshot, error) {
	path, err := s.repoPath(workspaceID)
	if err != nil {
		return Snapshot{}, err
	}
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := open(path)
	if err != nil {
		return Snapshot{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	raw, err := readFile(commitObj)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Remove deletes the repository of a workspace. Missing repositories are
// not an error.
func (s *Service) Remove(workspaceID string) error {
	path, err := s.repoPath(workspaceID)
	if err != nil {
		return err
	}
	lock := s.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) repoPath(workspaceID string) (string, error) {
	if !validID.MatchString(workspaceID) || strings.Contains(workspaceID, "..") {
		return "", ErrInvalidID
	}
	return filepath.Join(s.baseDir, workspaceID), nil
}

func (s *Service) workspaceLock(workspaceID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[workspaceID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[workspaceID] = lock
	return lock
}

func open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := open(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readFile(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When.UnixMilli(),
	}
}

func authorEmail(author string) string {
	if strings.Contains(author, "@") {
		return author
	}
	local := make([]rune, 0, len(author))
	for _, r := range author {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			local = append(local, r)
		case r == ' ' || r == '-' || r == '_':
			local = append(local, '.')
		}
	}
	if len(local) == 0 {
		return "user@canvas.local"
	}
	return string(local) + "@canvas.local"
}
