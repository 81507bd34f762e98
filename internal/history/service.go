// Package history keeps every incident report's narrative in a per-report
// git repository, so each edit becomes a commit and the full revision trail
// can be read back by hash.
package history

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

	"github.com/sulaimanQasimi/cid-sub001/internal/store"
)

// Narrative is the versioned portion of an incident report.
type Narrative struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	IncidentDetails string `json:"incidentDetails"`
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

// EnsureReportRepo initializes the report's repository with a baseline
// commit. Existing repositories are left untouched.
func (s *Service) EnsureReportRepo(reportID string, initial Narrative, author string) error {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(reportID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal initial narrative: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "narrative.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial narrative: %w", err)
	}
	if _, err := worktree.Add("narrative.json"); err != nil {
		return fmt.Errorf("git add initial narrative: %w", err)
	}
	hash, err := worktree.Commit("Open incident report", &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial narrative: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitNarrative records a new revision of the report narrative.
func (s *Service) CommitNarrative(reportID string, narrative Narrative, author, message string) (store.CommitInfo, error) {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(reportID))
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(narrative, "", "  ")
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("marshal narrative: %w", err)
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "narrative.json"), append(payload, '\n'), 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write narrative.json: %w", err)
	}
	if _, err := worktree.Add("narrative.json"); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git add narrative: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: signature(author),
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit narrative: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// Head returns the latest narrative and its commit.
func (s *Service) Head(reportID string) (Narrative, store.CommitInfo, error) {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(reportID))
	if err != nil {
		return Narrative{}, store.CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Narrative{}, store.CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Narrative{}, store.CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	narrative, err := readNarrativeFromCommit(commitObj)
	if err != nil {
		return Narrative{}, store.CommitInfo{}, err
	}
	return narrative, toCommitInfo(commitObj), nil
}

// GetNarrativeByHash returns the narrative as of the given revision.
func (s *Service) GetNarrativeByHash(reportID, hash string) (Narrative, error) {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(reportID))
	if err != nil {
		return Narrative{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Narrative{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Narrative{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readNarrativeFromCommit(commitObj)
}

// History lists the report's revisions, newest first.
func (s *Service) History(reportID string, limit int) ([]store.CommitInfo, error) {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(reportID))
	if err != nil {
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

	items := make([]store.CommitInfo, 0, limit)
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

// HasChanges reports whether two narratives differ.
func HasChanges(from, to Narrative) bool {
	return from.Title != to.Title ||
		from.Summary != to.Summary ||
		from.IncidentDetails != to.IncidentDetails
}

func (s *Service) repoPath(reportID string) string {
	return filepath.Join(s.baseDir, reportID)
}

func (s *Service) reportLock(reportID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[reportID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[reportID] = lock
	return lock
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@records.cid.local", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func readNarrativeFromCommit(commitObj *object.Commit) (Narrative, error) {
	file, err := commitObj.File("narrative.json")
	if err != nil {
		return Narrative{}, fmt.Errorf("load narrative.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Narrative{}, fmt.Errorf("open narrative reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Narrative{}, fmt.Errorf("read narrative bytes: %w", err)
	}

	var narrative Narrative
	if err := json.Unmarshal(raw, &narrative); err != nil {
		return Narrative{}, fmt.Errorf("decode commit narrative: %w", err)
	}
	return narrative, nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
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
