package revision

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const snapshotFile = "article.json"

var (
	ErrNoChanges      = errors.New("snapshot matches the latest version")
	ErrNoHistory      = errors.New("article has no recorded versions")
	ErrInvalidArticle = errors.New("invalid article id")
	ErrVersionUnknown = errors.New("version not found")
)

// Snapshot is the versioned part of an article.
type Snapshot struct {
	Title           string   `json:"title"`
	Excerpt         string   `json:"excerpt"`
	Content         string   `json:"content"`
	CategoryID      string   `json:"categoryId"`
	Tags            []string `json:"tags"`
	MetaTitle       string   `json:"metaTitle"`
	MetaDescription string   `json:"metaDescription"`
	CoverImageURL   string   `json:"coverImageUrl"`
}

type Version struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"shortHash"`
	Number    int       `json:"number"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Service keeps one git repository per article under baseDir.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Commit records snapshot as the next version of the article, creating the
// repository on first use. It returns ErrNoChanges when nothing differs from
// the latest version.
func (s *Service) Commit(articleID string, snapshot Snapshot, author, message string) (Version, error) {
	path, err := s.repoPath(articleID)
	if err != nil {
		return Version{}, err
	}
	lock := s.articleLock(articleID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return Version{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Version{}, fmt.Errorf("open worktree: %w", err)
	}

	if snapshot.Tags == nil {
		snapshot.Tags = []string{}
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Version{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return Version{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return Version{}, fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return Version{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return Version{}, ErrNoChanges
	}

	if strings.TrimSpace(message) == "" {
		message = "Update article"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@users.quill.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Version{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Version{}, fmt.Errorf("read commit object: %w", err)
	}
	total, err := countCommits(repo, hash)
	if err != nil {
		return Version{}, err
	}
	return toVersion(commitObj, total), nil
}

// History lists versions newest first. A non-positive limit returns all of them.
func (s *Service) History(articleID string, limit int) ([]Version, error) {
	path, err := s.repoPath(articleID)
	if err != nil {
		return nil, err
	}
	lock := s.articleLock(articleID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Version{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return []Version{}, nil
		}
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	total, err := countCommits(repo, head.Hash())
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Version, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toVersion(commitObj, total-len(items)))
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

// Get loads the snapshot recorded at hash.
func (s *Service) Get(articleID, hash string) (Snapshot, Version, error) {
	path, err := s.repoPath(articleID)
	if err != nil {
		return Snapshot{}, Version{}, err
	}
	lock := s.articleLock(articleID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Snapshot{}, Version{}, ErrNoHistory
	}
	if err != nil {
		return Snapshot{}, Version{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, Version{}, fmt.Errorf("%w: %v", ErrVersionUnknown, err)
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Snapshot{}, Version{}, fmt.Errorf("%w: %s", ErrVersionUnknown, hash)
	}
	snapshot, err := readSnapshot(commitObj)
	if err != nil {
		return Snapshot{}, Version{}, err
	}
	number, err := countCommits(repo, resolved)
	if err != nil {
		return Snapshot{}, Version{}, err
	}
	return snapshot, toVersion(commitObj, number), nil
}

// Remove deletes the article's history.
func (s *Service) Remove(articleID string) error {
	path, err := s.repoPath(articleID)
	if err != nil {
		return err
	}
	lock := s.articleLock(articleID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

// Diff reports which versioned fields differ between two snapshots, sorted by field.
func Diff(from, to Snapshot) []FieldChange {
	pairs := []FieldChange{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "excerpt", Before: from.Excerpt, After: to.Excerpt},
		{Field: "content", Before: from.Content, After: to.Content},
		{Field: "categoryId", Before: from.CategoryID, After: to.CategoryID},
		{Field: "tags", Before: strings.Join(from.Tags, ", "), After: strings.Join(to.Tags, ", ")},
		{Field: "metaTitle", Before: from.MetaTitle, After: to.MetaTitle},
		{Field: "metaDescription", Before: from.MetaDescription, After: to.MetaDescription},
		{Field: "coverImageUrl", Before: from.CoverImageURL, After: to.CoverImageURL},
	}
	changes := make([]FieldChange, 0)
	for _, pair := range pairs {
		if pair.Before != pair.After {
			changes = append(changes, pair)
		}
	}
	slices.SortStableFunc(changes, func(a, b FieldChange) int { return strings.Compare(a.Field, b.Field) })
	return changes
}

func HasChanges(from, to Snapshot) bool {
	return len(Diff(from, to)) > 0
}

func (s *Service) repoPath(articleID string) (string, error) {
	if articleID == "" || articleID != filepath.Base(articleID) || strings.HasPrefix(articleID, ".") {
		return "", ErrInvalidArticle
	}
	return filepath.Join(s.baseDir, articleID), nil
}

func (s *Service) articleLock(articleID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[articleID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[articleID] = lock
	return lock
}

func openOrInit(path string) (*git.Repository, error) {
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
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func countCommits(repo *git.Repository, from plumbing.Hash) (int, error) {
	iter, err := repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return 0, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()
	total := 0
	if err := iter.ForEach(func(*object.Commit) error {
		total++
		return nil
	}); err != nil {
		return 0, fmt.Errorf("count commits: %w", err)
	}
	return total, nil
}

func readSnapshot(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot from commit: %w", err)
	}
	contents, err := file.Contents()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(contents), &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func toVersion(commitObj *object.Commit, number int) Version {
	hash := commitObj.Hash.String()
	return Version{
		Hash:      hash,
		ShortHash: hash[:7],
		Number:    number,
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' {
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
