// Package history records the changes made to a file store as git commits,
// one commit per mutation, and reads documents back at older revisions.
//
// It uses go-git, so no git binary is needed.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/tumblehead/pipedb/internal/uri"
)

// ErrNoCommit is returned when a revision cannot be resolved, including when
// the repository has no commit yet.
var ErrNoCommit = errors.New("no such commit")

// maxLog caps the number of commits Log returns.
const maxLog = 1000

// Op names the store operation a commit records.
type Op string

const (
	OpInsert   Op = "insert"
	OpUpdate   Op = "update"
	OpRename   Op = "rename"
	OpDelete   Op = "delete"
	OpTransact Op = "transact"
)

// Change is one mutation of the store. URIs lists the documents it touched;
// a rename lists the source then the destination.
type Change struct {
	Op   Op
	URIs []uri.URI
}

// Subject is the first line of the commit recording c, e.g.
// "rename: entity:/a -> entity:/b".
func (c Change) Subject() string {
	names := make([]string, len(c.URIs))
	for i, u := range c.URIs {
		names[i] = u.String()
	}
	return string(c.Op) + ": " + strings.Join(names, " -> ")
}

// Author identifies who made a change.
type Author struct {
	Name  string
	Email string
}

func (a Author) or(def Author) Author {
	if a.Name == "" {
		a.Name = def.Name
	}
	if a.Email == "" {
		a.Email = def.Email
	}
	return a
}

// Commit is one entry of a document's history.
type Commit struct {
	Hash        string    `json:"hash"`
	Op          Op        `json:"op,omitempty"`
	Message     string    `json:"message"`
	Body        string    `json:"body,omitempty"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"author_email"`
	When        time.Time `json:"when"`
}

func newCommit(c *object.Commit) Commit {
	subject, body, _ := strings.Cut(c.Message, "\n")
	out := Commit{
		Hash:        c.Hash.String(),
		Message:     subject,
		Body:        strings.TrimSpace(body),
		Author:      c.Author.Name,
		AuthorEmail: c.Author.Email,
		When:        c.Author.When,
	}
	if op, _, ok := strings.Cut(subject, ": "); ok {
		out.Op = Op(op)
	}
	return out
}

// Locator returns the slash separated path of a document relative to the
// repository root.
type Locator func(uri.URI) string

// Repo is a git repository whose work tree is the store root.
type Repo struct {
	locate Locator
	author Author
	repo   *gogit.Repository
	mu     sync.Mutex
}

var defaultAuthor = Author{Name: "pipedb", Email: "pipedb@localhost"}

// Open opens the repository at dir, initializing it when missing. locate maps
// documents to their files. author is the committer and the default author.
func Open(dir string, locate Locator, author Author) (*Repo, error) {
	author = author.or(defaultAuthor)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = initRepo(dir, author)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history at %s: %w", dir, err)
	}
	return &Repo{locate: locate, author: author, repo: repo}, nil
}

func initRepo(dir string, author Author) (*gogit.Repository, error) {
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		return nil, err
	}
	cfg, err := repo.Config()
	if err != nil {
		return nil, err
	}
	cfg.User.Name = author.Name
	cfg.User.Email = author.Email
	return repo, repo.SetConfig(cfg)
}

// Record runs fn while holding the repository lock and commits the files of
// the documents named by the Change it returns. Removed files are staged as
// deletions. Nothing is committed when fn fails, names no document or
// leaves the tree as it was.
func (r *Repo) Record(ctx context.Context, author Author, fn func() (Change, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	change, err := fn()
	if err != nil || len(change.URIs) == 0 {
		return err
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, u := range change.URIs {
		if _, err := w.Add(r.locate(u)); err != nil {
			return fmt.Errorf("failed to stage %s: %w", u, err)
		}
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	now := time.Now()
	author = author.or(r.author)
	_, err = w.Commit(change.Subject(), &gogit.CommitOptions{
		Author:    &object.Signature{Name: author.Name, Email: author.Email, When: now},
		Committer: &object.Signature{Name: r.author.Name, Email: r.author.Email, When: now},
	})
	if err != nil {
		return fmt.Errorf("failed to commit %s: %w", change.Subject(), err)
	}
	return nil
}

// Log returns up to n commits that touched u, newest first. n <= 0 means
// maxLog. It fails with ErrNoCommit when nothing was ever recorded.
func (r *Repo) Log(ctx context.Context, u uri.URI, n int) ([]Commit, error) {
	if n <= 0 || n > maxLog {
		n = maxLog
	}
	if _, err := r.repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("%w: history is empty", ErrNoCommit)
		}
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	file := r.locate(u)
	iter, err := r.repo.Log(&gogit.LogOptions{FileName: &file})
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", u, err)
	}
	defer iter.Close()
	var commits []Commit
	for len(commits) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read history of %s: %w", u, err)
		}
		commits = append(commits, newCommit(c))
	}
	return commits, nil
}

// At returns the file content of u as of rev, a commit hash or "HEAD".
func (r *Repo) At(_ context.Context, u uri.URI, rev string) ([]byte, error) {
	c, err := r.resolve(rev)
	if err != nil {
		return nil, err
	}
	f, err := c.File(r.locate(u))
	if err != nil {
		return nil, fmt.Errorf("%s at %s: %w", u, rev, err)
	}
	rd, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at %s: %w", u, rev, err)
	}
	defer func() { _ = rd.Close() }()
	return io.ReadAll(rd)
}

func (r *Repo) resolve(rev string) (*object.Commit, error) {
	h := plumbing.NewHash(rev)
	if rev == "HEAD" {
		ref, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("%w: HEAD: %w", ErrNoCommit, err)
		}
		h = ref.Hash()
	}
	c, err := r.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoCommit, rev, err)
	}
	return c, nil
}
