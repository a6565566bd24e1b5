// Package session manages the lifecycle of the scratch worktree
// used to perform cherry-picks during a merge train run.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/silog"
)

// ErrSessionActive is returned by Acquire when a previous session
// in this process wasn't released before a new one was requested.
var ErrSessionActive = errors.New("a worktree session is already active")

// only one session may be checked out at a time per process.
var active atomic.Bool

// Config controls how a Session is acquired.
type Config struct {
	// LocalRepo, if set, is used as the source repository for a
	// worktree checkout rooted inside a scratch directory under
	// WorkDir. This is the fast path: no network clone required.
	LocalRepo *git.Repository

	// CloneURL is the SSH (or HTTPS) URL to clone when LocalRepo is
	// unset. Used for hosts where no local mirror is configured.
	CloneURL string

	// WorkDir is the parent directory under which scratch checkouts
	// are created. Defaults to os.TempDir().
	WorkDir string

	// Log receives diagnostic messages for worktree/clone operations.
	Log *silog.Logger
}

// Session is a temporary scratch checkout of a target branch,
// isolated from the operator's own working directory.
//
// At most one Session may be active per process; call Release
// before acquiring another.
type Session struct {
	repo   *git.Repository
	wt     *git.Worktree
	branch string

	// cloneDir is set when the session was acquired via a fresh
	// clone rather than a worktree on LocalRepo; Release removes it
	// instead of (or in addition to) the worktree.
	cloneDir string

	// ourBranch is true if Acquire created the branch for this
	// session, meaning Release should delete it too.
	ourBranch bool

	released atomic.Bool
}

// Acquire creates a scratch checkout of targetBranch and returns a
// handle to it. Returns [ErrSessionActive] if a session acquired
// earlier in this process hasn't been released yet.
func Acquire(ctx context.Context, cfg Config, targetBranch string) (*Session, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}

	sess, err := acquire(ctx, cfg, targetBranch)
	if err != nil {
		active.Store(false)
		return nil, err
	}
	return sess, nil
}

func acquire(ctx context.Context, cfg Config, targetBranch string) (*Session, error) {
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	if cfg.LocalRepo != nil {
		path := filepath.Join(workDir, scratchName())
		scratchBranch := "mergers-session-" + scratchSuffix()

		wt, err := cfg.LocalRepo.AddWorktree(ctx, git.AddWorktreeRequest{
			Path:      path,
			Branch:    scratchBranch,
			Commitish: targetBranch,
		})
		if err != nil {
			if errors.Is(err, git.ErrWorktreeExists) {
				return nil, fmt.Errorf("acquire session: %w", git.ErrWorktreeExists)
			}
			return nil, fmt.Errorf("add worktree for %q: %w", targetBranch, err)
		}

		return &Session{
			repo:      cfg.LocalRepo,
			wt:        wt,
			branch:    scratchBranch,
			ourBranch: true,
		}, nil
	}

	if cfg.CloneURL == "" {
		return nil, errors.New("session: one of LocalRepo or CloneURL must be set")
	}

	path := filepath.Join(workDir, scratchName())
	repo, err := git.Clone(ctx, cfg.CloneURL, path, git.CloneOptions{
		Log:    cfg.Log,
		Branch: targetBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %q: %w", cfg.CloneURL, err)
	}

	wt, err := repo.OpenWorktree(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open cloned worktree: %w", err)
	}

	return &Session{
		repo:     repo,
		wt:       wt,
		branch:   targetBranch,
		cloneDir: path,
	}, nil
}

// Path returns the filesystem path of the scratch checkout.
// It is valid until Release is called.
func (s *Session) Path() string {
	return s.wt.RootDir()
}

// Worktree returns the git worktree backing this session, for
// performing cherry-picks and other working-tree operations.
func (s *Session) Worktree() *git.Worktree {
	return s.wt
}

// Release tears down the session: removes the worktree (and the
// branch it created, if any), or deletes the clone directory.
//
// Release is idempotent; calling it more than once is a no-op after
// the first call.
func (s *Session) Release(ctx context.Context) error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	defer active.Store(false)

	if s.cloneDir != "" {
		if err := os.RemoveAll(s.cloneDir); err != nil {
			return fmt.Errorf("remove clone directory: %w", err)
		}
		return nil
	}

	if err := s.repo.RemoveWorktree(ctx, s.wt.RootDir(), true /* force */); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}

	if s.ourBranch {
		if err := s.repo.DeleteBranch(ctx, s.branch, git.BranchDeleteOptions{Force: true}); err != nil {
			return fmt.Errorf("delete session branch %q: %w", s.branch, err)
		}
	}

	return nil
}

// Run acquires a session for targetBranch, invokes fn with it, and
// guarantees Release runs before returning — including when fn
// panics. The panic, if any, is re-raised after cleanup so callers
// observe normal Go panic semantics.
func Run(ctx context.Context, cfg Config, targetBranch string, fn func(*Session) error) (err error) {
	sess, err := Acquire(ctx, cfg, targetBranch)
	if err != nil {
		return err
	}

	defer func() {
		releaseErr := sess.Release(ctx)
		if r := recover(); r != nil {
			panic(r)
		}
		if err == nil {
			err = releaseErr
		}
	}()

	return fn(sess)
}

func scratchName() string {
	return "mergers-session-" + scratchSuffix()
}

func scratchSuffix() string {
	return fmt.Sprintf("%x", rand.Int63())
}
