package cherrypick_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mergers.dev/mergers/internal/cherrypick"
	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/silog/silogtest"
)

// fakeRepo is a hand-rolled stand-in for [cherrypick.GitRepository].
type fakeRepo struct {
	pickErr     map[git.Hash]error
	continueErr error
	skipErr     error
	abortErr    error

	picked    []git.Hash
	continued int
	skipped   int
	aborted   int
}

func (f *fakeRepo) CherryPick(_ context.Context, req git.CherryPickRequest) error {
	f.picked = append(f.picked, req.Commits[0])
	if f.pickErr != nil {
		return f.pickErr[req.Commits[0]]
	}
	return nil
}

func (f *fakeRepo) CherryPickContinue(context.Context) error {
	f.continued++
	return f.continueErr
}

func (f *fakeRepo) CherryPickSkip(context.Context) error {
	f.skipped++
	return f.skipErr
}

func (f *fakeRepo) CherryPickAbort(context.Context) error {
	f.aborted++
	return f.abortErr
}

// fakeWorktree is a hand-rolled stand-in for [cherrypick.GitWorktree].
// unmerged is consulted fresh on every call so tests can mutate it
// in place to simulate an operator resolving a conflict.
type fakeWorktree struct {
	unmerged []string
}

func (f *fakeWorktree) DiffWork(context.Context) iter.Seq2[git.FileStatus, error] {
	return func(yield func(git.FileStatus, error) bool) {
		for _, path := range f.unmerged {
			if !yield(git.FileStatus{Status: string(git.FileUnmerged), Path: path}, nil) {
				return
			}
		}
	}
}

// fakeHooks records every trigger it was asked to run.
type fakeHooks struct {
	ran []string
	err error
}

func (f *fakeHooks) Run(_ context.Context, trigger string, _ map[string]string) error {
	f.ran = append(f.ran, trigger)
	return f.err
}

func closedAt(offset time.Duration) time.Time {
	return time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

func TestEngine_Run_allSucceed(t *testing.T) {
	repo := &fakeRepo{}
	wt := &fakeWorktree{}
	hooks := &fakeHooks{}
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: repo,
		Worktree:   wt,
		Hooks:      hooks,
	}

	items := []*cherrypick.Item{
		{PRID: 2, CommitID: "cccccccccccccccccccccccccccccccccccccccc", ClosedAt: closedAt(2 * time.Hour)},
		{PRID: 1, CommitID: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", ClosedAt: closedAt(time.Hour)},
	}

	var events []cherrypick.Event
	err := eng.Run(t.Context(), items, func(ev cherrypick.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.False(t, eng.Paused())

	// Sorted by closed-at: PR 1 before PR 2.
	require.Len(t, repo.picked, 2)
	assert.Equal(t, git.Hash("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), repo.picked[0])
	assert.Equal(t, git.Hash("cccccccccccccccccccccccccccccccccccccccc"), repo.picked[1])

	assert.Equal(t, cherrypick.Success, items[0].State)
	assert.Equal(t, cherrypick.Success, items[1].State)

	require.NotEmpty(t, events)
	assert.Equal(t, cherrypick.EventStarting, events[0].Kind)
	assert.Equal(t, 2, events[0].Total)

	last := events[len(events)-1]
	assert.Equal(t, cherrypick.EventAllComplete, last.Kind)
	assert.Equal(t, 2, last.SuccessCount)
	assert.Equal(t, 0, last.FailedCount)

	assert.Equal(t, []string{"post_cherry_pick", "post_cherry_pick"}, hooks.ran)
}

func TestEngine_Run_noMergeCommit(t *testing.T) {
	repo := &fakeRepo{}
	wt := &fakeWorktree{}
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: repo,
		Worktree:   wt,
	}

	items := []*cherrypick.Item{
		{PRID: 1, ClosedAt: closedAt(0)},
	}

	var events []cherrypick.Event
	err := eng.Run(t.Context(), items, func(ev cherrypick.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	assert.Empty(t, repo.picked, "no merge commit means git is never touched")
	assert.Equal(t, cherrypick.Failed, items[0].State)
	assert.Equal(t, "no merge commit", items[0].FailReason)
}

func TestEngine_Run_environmentalFailure(t *testing.T) {
	commit := git.Hash("dddddddddddddddddddddddddddddddddddddddd")
	repo := &fakeRepo{
		pickErr: map[git.Hash]error{commit: errors.New("disk full")},
	}
	wt := &fakeWorktree{} // no unmerged files: not a conflict
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: repo,
		Worktree:   wt,
	}

	items := []*cherrypick.Item{
		{PRID: 1, CommitID: commit, ClosedAt: closedAt(0)},
	}

	err := eng.Run(t.Context(), items, nil)
	require.NoError(t, err)
	assert.False(t, eng.Paused())
	assert.Equal(t, cherrypick.Failed, items[0].State)
	assert.Equal(t, "disk full", items[0].FailReason)
}

func TestEngine_Run_conflictResumeClean(t *testing.T) {
	commit := git.Hash("eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	repo := &fakeRepo{
		pickErr: map[git.Hash]error{
			commit: &git.CherryPickInterruptedError{Commit: commit, Err: errors.New("conflict")},
		},
	}
	wt := &fakeWorktree{unmerged: []string{"b.txt", "a.txt"}}
	hooks := &fakeHooks{}
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: repo,
		Worktree:   wt,
		Hooks:      hooks,
	}

	items := []*cherrypick.Item{
		{PRID: 7, CommitID: commit, ClosedAt: closedAt(0)},
	}

	var events []cherrypick.Event
	err := eng.Run(t.Context(), items, func(ev cherrypick.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.True(t, eng.Paused())
	assert.Equal(t, cherrypick.Conflict, items[0].State)
	assert.Equal(t, []string{"a.txt", "b.txt"}, items[0].ConflictFiles)

	paused := events[len(events)-1]
	assert.Equal(t, cherrypick.EventConflictPaused, paused.Kind)
	assert.Equal(t, []string{"a.txt", "b.txt"}, paused.Files)
	assert.Contains(t, hooks.ran, "on_conflict")

	// Operator resolves the conflict; worktree reports clean.
	wt.unmerged = nil
	events = nil
	err = eng.Resume(t.Context(), func(ev cherrypick.Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	assert.False(t, eng.Paused())
	assert.Equal(t, 1, repo.continued)
	assert.Equal(t, cherrypick.Success, items[0].State)

	last := events[len(events)-1]
	assert.Equal(t, cherrypick.EventAllComplete, last.Kind)
	assert.Equal(t, 1, last.SuccessCount)
}

func TestEngine_Resume_stillConflicted(t *testing.T) {
	commit := git.Hash("ffffffffffffffffffffffffffffffffffffffff")
	repo := &fakeRepo{
		pickErr: map[git.Hash]error{
			commit: &git.CherryPickInterruptedError{Commit: commit, Err: errors.New("conflict")},
		},
	}
	wt := &fakeWorktree{unmerged: []string{"a.txt"}}
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: repo,
		Worktree:   wt,
	}

	items := []*cherrypick.Item{{PRID: 1, CommitID: commit, ClosedAt: closedAt(0)}}
	require.NoError(t, eng.Run(t.Context(), items, nil))
	require.True(t, eng.Paused())

	require.NoError(t, eng.Resume(t.Context(), nil))
	assert.True(t, eng.Paused(), "must remain paused while files are still unmerged")
	assert.Equal(t, 0, repo.continued, "must not attempt --continue while conflicted")
	assert.Equal(t, cherrypick.Conflict, items[0].State)
}

func TestEngine_Skip(t *testing.T) {
	commit := git.Hash("1111111111111111111111111111111111111111")
	repo := &fakeRepo{
		pickErr: map[git.Hash]error{
			commit: &git.CherryPickInterruptedError{Commit: commit, Err: errors.New("conflict")},
		},
	}
	wt := &fakeWorktree{unmerged: []string{"a.txt"}}
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: repo,
		Worktree:   wt,
	}

	items := []*cherrypick.Item{
		{PRID: 1, CommitID: commit, ClosedAt: closedAt(0)},
		{PRID: 2, CommitID: "2222222222222222222222222222222222222222", ClosedAt: closedAt(time.Hour)},
	}
	require.NoError(t, eng.Run(t.Context(), items, nil))
	require.True(t, eng.Paused())

	require.NoError(t, eng.Skip(t.Context(), nil))
	assert.False(t, eng.Paused())
	assert.Equal(t, 1, repo.skipped)
	assert.Equal(t, cherrypick.Failed, items[0].State)
	assert.Equal(t, "skipped", items[0].FailReason)

	// Sequencer advanced to the next item.
	assert.Equal(t, cherrypick.Success, items[1].State)
}

func TestEngine_Abort(t *testing.T) {
	commit := git.Hash("3333333333333333333333333333333333333333")
	repo := &fakeRepo{
		pickErr: map[git.Hash]error{
			commit: &git.CherryPickInterruptedError{Commit: commit, Err: errors.New("conflict")},
		},
	}
	wt := &fakeWorktree{unmerged: []string{"a.txt"}}
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: repo,
		Worktree:   wt,
	}

	items := []*cherrypick.Item{
		{PRID: 1, CommitID: commit, ClosedAt: closedAt(0)},
		{PRID: 2, CommitID: "4444444444444444444444444444444444444444", ClosedAt: closedAt(time.Hour)},
	}
	require.NoError(t, eng.Run(t.Context(), items, nil))
	require.True(t, eng.Paused())

	require.NoError(t, eng.Abort(t.Context()))
	assert.False(t, eng.Paused())
	assert.Equal(t, 1, repo.aborted)
	assert.Equal(t, cherrypick.Failed, items[0].State)
	assert.Equal(t, "aborted", items[0].FailReason)

	// The sequencer halted: the remaining item was never touched.
	assert.Equal(t, cherrypick.Pending, items[1].State)
	assert.Empty(t, repo.picked)
}

func TestEngine_Resume_withoutPause(t *testing.T) {
	eng := &cherrypick.Engine{
		Log:        silogtest.New(t),
		Repository: &fakeRepo{},
		Worktree:   &fakeWorktree{},
	}
	assert.ErrorIs(t, eng.Resume(t.Context(), nil), cherrypick.ErrNoPausedConflict)
	assert.ErrorIs(t, eng.Skip(t.Context(), nil), cherrypick.ErrNoPausedConflict)
	assert.ErrorIs(t, eng.Abort(t.Context()), cherrypick.ErrNoPausedConflict)
}
