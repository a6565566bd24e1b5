// Package cherrypick implements the per-item state machine and sequencer
// that drives cherry-picking a chronologically ordered set of pull
// requests onto a worktree, pausing for operator input on conflicts.
package cherrypick

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"time"

	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/silog"
)

// State is the state of a single cherry-pick item.
type State int

// Item states, per the Pending -> InProgress -> {Success, Conflict, Failed}
// transition table.
const (
	Pending State = iota
	InProgress
	Success
	Conflict
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InProgress:
		return "in_progress"
	case Success:
		return "success"
	case Conflict:
		return "conflict"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Item is a single pull request queued for cherry-pick.
type Item struct {
	// PRID identifies the pull request this item cherry-picks.
	PRID int64

	// CommitID is the merge commit to cherry-pick.
	// Empty means the PR had no merge commit; the item is immediately
	// Failed without ever touching git.
	CommitID git.Hash

	// Mainline is the parent number to diff against when CommitID is a
	// merge commit, passed through to [git.CherryPickRequest.Mainline].
	Mainline int

	// ClosedAt orders items within the sequencer.
	ClosedAt time.Time

	// State is the item's current state.
	State State

	// FailReason explains a Failed state. Empty otherwise.
	FailReason string

	// ConflictFiles holds the unmerged paths reported by Git while
	// this item is Conflict.
	ConflictFiles []string
}

// EventKind identifies the kind of progress event emitted while the
// sequencer runs.
type EventKind int

const (
	EventStarting EventKind = iota
	EventItemStarting
	EventItemCompleted
	EventConflictPaused
	EventConflictResumed
	EventAllComplete
)

// Event is a progress notification delivered to the caller-supplied
// [EventFunc] while the sequencer runs.
type Event struct {
	Kind EventKind

	// Total is set on EventStarting: the number of items in the run.
	Total int

	// Index and PRID are set on EventItemStarting, EventItemCompleted,
	// EventConflictPaused, and EventConflictResumed.
	Index int
	PRID  int64

	// State is set on EventItemCompleted: the item's terminal state
	// for this pass (Success or Failed; Conflict never completes).
	State State

	// Files is set on EventConflictPaused: the conflicted paths.
	Files []string

	// SuccessCount and FailedCount are set on EventAllComplete.
	SuccessCount int
	FailedCount  int
}

// EventFunc receives progress notifications from [Engine.Run] and the
// resume/skip methods. It may be nil.
type EventFunc func(Event)

// GitRepository is the subset of [git.Repository] the engine needs.
type GitRepository interface {
	CherryPick(ctx context.Context, req git.CherryPickRequest) error
	CherryPickContinue(ctx context.Context) error
	CherryPickSkip(ctx context.Context) error
	CherryPickAbort(ctx context.Context) error
}

var _ GitRepository = (*git.Repository)(nil)

// GitWorktree is the subset of [git.Worktree] the engine needs to
// enumerate unmerged paths while paused on a conflict.
type GitWorktree interface {
	DiffWork(ctx context.Context) iter.Seq2[git.FileStatus, error]
}

var _ GitWorktree = (*git.Worktree)(nil)

// HookRunner runs the post_cherry_pick and on_conflict hooks.
// Implemented by [go.mergers.dev/mergers/internal/hooks.Runtime].
type HookRunner interface {
	Run(ctx context.Context, trigger string, env map[string]string) error
}

// ErrNoPausedConflict is returned by [Engine.Resume], [Engine.Skip], and
// [Engine.Abort] when the engine isn't currently paused on a conflict.
var ErrNoPausedConflict = errors.New("cherrypick: no paused conflict")

// Engine drives the cherry-pick sequencer over an ordered list of items.
//
// Engine is not safe for concurrent use: the sequencer pauses in place
// on a conflict and expects a single operator (or C5's conflict broker)
// to call Resume, Skip, or Abort before any other method.
type Engine struct {
	Log        *silog.Logger // required
	Repository GitRepository // required
	Worktree   GitWorktree   // required
	Hooks      HookRunner    // optional; nil disables hook execution

	items  []*Item
	pos    int
	paused bool
	halted bool
}

// Run sorts items by closed-at (ties by pr_id) and drives the sequencer
// from the beginning. It returns once every item has reached a terminal
// state, or once the sequencer pauses on a conflict — in which case
// Resume, Skip, or Abort must be called before Run may be called again.
func (e *Engine) Run(ctx context.Context, items []*Item, emit EventFunc) error {
	if e.paused {
		return errors.New("cherrypick: engine has a paused conflict; call Resume, Skip, or Abort first")
	}

	sortItems(items)
	e.items = items
	e.pos = 0
	e.halted = false

	e.notify(emit, Event{Kind: EventStarting, Total: len(items)})
	return e.runLoop(ctx, emit)
}

// Paused reports whether the sequencer is currently paused on a conflict.
func (e *Engine) Paused() bool { return e.paused }

// ConflictFiles re-inspects the worktree and returns the unmerged paths
// of the currently paused item. It has no side effects, so an operator
// may call it repeatedly while deciding what to do.
func (e *Engine) ConflictFiles(ctx context.Context) ([]string, error) {
	if !e.paused {
		return nil, ErrNoPausedConflict
	}
	return e.unmergedFiles(ctx)
}

// Resume re-inspects the worktree. If no conflicts remain, it continues
// the cherry-pick and, on success, resumes the sequencer. If conflicts
// remain, the engine stays paused and the item's ConflictFiles is
// refreshed.
func (e *Engine) Resume(ctx context.Context, emit EventFunc) error {
	if !e.paused {
		return ErrNoPausedConflict
	}

	item := e.items[e.pos]

	files, err := e.unmergedFiles(ctx)
	if err != nil {
		return fmt.Errorf("inspect worktree: %w", err)
	}
	if len(files) > 0 {
		item.ConflictFiles = files
		return nil
	}

	if err := e.Repository.CherryPickContinue(ctx); err != nil {
		return e.classifyFailure(ctx, emit, item, err)
	}

	item.State = Success
	e.notify(emit, Event{Kind: EventConflictResumed, Index: e.pos, PRID: item.PRID})
	e.runHook(ctx, "post_cherry_pick", item)
	e.notify(emit, Event{Kind: EventItemCompleted, Index: e.pos, PRID: item.PRID, State: Success})

	e.paused = false
	e.pos++
	return e.runLoop(ctx, emit)
}

// Skip records the paused item as Failed("skipped") and advances the
// sequencer.
func (e *Engine) Skip(ctx context.Context, emit EventFunc) error {
	if !e.paused {
		return ErrNoPausedConflict
	}

	item := e.items[e.pos]
	if err := e.Repository.CherryPickSkip(ctx); err != nil {
		return fmt.Errorf("skip cherry-pick: %w", err)
	}

	item.State = Failed
	item.FailReason = "skipped"
	e.notify(emit, Event{Kind: EventItemCompleted, Index: e.pos, PRID: item.PRID, State: Failed})

	e.paused = false
	e.pos++
	return e.runLoop(ctx, emit)
}

// Abort tears down the in-progress cherry-pick, records the paused item
// as Failed("aborted"), and halts the sequencer. All remaining items
// stay Pending.
func (e *Engine) Abort(ctx context.Context) error {
	if !e.paused {
		return ErrNoPausedConflict
	}

	item := e.items[e.pos]
	if err := e.Repository.CherryPickAbort(ctx); err != nil {
		return fmt.Errorf("abort cherry-pick: %w", err)
	}

	item.State = Failed
	item.FailReason = "aborted"
	e.paused = false
	e.halted = true
	return nil
}

func (e *Engine) runLoop(ctx context.Context, emit EventFunc) error {
	for e.pos < len(e.items) {
		if e.halted {
			return nil
		}

		item := e.items[e.pos]

		if item.CommitID == "" {
			item.State = Failed
			item.FailReason = "no merge commit"
			e.notify(emit, Event{Kind: EventItemCompleted, Index: e.pos, PRID: item.PRID, State: Failed})
			e.pos++
			continue
		}

		item.State = InProgress
		e.notify(emit, Event{Kind: EventItemStarting, Index: e.pos, PRID: item.PRID})

		err := e.Repository.CherryPick(ctx, git.CherryPickRequest{
			Commits:  []git.Hash{item.CommitID},
			Mainline: item.Mainline,
		})
		if err == nil {
			item.State = Success
			e.runHook(ctx, "post_cherry_pick", item)
			e.notify(emit, Event{Kind: EventItemCompleted, Index: e.pos, PRID: item.PRID, State: Success})
			e.pos++
			continue
		}

		if err := e.classifyFailure(ctx, emit, item, err); err != nil {
			return err
		}
		if item.State == Conflict {
			return nil
		}
	}

	success, failed := e.counts()
	e.notify(emit, Event{Kind: EventAllComplete, SuccessCount: success, FailedCount: failed})
	return nil
}

// classifyFailure distinguishes a logical conflict (non-empty unmerged
// set) from an environmental failure (empty unmerged set, non-zero
// exit), per spec: only the former pauses the sequencer.
func (e *Engine) classifyFailure(ctx context.Context, emit EventFunc, item *Item, cherryPickErr error) error {
	var interrupted *git.CherryPickInterruptedError
	if !errors.As(cherryPickErr, &interrupted) {
		item.State = Failed
		item.FailReason = cherryPickErr.Error()
		e.notify(emit, Event{Kind: EventItemCompleted, Index: e.pos, PRID: item.PRID, State: Failed})
		e.pos++
		return nil
	}

	files, err := e.unmergedFiles(ctx)
	if err != nil {
		return fmt.Errorf("inspect worktree after conflict: %w", err)
	}

	if len(files) == 0 {
		item.State = Failed
		item.FailReason = cherryPickErr.Error()
		e.notify(emit, Event{Kind: EventItemCompleted, Index: e.pos, PRID: item.PRID, State: Failed})
		e.pos++
		return nil
	}

	item.State = Conflict
	item.ConflictFiles = files
	e.paused = true
	e.notify(emit, Event{Kind: EventConflictPaused, Index: e.pos, PRID: item.PRID, Files: files})
	e.runHook(ctx, "on_conflict", item)
	return nil
}

func (e *Engine) unmergedFiles(ctx context.Context) ([]string, error) {
	var files []string
	for status, err := range e.Worktree.DiffWork(ctx) {
		if err != nil {
			return nil, fmt.Errorf("diff worktree: %w", err)
		}
		if status.Status == string(git.FileUnmerged) {
			files = append(files, status.Path)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (e *Engine) runHook(ctx context.Context, trigger string, item *Item) {
	if e.Hooks == nil {
		return
	}

	env := map[string]string{
		"MERGERS_PR_ID": strconv.FormatInt(item.PRID, 10),
	}
	if item.CommitID != "" {
		env["MERGERS_COMMIT_ID"] = item.CommitID.String()
	}

	if err := e.Hooks.Run(ctx, trigger, env); err != nil {
		e.Log.Warn("hook failed",
			"trigger", trigger,
			"pr_id", item.PRID,
			"err", err)
	}
}

func (e *Engine) counts() (success, failed int) {
	for _, item := range e.items {
		switch item.State {
		case Success:
			success++
		case Failed:
			failed++
		}
	}
	return success, failed
}

func (e *Engine) notify(emit EventFunc, ev Event) {
	if emit != nil {
		emit(ev)
	}
}

func sortItems(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].ClosedAt.Equal(items[j].ClosedAt) {
			return items[i].ClosedAt.Before(items[j].ClosedAt)
		}
		return items[i].PRID < items[j].PRID
	})
}
