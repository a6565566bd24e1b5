// Package finalize implements the post-merge task queue: tagging each
// successfully promoted pull request and transitioning its linked work
// items to a terminal state.
package finalize

import (
	"context"
	"fmt"

	"go.mergers.dev/mergers/internal/silog"
)

// TaskKind identifies what a [Task] does.
type TaskKind int

const (
	TagPR TaskKind = iota
	UpdateWorkItem
)

// Result is a task's outcome. The zero value means the task hasn't run
// yet.
type Result int

const (
	// None means the task has not yet run, or its prior Failed result
	// was reset by a retry.
	None Result = iota
	Success
	Failed
)

// Task is one unit of post-merge work: tagging a PR or transitioning a
// work item. Built once per run, mutated in place as it executes.
type Task struct {
	Kind TaskKind

	// PRID identifies the pull request. Set for every task, since
	// UpdateWorkItem tasks are still scoped to the PR they were
	// discovered from (used for reporting/breadcrumbs only).
	PRID int64

	// Tag is the label applied for a TagPR task.
	Tag string

	// WorkItemID and NewState are set for an UpdateWorkItem task.
	WorkItemID int64
	NewState   string

	Result      Result
	FailMessage string
}

func (t *Task) String() string {
	switch t.Kind {
	case TagPR:
		return fmt.Sprintf("tag pr %d with %q", t.PRID, t.Tag)
	case UpdateWorkItem:
		return fmt.Sprintf("update work item %d to %q (pr %d)", t.WorkItemID, t.NewState, t.PRID)
	default:
		return "unknown task"
	}
}

// PromotedPR is one input to [BuildTasks]: a PR whose cherry-pick
// succeeded, in the order it should be tagged and have its work items
// updated. Callers must supply prs in chronological order; BuildTasks
// does not reorder them.
type PromotedPR struct {
	PRID      int64
	WorkItems []int64 // in host-returned order
}

// Config carries the fields of PostMergeConfig the finalizer needs.
type Config struct {
	TagPrefix     string
	Version       string
	WorkItemState string

	// TagBatchSize bounds how many TagPR results are grouped into a
	// single EventBatchReported notification; it does not affect
	// execution concurrency, which is always sequential. Zero uses
	// [DefaultTagBatchSize].
	TagBatchSize int
}

// DefaultTagBatchSize is used when Config.TagBatchSize is zero.
const DefaultTagBatchSize = 50

func (c Config) tag() string { return c.TagPrefix + c.Version }

func (c Config) batchSize() int {
	if c.TagBatchSize <= 0 {
		return DefaultTagBatchSize
	}
	return c.TagBatchSize
}

// BuildTasks constructs the deterministic task queue: for each
// promoted PR in the order given, a TagPR task followed by one
// UpdateWorkItem task per linked work item, in the order they appear
// on the PR.
func BuildTasks(prs []PromotedPR, cfg Config) []*Task {
	tag := cfg.tag()
	tasks := make([]*Task, 0, len(prs))
	for _, pr := range prs {
		tasks = append(tasks, &Task{Kind: TagPR, PRID: pr.PRID, Tag: tag})
		for _, wiID := range pr.WorkItems {
			tasks = append(tasks, &Task{
				Kind:       UpdateWorkItem,
				PRID:       pr.PRID,
				WorkItemID: wiID,
				NewState:   cfg.WorkItemState,
			})
		}
	}
	return tasks
}

// RemoteClient is the subset of [go.mergers.dev/mergers/internal/remote.Client]
// the finalizer needs.
type RemoteClient interface {
	AddLabelToPR(ctx context.Context, prID int64, label string) error
	UpdateWorkItemState(ctx context.Context, workItemID int64, newState string) error
}

// EventKind identifies the kind of progress event [Finalizer.Execute]
// emits.
type EventKind int

const (
	EventTaskCompleted EventKind = iota
	EventBatchReported
	EventAllComplete
)

// Event is a progress notification delivered to the caller-supplied
// [EventFunc].
type Event struct {
	Kind EventKind

	// Task and Index are set on EventTaskCompleted.
	Task  *Task
	Index int

	// BatchSuccessCount and BatchFailedCount are set on
	// EventBatchReported, tallying just the batch's TagPR tasks.
	BatchSuccessCount int
	BatchFailedCount  int

	// SuccessCount and FailedCount are set on EventAllComplete,
	// tallying every task in the run.
	SuccessCount int
	FailedCount  int
}

// EventFunc receives progress notifications. It may be nil.
type EventFunc func(Event)

// Finalizer executes a task queue built by [BuildTasks].
type Finalizer struct {
	Log    *silog.Logger // required
	Client RemoteClient  // required
	Config Config        // optional; governs only TagBatchSize reporting granularity
}

// Execute runs every task in tasks that does not already have a
// Success result, in order, recording each result in place. Tasks run
// strictly sequentially, never concurrently, so a partial failure
// leaves a deterministic prefix-completed state. Returns once every
// task has run or the context is canceled.
func (f *Finalizer) Execute(ctx context.Context, tasks []*Task, emit EventFunc) error {
	batchSize := f.Config.batchSize()
	tagsInBatch, batchSuccess, batchFailed := 0, 0, 0

	for i, task := range tasks {
		if task.Result == Success {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		task.Result = None
		task.FailMessage = ""

		var execErr error
		switch task.Kind {
		case TagPR:
			execErr = f.Client.AddLabelToPR(ctx, task.PRID, task.Tag)
		case UpdateWorkItem:
			execErr = f.Client.UpdateWorkItemState(ctx, task.WorkItemID, task.NewState)
		}

		if execErr != nil {
			task.Result = Failed
			task.FailMessage = execErr.Error()
			f.Log.Warn("post-merge task failed", "task", task.String(), "err", execErr)
		} else {
			task.Result = Success
		}

		f.notify(emit, Event{Kind: EventTaskCompleted, Task: task, Index: i})

		if task.Kind != TagPR {
			continue
		}
		tagsInBatch++
		if task.Result == Success {
			batchSuccess++
		} else {
			batchFailed++
		}
		if tagsInBatch >= batchSize {
			f.notify(emit, Event{Kind: EventBatchReported, BatchSuccessCount: batchSuccess, BatchFailedCount: batchFailed})
			tagsInBatch, batchSuccess, batchFailed = 0, 0, 0
		}
	}

	if tagsInBatch > 0 {
		f.notify(emit, Event{Kind: EventBatchReported, BatchSuccessCount: batchSuccess, BatchFailedCount: batchFailed})
	}

	success, failed := Counts(tasks)
	f.notify(emit, Event{Kind: EventAllComplete, SuccessCount: success, FailedCount: failed})
	return nil
}

// RetryFailed resets every Failed task to None, preserving Success
// results, then re-runs Execute. Idempotent and re-entrant: calling it
// when there are no failures is a no-op beyond re-emitting the final
// tally.
func (f *Finalizer) RetryFailed(ctx context.Context, tasks []*Task, emit EventFunc) error {
	for _, task := range tasks {
		if task.Result == Failed {
			task.Result = None
			task.FailMessage = ""
		}
	}
	return f.Execute(ctx, tasks, emit)
}

// Counts tallies tasks by terminal result. Tasks still at None (e.g.
// after a cancellation) count toward neither.
func Counts(tasks []*Task) (success, failed int) {
	for _, t := range tasks {
		switch t.Result {
		case Success:
			success++
		case Failed:
			failed++
		}
	}
	return success, failed
}

func (f *Finalizer) notify(emit EventFunc, ev Event) {
	if emit != nil {
		emit(ev)
	}
}
