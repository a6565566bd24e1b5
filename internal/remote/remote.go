// Package remote defines the boundary between the core and the hosted
// git service: the set of operations the loader, finalizer, and
// migration-analysis variant need, and the typed errors a concrete
// client reports back across that boundary.
package remote

import (
	"context"
	"fmt"
	"time"
)

// PullRequestStatus is the lifecycle status a PR query filters on.
type PullRequestStatus string

// Completed is the only status the core ever requests.
const Completed PullRequestStatus = "completed"

// PullRequest is a completed pull request as reported by the host.
type PullRequest struct {
	ID            int64
	Title         string
	ClosedAt      time.Time
	Author        string
	Labels        []string
	MergeCommitID string // empty if the host has none on record
}

// WorkItemRef is the lightweight work-item association returned
// alongside a PR, before the full WorkItem is fetched.
type WorkItemRef struct {
	ID int64
}

// StateTransition is one entry in a work item's revision history.
type StateTransition struct {
	Revision int
	At       time.Time
	NewState string
}

// WorkItem is a work item tracked by the host, with its full revision
// history already attached.
type WorkItem struct {
	ID            int64
	Title         string
	State         string
	Type          string
	Assignee      string // empty if unassigned
	IterationPath string
	Description   string
	History       []StateTransition
}

// PullRequestPage is one page of a paginated pull-request listing.
type PullRequestPage struct {
	PullRequests []PullRequest
	// HasMore reports whether a subsequent page (at Skip+len(PullRequests))
	// may contain further results.
	HasMore bool
}

// Repo is the subset of host repository metadata the core consumes.
type Repo struct {
	Name   string
	SSHURL string
}

// Client is the boundary the core consumes to talk to the hosted git
// service. Every method is fallible and returns one of the taxonomy
// errors in this package, wrapped with context via fmt.Errorf's %w.
//
// Implementations must be safe for concurrent use: the loader (C8)
// fans out FetchWorkItemsForPR and FetchWorkItemHistory calls across
// goroutines bounded by its own semaphores.
type Client interface {
	// FetchPullRequests returns one page of completed PRs targeting
	// targetRef, starting at offset skip, at most top results.
	FetchPullRequests(ctx context.Context, targetRef string, top, skip int) (PullRequestPage, error)

	// FetchWorkItemsForPR returns the work items linked to a PR.
	FetchWorkItemsForPR(ctx context.Context, prID int64) ([]WorkItemRef, error)

	// FetchWorkItemsByIDs batch-fetches work items. The core falls
	// back to per-ID fetches (via this same method, one ID at a time)
	// if the batch call fails.
	FetchWorkItemsByIDs(ctx context.Context, ids []int64, fields []string) ([]WorkItem, error)

	// FetchWorkItemHistory returns a work item's revision history.
	FetchWorkItemHistory(ctx context.Context, workItemID int64) ([]StateTransition, error)

	// FetchPR retrieves a single PR, used to recover a merge commit
	// missing from a list response.
	FetchPR(ctx context.Context, prID int64) (PullRequest, error)

	// FetchRepo retrieves repository metadata, notably its SSH URL for
	// worktree acquisition.
	FetchRepo(ctx context.Context, repoName string) (Repo, error)

	// AddLabelToPR tags a promoted PR.
	AddLabelToPR(ctx context.Context, prID int64, label string) error

	// UpdateWorkItemState transitions a work item to a terminal state.
	UpdateWorkItemState(ctx context.Context, workItemID int64, newState string) error
}

// Unauthorized indicates the client's credentials were rejected.
type Unauthorized struct {
	// Message is the host's description, if any.
	Message string
}

func (e *Unauthorized) Error() string {
	if e.Message == "" {
		return "remote: unauthorized"
	}
	return fmt.Sprintf("remote: unauthorized: %s", e.Message)
}

// NotFound indicates the requested resource doesn't exist on the host.
type NotFound struct {
	Resource string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("remote: not found: %s", e.Resource)
}

// RateLimited indicates the host throttled the request. It is the only
// taxonomy error the core retries automatically, honoring
// RetryAfterSeconds.
type RateLimited struct {
	RetryAfterSeconds int
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("remote: rate limited, retry after %ds", e.RetryAfterSeconds)
}

// RequestFailed indicates a non-2xx response the taxonomy doesn't give
// a more specific name to.
type RequestFailed struct {
	Status  int
	Message string
}

func (e *RequestFailed) Error() string {
	return fmt.Sprintf("remote: request failed (status %d): %s", e.Status, e.Message)
}

// ParseError indicates the host's response body could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("remote: parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NoMergeCommit indicates a completed PR has no merge commit on
// record, so it cannot participate in a promotion.
type NoMergeCommit struct {
	PRID int64
}

func (e *NoMergeCommit) Error() string {
	return fmt.Sprintf("remote: pr %d has no merge commit", e.PRID)
}

// PaginationLimitExceeded indicates the loader's hard page-count cap
// was reached before exhausting the result set. Retrieved counts the
// items collected before the cap was hit; nothing is ever silently
// truncated below that count.
type PaginationLimitExceeded struct {
	Max       int
	Retrieved int
}

func (e *PaginationLimitExceeded) Error() string {
	return fmt.Sprintf("remote: pagination limit of %d requests exceeded (retrieved %d)", e.Max, e.Retrieved)
}
