// Package loader implements the paginated fetch of completed pull
// requests and their linked work items, bounded by a hard page-count
// cap and an optional since-filter early stop.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.mergers.dev/mergers/internal/iterutil"
	"go.mergers.dev/mergers/internal/remote"
	"go.mergers.dev/mergers/internal/silog"
	"go.mergers.dev/mergers/internal/syncx"
)

// PageSize is the number of pull requests requested per page.
const PageSize = 100

// MaxRequests bounds the number of pages fetched before
// [remote.PaginationLimitExceeded] is returned, roughly 10,000 PRs.
const MaxRequests = 100

// DefaultMaxConcurrentPRs and DefaultMaxConcurrentHistory are used
// when a [Config] leaves the corresponding field at zero.
const (
	DefaultMaxConcurrentPRs     = 10
	DefaultMaxConcurrentHistory = 10
)

// Config bounds the loader's fan-out and filters its result set.
type Config struct {
	// TagPrefix drops any fetched PR whose labels contain an entry
	// beginning with this prefix (already promoted). Empty disables
	// the filter. Matching is literal and case-sensitive.
	TagPrefix string

	// Since, if non-zero, stops paging as soon as a page contains a
	// PR closed strictly before it (the host is assumed to return
	// pages in descending closed-at order).
	Since time.Time

	// MaxConcurrentPRs bounds outer fan-out across PRs when fetching
	// work items. Zero uses [DefaultMaxConcurrentPRs].
	MaxConcurrentPRs int

	// MaxConcurrentHistory bounds inner fan-out across a single PR's
	// work items when fetching revision history. Zero uses
	// [DefaultMaxConcurrentHistory].
	MaxConcurrentHistory int
}

func (c Config) maxConcurrentPRs() int {
	if c.MaxConcurrentPRs <= 0 {
		return DefaultMaxConcurrentPRs
	}
	return c.MaxConcurrentPRs
}

func (c Config) maxConcurrentHistory() int {
	if c.MaxConcurrentHistory <= 0 {
		return DefaultMaxConcurrentHistory
	}
	return c.MaxConcurrentHistory
}

// PR is a fully loaded pull request: the remote metadata plus its
// linked work items, each with revision history attached.
type PR struct {
	remote.PullRequest
	WorkItems []remote.WorkItem
}

// Loader fetches the set of completed PRs targeting a branch, along
// with their linked work items.
type Loader struct {
	Log    *silog.Logger // required
	Client remote.Client // required
	Config Config

	// batchUnsupported latches once any concurrent work-item fetch
	// discovers that the host rejects batch lookups, so the other
	// in-flight fetches stop paying for a doomed batch call first.
	batchUnsupported syncx.SetOnce[bool]
}

// Load fetches every completed PR targeting targetRef, paginating
// until the host reports no more pages, the since-filter prunes the
// rest, or [MaxRequests] pages have been fetched. Work items are
// fetched per PR afterward, bounded by the configured concurrency
// ceilings.
func (l *Loader) Load(ctx context.Context, targetRef string) ([]PR, error) {
	prs, err := l.fetchPullRequests(ctx, targetRef)
	if err != nil {
		return nil, err
	}

	prs = l.filterPromoted(prs)

	loaded := make([]PR, len(prs))
	if err := l.loadWorkItems(ctx, prs, loaded); err != nil {
		return nil, err
	}
	return loaded, nil
}

func (l *Loader) fetchPullRequests(ctx context.Context, targetRef string) ([]remote.PullRequest, error) {
	var all []remote.PullRequest
	skip := 0

	for requests := 0; ; requests++ {
		if requests >= MaxRequests {
			return nil, &remote.PaginationLimitExceeded{Max: MaxRequests, Retrieved: len(all)}
		}

		page, err := l.Client.FetchPullRequests(ctx, targetRef, PageSize, skip)
		if err != nil {
			return nil, fmt.Errorf("fetch pull requests (skip=%d): %w", skip, err)
		}

		stop := false
		for _, pr := range page.PullRequests {
			if !l.Config.Since.IsZero() && !pr.ClosedAt.IsZero() && pr.ClosedAt.Before(l.Config.Since) {
				stop = true
				break
			}
			all = append(all, pr)
		}

		if stop || !page.HasMore || len(page.PullRequests) == 0 {
			return all, nil
		}
		skip += len(page.PullRequests)
	}
}

func (l *Loader) filterPromoted(prs []remote.PullRequest) []remote.PullRequest {
	if l.Config.TagPrefix == "" {
		return prs
	}
	filtered := prs[:0:0]
	for _, pr := range prs {
		if !hasPromotedLabel(pr.Labels, l.Config.TagPrefix) {
			filtered = append(filtered, pr)
		}
	}
	return filtered
}

func hasPromotedLabel(labels []string, prefix string) bool {
	for _, label := range labels {
		if strings.HasPrefix(label, prefix) {
			return true
		}
	}
	return false
}

// loadWorkItems fetches each PR's linked work items and their revision
// histories, writing results into out at the same index as prs.
// Outer fan-out is bounded by MaxConcurrentPRs, inner fan-out (history
// fetch per work item) by MaxConcurrentHistory.
func (l *Loader) loadWorkItems(ctx context.Context, prs []remote.PullRequest, out []PR) error {
	outerSem := make(chan struct{}, l.Config.maxConcurrentPRs())
	errCh := make(chan error, len(prs))
	done := make(chan struct{}, len(prs))

	for i, pr := range prs {
		outerSem <- struct{}{}
		go func(i int, pr remote.PullRequest) {
			defer func() { <-outerSem; done <- struct{}{} }()

			items, err := l.loadPRWorkItems(ctx, pr.ID)
			if err != nil {
				errCh <- fmt.Errorf("load work items for pr %d: %w", pr.ID, err)
				return
			}
			out[i] = PR{PullRequest: pr, WorkItems: items}
		}(i, pr)
	}

	for range prs {
		<-done
	}
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (l *Loader) loadPRWorkItems(ctx context.Context, prID int64) ([]remote.WorkItem, error) {
	refs, err := l.Client.FetchWorkItemsForPR(ctx, prID)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	rawIDs := make([]int64, len(refs))
	for i, ref := range refs {
		rawIDs[i] = ref.ID
	}
	// A work item can be linked to a PR through more than one link
	// type (e.g. both a "resolves" and an associated-commit link),
	// which Azure DevOps reports as separate refs to the same ID.
	ids := slices.Collect(iterutil.Uniq(rawIDs))

	var items []remote.WorkItem
	if !l.batchUnsupported.Get(false) {
		items, err = l.Client.FetchWorkItemsByIDs(ctx, ids, nil)
		if err != nil {
			l.batchUnsupported.Set(true)
		}
	}
	if items == nil {
		// Batch fetch is unsupported or failed: fall back to
		// fetching one at a time.
		for _, id := range ids {
			perID, err := l.Client.FetchWorkItemsByIDs(ctx, []int64{id}, nil)
			if err != nil {
				l.Log.Warn("work item fetch failed", "work_item_id", id, "err", err)
				continue
			}
			items = append(items, perID...)
		}
	}

	l.attachHistory(ctx, items)
	return items, nil
}

// attachHistory fetches each work item's revision history, bounded by
// MaxConcurrentHistory. A failed history fetch degrades gracefully to
// an empty history for that item rather than failing the PR.
func (l *Loader) attachHistory(ctx context.Context, items []remote.WorkItem) {
	sem := make(chan struct{}, l.Config.maxConcurrentHistory())
	done := make(chan struct{}, len(items))

	for i := range items {
		sem <- struct{}{}
		go func(i int) {
			defer func() { <-sem; done <- struct{}{} }()

			history, err := l.Client.FetchWorkItemHistory(ctx, items[i].ID)
			if err != nil {
				l.Log.Warn("work item history fetch failed", "work_item_id", items[i].ID, "err", err)
				return
			}
			items[i].History = history
		}(i)
	}

	for range items {
		<-done
	}
}
