// Package migration implements the read-only classification variant:
// given a set of completed pull requests and a target branch, decide
// which PRs have already reached the target, which haven't, and which
// can't be determined either way.
package migration

import (
	"context"
	"fmt"

	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/remote"
)

// Category is the classification assigned to one pull request.
type Category int

const (
	// NotPromoted means neither the merge commit nor its canonical
	// title were found in the target branch.
	NotPromoted Category = iota

	// Promoted means the PR's merge commit is reachable from the
	// target branch.
	Promoted

	// Unsure means the merge commit itself wasn't found, but the
	// target branch contains a commit whose subject matches Azure's
	// canonical merge-commit title for this PR — evidence the PR was
	// promoted through a path that rewrote its commit id (a squash or
	// rebase merge, for instance).
	Unsure
)

func (c Category) String() string {
	switch c {
	case Promoted:
		return "promoted"
	case NotPromoted:
		return "not-promoted"
	case Unsure:
		return "unsure"
	default:
		return "unknown"
	}
}

// Result is one PR's classification. It is a reporting output only;
// no remediation is performed based on it.
type Result struct {
	PR       remote.PullRequest
	Category Category
}

// GitRepository is the subset of [git.Repository] the classifier needs.
type GitRepository interface {
	PeelToCommit(ctx context.Context, ref string) (git.Hash, error)
	IsAncestor(ctx context.Context, a, b git.Hash) bool
	HasCommitWithSubject(ctx context.Context, branch, subject string) (bool, error)
}

var _ GitRepository = (*git.Repository)(nil)

// CanonicalTitle formats the merge-commit subject Azure DevOps writes
// when it completes a pull request.
func CanonicalTitle(prID int64, title string) string {
	return fmt.Sprintf("Merged PR %d: %s", prID, title)
}

// Classify categorizes each of prs against targetBranch. A failure
// resolving targetBranch aborts the whole classification, and so does
// a per-PR history-search failure: it is returned as an error naming
// the PR rather than silently treated as NotPromoted.
func Classify(ctx context.Context, repo GitRepository, targetBranch string, prs []remote.PullRequest) ([]Result, error) {
	targetHead, err := repo.PeelToCommit(ctx, targetBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve target branch %q: %w", targetBranch, err)
	}

	results := make([]Result, len(prs))
	for i, pr := range prs {
		category, err := classifyOne(ctx, repo, targetBranch, targetHead, pr)
		if err != nil {
			return nil, fmt.Errorf("classify pr %d: %w", pr.ID, err)
		}
		results[i] = Result{PR: pr, Category: category}
	}
	return results, nil
}

func classifyOne(ctx context.Context, repo GitRepository, targetBranch string, targetHead git.Hash, pr remote.PullRequest) (Category, error) {
	if pr.MergeCommitID != "" && repo.IsAncestor(ctx, git.Hash(pr.MergeCommitID), targetHead) {
		return Promoted, nil
	}

	found, err := repo.HasCommitWithSubject(ctx, targetBranch, CanonicalTitle(pr.ID, pr.Title))
	if err != nil {
		return NotPromoted, err
	}
	if found {
		return Unsure, nil
	}
	return NotPromoted, nil
}

// Counts tallies results by category.
func Counts(results []Result) (promoted, notPromoted, unsure int) {
	for _, r := range results {
		switch r.Category {
		case Promoted:
			promoted++
		case NotPromoted:
			notPromoted++
		case Unsure:
			unsure++
		}
	}
	return promoted, notPromoted, unsure
}
