package main

import (
	"context"
	"fmt"

	"go.mergers.dev/mergers/internal/bitindex"
	"go.mergers.dev/mergers/internal/git"
)

// prMergeMainline is the parent number cherry-pick diffs against for
// every promoted PR's merge commit: Azure DevOps always produces a
// two-parent merge commit for a completed PR, and the core always
// diffs against the first parent (the target branch side) when
// cherry-picking it, so this is a system-wide constant rather than
// per-PR data sourced from the remote.
const prMergeMainline = 1

// changesForPR loads the file- and line-level changes a promoted PR's
// merge commit introduced, for feeding the dependency analyzer. The
// diff is taken against the commit's first parent, matching the
// mainline the core cherry-picks against.
func changesForPR(ctx context.Context, repo *git.Repository, mergeCommitID string) ([]bitindex.FileChange, error) {
	base := mergeCommitID + fmt.Sprintf("~%d", prMergeMainline)
	diffs, err := repo.FileChangesBetween(ctx, base, mergeCommitID)
	if err != nil {
		return nil, fmt.Errorf("diff merge commit %s: %w", mergeCommitID, err)
	}

	changes := make([]bitindex.FileChange, len(diffs))
	for i, d := range diffs {
		changes[i] = bitindex.FileChange{
			Path:      d.Path,
			PriorPath: d.PriorPath,
			Kind:      convertChangeKind(d.Status),
			Ranges:    convertRanges(d.Ranges),
		}
	}
	return changes, nil
}

func convertChangeKind(status git.FileStatusCode) bitindex.ChangeKind {
	switch status {
	case git.FileAdded:
		return bitindex.Add
	case git.FileDeleted:
		return bitindex.Delete
	case git.FileRenamed:
		return bitindex.Rename
	case git.FileCopied:
		return bitindex.Copy
	default:
		return bitindex.Modify
	}
}

func convertRanges(ranges []git.LineRange) []bitindex.LineRange {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]bitindex.LineRange, len(ranges))
	for i, r := range ranges {
		out[i] = bitindex.LineRange{Start: r.Start, End: r.End}
	}
	return out
}
