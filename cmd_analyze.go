package main

import (
	"context"
	"fmt"

	"go.mergers.dev/mergers/internal/bitindex"
	"go.mergers.dev/mergers/internal/config"
	"go.mergers.dev/mergers/internal/depgraph"
	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/loader"
	"go.mergers.dev/mergers/internal/silog"
)

type analyzeCmd struct {
	Select   []int64 `help:"Pull request IDs to mark as selected for promotion. Every loaded PR is analyzed regardless; this only affects which dependency warnings are reported."`
	Parallel bool    `help:"Use the worker-pool analyzer instead of the single-threaded one."`
}

func (cmd *analyzeCmd) Run(ctx context.Context, log *silog.Logger, globalOpts *globalOptions, cfg *config.AppConfig) error {
	cfg.Mode = config.ModeMerge
	if err := config.Validate(*cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	prs, err := loadPullRequests(ctx, log, globalOpts, cfg)
	if err != nil {
		return err
	}
	if len(prs) == 0 {
		fmt.Println("No completed pull requests to analyze.")
		return nil
	}

	repo, err := git.Open(ctx, globalOpts.RepoPath, git.OpenOptions{Log: log})
	if err != nil {
		return fmt.Errorf("open repository %s: %w", globalOpts.RepoPath, err)
	}

	selected := make(map[int64]bool, len(cmd.Select))
	for _, id := range cmd.Select {
		selected[id] = true
	}

	graphPRs := make([]depgraph.PR, 0, len(prs))
	changes := make(map[bitindex.PRID][]bitindex.FileChange, len(prs))
	for _, pr := range prs {
		if pr.MergeCommitID == "" {
			log.Warn("pull request has no merge commit on record, skipping from analysis", "pr", pr.ID)
			continue
		}

		id := bitindex.PRID(pr.ID)
		graphPRs = append(graphPRs, depgraph.PR{
			ID:         id,
			Title:      pr.Title,
			IsSelected: selected[pr.ID],
			CommitID:   pr.MergeCommitID,
		})

		fileChanges, err := changesForPR(ctx, repo, pr.MergeCommitID)
		if err != nil {
			return fmt.Errorf("pr %d: %w", pr.ID, err)
		}
		changes[id] = fileChanges
	}

	opts := &depgraph.Options{WarnOnPartial: true, Log: log}
	analyze := depgraph.Sequential
	if cmd.Parallel {
		analyze = depgraph.Parallel
	}

	result, err := analyze(ctx, graphPRs, changes, opts)
	if err != nil {
		return fmt.Errorf("analyze dependencies: %w", err)
	}

	printAnalysis(result)
	return nil
}

func printAnalysis(result *depgraph.Result) {
	if len(result.Warnings) == 0 {
		fmt.Println("No dependency warnings.")
	}
	for _, w := range result.Warnings {
		marker := "warning"
		if w.IsCritical() {
			marker = "CRITICAL"
		}
		fmt.Printf("[%s] PR #%d (selected) depends on unselected PR #%d (%s)\n",
			marker, w.Selected, w.Unselected, w.Category)
	}

	fmt.Println("\nTopological order:")
	for _, id := range result.Graph.TopoOrder {
		node := result.Graph.Nodes[id]
		mark := " "
		if node.IsSelected {
			mark = "*"
		}
		fmt.Printf("  %s #%-6d %s\n", mark, node.PRID, node.Title)
	}
}
