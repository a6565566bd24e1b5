package main

import (
	"context"
	"fmt"

	"go.mergers.dev/mergers/internal/config"
	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/migration"
	"go.mergers.dev/mergers/internal/remote"
	"go.mergers.dev/mergers/internal/silog"
)

type migrateCmd struct{}

func (cmd *migrateCmd) Run(ctx context.Context, log *silog.Logger, globalOpts *globalOptions, cfg *config.AppConfig) error {
	cfg.Mode = config.ModeMigration
	if len(cfg.TerminalStates) == 0 {
		cfg.TerminalStates = []string{"Closed", "Resolved", "Removed"}
	}
	if err := config.Validate(*cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	prs, err := loadPullRequests(ctx, log, globalOpts, cfg)
	if err != nil {
		return err
	}
	if len(prs) == 0 {
		fmt.Println("No completed pull requests to classify.")
		return nil
	}

	repo, err := git.Open(ctx, globalOpts.RepoPath, git.OpenOptions{Log: log})
	if err != nil {
		return fmt.Errorf("open repository %s: %w", globalOpts.RepoPath, err)
	}

	pullRequests := make([]remote.PullRequest, len(prs))
	for i, pr := range prs {
		pullRequests[i] = pr.PullRequest
	}

	results, err := migration.Classify(ctx, repo, cfg.TargetBranch, pullRequests)
	if err != nil {
		return fmt.Errorf("classify pull requests: %w", err)
	}

	terminal := make(map[string]bool, len(cfg.TerminalStates))
	for _, s := range cfg.TerminalStates {
		terminal[s] = true
	}

	for i, result := range results {
		fmt.Printf("#%-6d %-10s %s\n", result.PR.ID, result.Category, result.PR.Title)
		for _, wi := range prs[i].WorkItems {
			resolved := ""
			if terminal[wi.State] {
				resolved = " (resolved)"
			}
			fmt.Printf("         -> work item %d [%s]%s\n", wi.ID, wi.State, resolved)
		}
	}

	promoted, notPromoted, unsure := migration.Counts(results)
	fmt.Printf("\n%d promoted, %d not promoted, %d unsure.\n", promoted, notPromoted, unsure)
	return nil
}
