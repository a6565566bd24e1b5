package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"go.mergers.dev/mergers/internal/config"
	"go.mergers.dev/mergers/internal/loader"
	"go.mergers.dev/mergers/internal/silog"
)

type listCmd struct{}

func (cmd *listCmd) Run(ctx context.Context, log *silog.Logger, globalOpts *globalOptions, cfg *config.AppConfig) error {
	cfg.Mode = config.ModeMerge
	if err := config.Validate(*cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	prs, err := loadPullRequests(ctx, log, globalOpts, cfg)
	if err != nil {
		return err
	}

	if len(prs) == 0 {
		fmt.Println("No completed pull requests found.")
		return nil
	}

	now := time.Now()
	for _, pr := range prs {
		fmt.Printf("#%-6d %-40s %s, %s\n",
			pr.ID, truncate(pr.Title, 40), pr.Author, humanize.RelTime(pr.ClosedAt, now, "ago", "from now"))
		for _, wi := range pr.WorkItems {
			fmt.Printf("         -> work item %d [%s]\n", wi.ID, wi.State)
		}
	}
	return nil
}

// loadPullRequests builds a remote client from cfg and loads every
// completed PR targeting cfg.DevBranch, shared by listCmd and
// analyzeCmd.
func loadPullRequests(ctx context.Context, log *silog.Logger, globalOpts *globalOptions, cfg *config.AppConfig) ([]loader.PR, error) {
	client, err := newRemoteClient(cfg, globalOpts.BaseURL)
	if err != nil {
		return nil, err
	}

	since, err := resolveSince(cfg.Since)
	if err != nil {
		return nil, err
	}

	ld := &loader.Loader{
		Log:    log,
		Client: client,
		Config: loader.Config{
			TagPrefix:             cfg.TagPrefix,
			Since:                 since,
			MaxConcurrentPRs:      cfg.MaxConcurrentNetwork,
			MaxConcurrentHistory:  cfg.MaxConcurrentNetwork,
		},
	}

	prs, err := ld.Load(ctx, cfg.DevBranch)
	if err != nil {
		return nil, fmt.Errorf("load pull requests: %w", err)
	}
	return prs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
