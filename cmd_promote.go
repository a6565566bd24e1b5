package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.mergers.dev/mergers/internal/cache"
	"go.mergers.dev/mergers/internal/cherrypick"
	"go.mergers.dev/mergers/internal/conflict"
	"go.mergers.dev/mergers/internal/config"
	"go.mergers.dev/mergers/internal/finalize"
	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/hooks"
	"go.mergers.dev/mergers/internal/loader"
	"go.mergers.dev/mergers/internal/maputil"
	"go.mergers.dev/mergers/internal/session"
	"go.mergers.dev/mergers/internal/silog"
)

type promoteCmd struct {
	Select []int64 `required:"" help:"Pull request IDs to cherry-pick onto the target branch."`

	OnConflict string `enum:"abort,skip" default:"abort" help:"What to do when a cherry-pick conflicts: abort the whole run, or skip just that pull request and continue."`
}

func (cmd *promoteCmd) Run(ctx context.Context, log *silog.Logger, globalOpts *globalOptions, cfg *config.AppConfig) error {
	cfg.Mode = config.ModeMerge
	if err := config.Validate(*cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	prs, err := loadPullRequests(ctx, log, globalOpts, cfg)
	if err != nil {
		return err
	}

	wanted := make(map[int64]bool, len(cmd.Select))
	for _, id := range cmd.Select {
		wanted[id] = true
	}

	byID := make(map[int64]loader.PR, len(prs))
	items := make([]*cherrypick.Item, 0, len(cmd.Select))
	for _, pr := range prs {
		if !wanted[pr.ID] {
			continue
		}
		byID[pr.ID] = pr

		item := &cherrypick.Item{
			PRID:     pr.ID,
			ClosedAt: pr.ClosedAt,
		}
		if pr.MergeCommitID != "" {
			item.CommitID = git.Hash(pr.MergeCommitID)
			item.Mainline = prMergeMainline
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return errors.New("none of the selected pull request ids matched a loaded pull request")
	}
	if len(items) < len(wanted) {
		for _, id := range maputil.Keys(wanted) {
			if _, ok := byID[id]; !ok {
				log.Warn("selected pull request id was not found among loaded pull requests", "pr", id)
			}
		}
	}

	repo, err := git.Open(ctx, globalOpts.RepoPath, git.OpenOptions{Log: log})
	if err != nil {
		return fmt.Errorf("open repository %s: %w", globalOpts.RepoPath, err)
	}

	hooksRuntime := &hooks.Runtime{
		Log:    log,
		Config: cfg.Hooks,
		Context: hooks.Context{
			Version:      cfg.Version,
			TargetBranch: cfg.TargetBranch,
			DevBranch:    cfg.DevBranch,
		},
	}

	var promoted []finalize.PromotedPR

	runErr := session.Run(ctx, session.Config{LocalRepo: repo, Log: log}, cfg.TargetBranch, func(sess *session.Session) error {
		hooksRuntime.Context.RepoPath = sess.Path()

		if err := hooksRuntime.Run(ctx, string(hooks.TriggerPostCheckout), nil); err != nil {
			return fmt.Errorf("post_checkout hook: %w", err)
		}

		wtRepo, err := git.Open(ctx, sess.Path(), git.OpenOptions{Log: log})
		if err != nil {
			return fmt.Errorf("open session worktree: %w", err)
		}

		engine := &cherrypick.Engine{
			Log:        log,
			Repository: wtRepo,
			Worktree:   sess.Worktree(),
			Hooks:      hooksRuntime,
		}
		broker := &conflict.Broker{Engine: engine}

		if err := hooksRuntime.Run(ctx, string(hooks.TriggerPreCherryPick), nil); err != nil {
			return fmt.Errorf("pre_cherry_pick hook: %w", err)
		}

		emit := printCherryPickEvent
		if err := engine.Run(ctx, items, emit); err != nil {
			return fmt.Errorf("cherry-pick: %w", err)
		}

		for broker.Paused() {
			if cmd.OnConflict == "skip" {
				log.Warn("conflict encountered, skipping this pull request per --on-conflict=skip")
				if err := broker.Skip(ctx, emit); err != nil {
					return fmt.Errorf("skip conflicted pull request: %w", err)
				}
				continue
			}

			files, _ := broker.Files(ctx)
			if err := broker.Abort(ctx); err != nil {
				return fmt.Errorf("abort conflicted cherry-pick: %w", err)
			}
			return fmt.Errorf("cherry-pick conflict in %v; aborted (pass --on-conflict=skip to continue past conflicts)", files)
		}

		if err := hooksRuntime.Run(ctx, string(hooks.TriggerPostMerge), nil); err != nil {
			log.Warn("post_merge hook failed", "err", err)
		}

		for _, item := range items {
			if item.State != cherrypick.Success {
				log.Warn("pull request not promoted", "pr", item.PRID, "state", item.State, "reason", item.FailReason)
				continue
			}
			pr := byID[item.PRID]
			workItems := make([]int64, len(pr.WorkItems))
			for i, wi := range pr.WorkItems {
				workItems[i] = wi.ID
			}
			promoted = append(promoted, finalize.PromotedPR{PRID: item.PRID, WorkItems: workItems})
		}

		return nil
	})
	if runErr != nil {
		return runErr
	}

	if len(promoted) == 0 {
		fmt.Println("No pull requests were promoted; nothing to finalize.")
		return nil
	}

	client, err := newRemoteClient(cfg, globalOpts.BaseURL)
	if err != nil {
		return err
	}

	finalizer := &finalize.Finalizer{
		Log:    log,
		Client: client,
		Config: finalize.Config{
			TagPrefix:     cfg.TagPrefix,
			Version:       cfg.Version,
			WorkItemState: cfg.WorkItemState,
		},
	}
	tasks := finalize.BuildTasks(promoted, finalizer.Config)
	if err := finalizer.Execute(ctx, tasks, printFinalizeEvent); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}

	success, failed := finalize.Counts(tasks)
	fmt.Printf("Finalized: %d succeeded, %d failed.\n", success, failed)

	printReleaseNotes(ctx, log, repo, promoted, byID)

	if err := hooksRuntime.Run(ctx, string(hooks.TriggerPostComplete), nil); err != nil {
		log.Warn("post_complete hook failed", "err", err)
	}

	return nil
}

// printReleaseNotes prints one line per promoted pull request's linked
// work items, titled from the work-item title cache where possible so
// a later run covering overlapping work items doesn't need to re-fetch
// titles already known.
func printReleaseNotes(ctx context.Context, log *silog.Logger, repo *git.Repository, promoted []finalize.PromotedPR, byID map[int64]loader.PR) {
	titleCache, err := cache.Open(filepath.Join(repo.GitDir(), "mergers-title-cache.json"))
	if err != nil {
		log.Warn("open title cache failed, release notes will show ids only", "err", err)
	}

	fmt.Println("\nRelease notes:")
	for _, p := range promoted {
		pr := byID[p.PRID]
		for _, wi := range pr.WorkItems {
			if titleCache != nil && wi.Title != "" {
				titleCache.Set(wi.ID, wi.Title)
			}

			title := wi.Title
			if title == "" && titleCache != nil {
				title, _ = titleCache.Title(wi.ID)
			}
			if title == "" {
				title = fmt.Sprintf("work item %d", wi.ID)
			}
			fmt.Printf("  - %s (#%d)\n", title, p.PRID)
		}
	}

	if titleCache != nil {
		if err := titleCache.Flush(ctx); err != nil {
			log.Warn("flush title cache failed", "err", err)
		}
	}
}

func printCherryPickEvent(ev cherrypick.Event) {
	switch ev.Kind {
	case cherrypick.EventItemStarting:
		fmt.Printf("cherry-picking pr #%d (%d/%d)\n", ev.PRID, ev.Index+1, ev.Total)
	case cherrypick.EventItemCompleted:
		fmt.Printf("  -> pr #%d: %s\n", ev.PRID, ev.State)
	case cherrypick.EventConflictPaused:
		fmt.Printf("  -> pr #%d: conflict in %v\n", ev.PRID, ev.Files)
	case cherrypick.EventAllComplete:
		fmt.Printf("cherry-pick complete: %d succeeded, %d failed\n", ev.SuccessCount, ev.FailedCount)
	}
}

func printFinalizeEvent(ev finalize.Event) {
	if ev.Kind == finalize.EventTaskCompleted {
		fmt.Printf("  -> %s\n", ev.Task)
	}
}
