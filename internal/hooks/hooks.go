// Package hooks implements the six fixed command-execution trigger
// points that run at phase boundaries of a merge run.
package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"go.mergers.dev/mergers/internal/silog"
	"go.mergers.dev/mergers/internal/xec"
)

// Trigger identifies one of the six fixed hook points.
type Trigger string

// The six fixed trigger points.
const (
	TriggerPostCheckout   Trigger = "post_checkout"
	TriggerPreCherryPick  Trigger = "pre_cherry_pick"
	TriggerPostCherryPick Trigger = "post_cherry_pick"
	TriggerPostMerge      Trigger = "post_merge"
	TriggerOnConflict     Trigger = "on_conflict"
	TriggerPostComplete   Trigger = "post_complete"
)

// OnFailure is a trigger's failure policy.
type OnFailure int

const (
	// OnFailureDefault defers to the per-trigger default policy.
	OnFailureDefault OnFailure = iota
	OnFailureAbort
	OnFailureContinue
)

// Execution selects how a trigger's commands are run.
type Execution int

const (
	// Blocking runs commands in order, waiting for each to finish.
	Blocking Execution = iota
	// Async spawns every command without waiting for completion;
	// stdout/stderr are discarded and the result is never observed.
	Async
)

// DefaultTimeoutSecs is used when a [TriggerConfig] doesn't set
// TimeoutSecs.
const DefaultTimeoutSecs = 300

// TriggerConfig configures the commands run at one trigger point.
type TriggerConfig struct {
	// Commands run in order. An empty list means the trigger is a
	// no-op: RunTrigger returns Success immediately without spawning
	// anything.
	Commands []string

	// OnFailure overrides the trigger's default failure policy.
	OnFailure OnFailure

	// Execution selects Blocking (default) or Async.
	Execution Execution

	// TimeoutSecs bounds each command. Zero means [DefaultTimeoutSecs].
	TimeoutSecs uint64
}

func (c TriggerConfig) timeout() time.Duration {
	secs := c.TimeoutSecs
	if secs == 0 {
		secs = DefaultTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

// defaultOnFailure is the per-trigger policy used when a
// [TriggerConfig] leaves OnFailure at [OnFailureDefault]: setup and
// pre-hooks abort, post and conflict hooks continue.
var defaultOnFailure = map[Trigger]OnFailure{
	TriggerPostCheckout:   OnFailureAbort,
	TriggerPreCherryPick:  OnFailureAbort,
	TriggerPostCherryPick: OnFailureContinue,
	TriggerPostMerge:      OnFailureContinue,
	TriggerOnConflict:     OnFailureContinue,
	TriggerPostComplete:   OnFailureContinue,
}

func (c TriggerConfig) resolvedOnFailure(trigger Trigger) OnFailure {
	if c.OnFailure != OnFailureDefault {
		return c.OnFailure
	}
	return defaultOnFailure[trigger]
}

// Config maps each of the six fixed triggers to its configuration.
type Config struct {
	PostCheckout   TriggerConfig
	PreCherryPick  TriggerConfig
	PostCherryPick TriggerConfig
	PostMerge      TriggerConfig
	OnConflict     TriggerConfig
	PostComplete   TriggerConfig
}

func (c Config) get(trigger Trigger) TriggerConfig {
	switch trigger {
	case TriggerPostCheckout:
		return c.PostCheckout
	case TriggerPreCherryPick:
		return c.PreCherryPick
	case TriggerPostCherryPick:
		return c.PostCherryPick
	case TriggerPostMerge:
		return c.PostMerge
	case TriggerOnConflict:
		return c.OnConflict
	case TriggerPostComplete:
		return c.PostComplete
	default:
		return TriggerConfig{}
	}
}

// Context carries the fields injected as environment variables into
// every hook invocation (§6.3). PRID and CommitID are per-call and
// passed as the extra map to [Runtime.RunTrigger]/[Runtime.Run]
// instead of living here.
type Context struct {
	// Version of the release being promoted. Omitted from the
	// environment entirely if empty.
	Version string

	// TargetBranch is the branch PRs are cherry-picked onto.
	TargetBranch string

	// DevBranch is the branch PRs are sourced from.
	DevBranch string

	// RepoPath is the worktree directory hooks run in.
	RepoPath string
}

func (c Context) env() map[string]string {
	env := map[string]string{
		"MERGERS_TARGET_BRANCH": c.TargetBranch,
		"MERGERS_DEV_BRANCH":    c.DevBranch,
		"MERGERS_REPO_PATH":     c.RepoPath,
	}
	if c.Version != "" {
		env["MERGERS_VERSION"] = c.Version
	}
	return env
}

// Outcome is the result of running a trigger's command chain.
type Outcome int

const (
	// OutcomeSuccess means every command exited zero (or there were
	// no commands to run).
	OutcomeSuccess Outcome = iota
	// OutcomeAsync means the trigger's commands were spawned detached
	// and their result was never observed.
	OutcomeAsync
	// OutcomeAbort means a command failed under an Abort policy; the
	// caller must halt its workflow.
	OutcomeAbort
	// OutcomeContinuedAfterFailure means a command failed under a
	// Continue policy; the caller should warn and proceed.
	OutcomeContinuedAfterFailure
)

// CommandResult records the outcome of a single hook command.
type CommandResult struct {
	Command string
	Success bool

	// ExitCode is nil if the command was killed on timeout.
	ExitCode *int

	Stdout string
	Stderr string
}

// Result is the outcome of running one trigger's command chain.
type Result struct {
	Trigger Trigger
	Outcome Outcome

	// Command is the command that caused an Abort or
	// ContinuedAfterFailure outcome. Empty on Success or Async.
	Command string

	// Err is the error from the failing command, if any.
	Err error

	// Commands holds every command actually run, in order.
	Commands []CommandResult
}

// Runtime executes hook triggers, built on [xec.Command] for process
// execution.
type Runtime struct {
	Log     *silog.Logger // required
	Config  Config        // required
	Context Context       // required
}

// RunTrigger executes trigger's command chain per the six-trigger
// execution algorithm: an empty command list is an immediate success,
// Async spawns every command detached without waiting, and Blocking
// runs commands in order, stopping at the first failure and resolving
// Abort vs. ContinuedAfterFailure by policy.
func (rt *Runtime) RunTrigger(ctx context.Context, trigger Trigger, extra map[string]string) (*Result, error) {
	cfg := rt.Config.get(trigger)
	if len(cfg.Commands) == 0 {
		return &Result{Trigger: trigger, Outcome: OutcomeSuccess}, nil
	}

	env := mergeEnv(rt.Context.env(), extra)

	if cfg.Execution == Async {
		for _, command := range cfg.Commands {
			name, args := shellCommand(command)
			cmd := xec.Command(context.Background(), rt.Log, name, args...).
				WithDir(rt.Context.RepoPath).
				AppendEnv(envSlice(env)...)
			if err := cmd.Start(); err != nil {
				rt.Log.Warn("hook command failed to start",
					"trigger", trigger, "command", command, "err", err)
			}
		}
		return &Result{Trigger: trigger, Outcome: OutcomeAsync}, nil
	}

	var results []CommandResult
	for _, command := range cfg.Commands {
		res, err := rt.runBlocking(ctx, cfg, command, env)
		results = append(results, res)
		if res.Success {
			continue
		}

		policy := cfg.resolvedOnFailure(trigger)
		outcome := OutcomeContinuedAfterFailure
		if policy == OnFailureAbort {
			outcome = OutcomeAbort
		}
		return &Result{
			Trigger:  trigger,
			Outcome:  outcome,
			Command:  command,
			Err:      err,
			Commands: results,
		}, nil
	}

	return &Result{Trigger: trigger, Outcome: OutcomeSuccess, Commands: results}, nil
}

func (rt *Runtime) runBlocking(ctx context.Context, cfg TriggerConfig, command string, env map[string]string) (CommandResult, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	name, args := shellCommand(command)
	var stdout, stderr bytes.Buffer
	cmd := xec.Command(timeoutCtx, rt.Log, name, args...).
		WithDir(rt.Context.RepoPath).
		AppendEnv(envSlice(env)...).
		WithStdout(&stdout).
		WithStderr(&stderr)

	err := cmd.Run()
	result := CommandResult{
		Command: command,
		Success: err == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	if err == nil {
		zero := 0
		result.ExitCode = &zero
		return result, nil
	}

	if timeoutCtx.Err() == context.DeadlineExceeded {
		// Hard kill on expiry: exit code is unknown, not the signal
		// exit status Go reports for a killed process.
		return result, fmt.Errorf("command %q timed out after %s", command, cfg.timeout())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		result.ExitCode = &code
	}
	return result, fmt.Errorf("command %q: %w", command, err)
}

// Run implements the narrow [HookRunner]-style interface consumed by
// internal/cherrypick and internal/finalize: it runs trigger and turns
// an Abort outcome into an error so the caller can fail fast without
// inspecting a [Result] itself.
func (rt *Runtime) Run(ctx context.Context, trigger string, extra map[string]string) error {
	result, err := rt.RunTrigger(ctx, Trigger(trigger), extra)
	if err != nil {
		return err
	}
	if result.Outcome == OutcomeAbort {
		return fmt.Errorf("hook %s aborted on %q: %w", trigger, result.Command, result.Err)
	}
	return nil
}

func shellCommand(command string) (name string, args []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}

func mergeEnv(base, extra map[string]string) map[string]string {
	env := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

