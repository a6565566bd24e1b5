package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"go.mergers.dev/mergers/internal/cmputil"
	"go.mergers.dev/mergers/internal/config"
	"go.mergers.dev/mergers/internal/hooks"
	"go.mergers.dev/mergers/internal/secret"
	"go.mergers.dev/mergers/internal/secret/secrettest"
	"go.mergers.dev/mergers/internal/silog"
	"go.mergers.dev/mergers/internal/sliceutil"
)

// fileConfig is the shape of the optional YAML config file. Every
// field is optional: a file may set only the values a host wants to
// override, leaving the rest to flags, environment variables, or
// defaults.
type fileConfig struct {
	Organization string `yaml:"organization"`
	Project      string `yaml:"project"`
	Repository   string `yaml:"repository"`
	PAT          string `yaml:"pat"`

	DevBranch    string `yaml:"dev_branch"`
	TargetBranch string `yaml:"target_branch"`

	TagPrefix      string   `yaml:"tag_prefix"`
	Release        string   `yaml:"release"`
	WorkItemState  string   `yaml:"work_item_state"`
	TerminalStates []string `yaml:"terminal_states"`

	MaxConcurrentNetwork    int `yaml:"max_concurrent_network"`
	MaxConcurrentProcessing int `yaml:"max_concurrent_processing"`

	Since string `yaml:"since"`

	Hooks fileHooksConfig `yaml:"hooks"`
}

type fileHooksConfig struct {
	PostCheckout   fileTriggerConfig `yaml:"post_checkout"`
	PreCherryPick  fileTriggerConfig `yaml:"pre_cherry_pick"`
	PostCherryPick fileTriggerConfig `yaml:"post_cherry_pick"`
	PostMerge      fileTriggerConfig `yaml:"post_merge"`
	OnConflict     fileTriggerConfig `yaml:"on_conflict"`
	PostComplete   fileTriggerConfig `yaml:"post_complete"`
}

type fileTriggerConfig struct {
	Commands    []string `yaml:"commands"`
	OnFailure   string   `yaml:"on_failure"` // "abort" or "continue"
	Async       bool     `yaml:"async"`
	TimeoutSecs uint64   `yaml:"timeout_secs"`
}

func (f fileTriggerConfig) toHooks() (hooks.TriggerConfig, error) {
	tc := hooks.TriggerConfig{
		Commands:    f.Commands,
		TimeoutSecs: f.TimeoutSecs,
	}
	if f.Async {
		tc.Execution = hooks.Async
	}
	switch f.OnFailure {
	case "":
		tc.OnFailure = hooks.OnFailureDefault
	case "abort":
		tc.OnFailure = hooks.OnFailureAbort
	case "continue":
		tc.OnFailure = hooks.OnFailureContinue
	default:
		return hooks.TriggerConfig{}, fmt.Errorf("on_failure: unrecognized value %q", f.OnFailure)
	}
	return tc, nil
}

func (f fileHooksConfig) toHooks() (hooks.Config, error) {
	var (
		cfg hooks.Config
		err error
	)
	if cfg.PostCheckout, err = f.PostCheckout.toHooks(); err != nil {
		return hooks.Config{}, fmt.Errorf("post_checkout: %w", err)
	}
	if cfg.PreCherryPick, err = f.PreCherryPick.toHooks(); err != nil {
		return hooks.Config{}, fmt.Errorf("pre_cherry_pick: %w", err)
	}
	if cfg.PostCherryPick, err = f.PostCherryPick.toHooks(); err != nil {
		return hooks.Config{}, fmt.Errorf("post_cherry_pick: %w", err)
	}
	if cfg.PostMerge, err = f.PostMerge.toHooks(); err != nil {
		return hooks.Config{}, fmt.Errorf("post_merge: %w", err)
	}
	if cfg.OnConflict, err = f.OnConflict.toHooks(); err != nil {
		return hooks.Config{}, fmt.Errorf("on_conflict: %w", err)
	}
	if cfg.PostComplete, err = f.PostComplete.toHooks(); err != nil {
		return hooks.Config{}, fmt.Errorf("post_complete: %w", err)
	}
	return cfg, nil
}

// loadFileConfig reads and parses a YAML config file. A missing path
// is not an error: it yields the zero fileConfig, so every field
// falls through to flags, environment variables, or defaults.
func loadFileConfig(path string) (fileConfig, error) {
	if path == "" {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// resolveConfig builds the core's [config.AppConfig] from, in
// descending precedence: command-line flags (kong has already merged
// these with environment variables, since every flag that accepts one
// declares its env tag), the YAML config file, and the package
// defaults. The personal access token additionally falls back to the
// secret stash populated by "mergers auth-login" when none of those
// sources supply one.
//
// Mode-specific fields and [config.Validate] are left to each
// subcommand, which knows which mode it runs in.
func resolveConfig(opts globalOptions, log *silog.Logger) (*config.AppConfig, error) {
	fc, err := loadFileConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	hooksCfg, err := fc.Hooks.toHooks()
	if err != nil {
		return nil, fmt.Errorf("hooks: %w", err)
	}

	cfg := &config.AppConfig{
		Organization:            firstNonEmpty(opts.Organization, fc.Organization),
		Project:                 firstNonEmpty(opts.Project, fc.Project),
		Repository:              firstNonEmpty(opts.Repository, fc.Repository),
		PAT:                     firstNonEmpty(opts.PAT, fc.PAT),
		DevBranch:               firstNonEmpty(opts.DevBranch, fc.DevBranch),
		TargetBranch:            firstNonEmpty(opts.TargetBranch, fc.TargetBranch),
		TagPrefix:               fc.TagPrefix,
		Version:                 firstNonEmpty(opts.Release, fc.Release),
		WorkItemState:           fc.WorkItemState,
		TerminalStates:          sliceutil.RemoveFunc(fc.TerminalStates, cmputil.Zero),
		MaxConcurrentNetwork:    fc.MaxConcurrentNetwork,
		MaxConcurrentProcessing: fc.MaxConcurrentProcessing,
		Since:                   fc.Since,
		Hooks:                   hooksCfg,
	}
	cfg.ApplyDefaults()

	if cfg.PAT == "" && cfg.Organization != "" {
		if pat, err := defaultSecretStash(log).LoadSecret(patStashService, cfg.Organization); err == nil {
			cfg.PAT = pat
		}
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// patStashService is the service name personal access tokens are
// saved under in the secret stash, keyed further by organization.
const patStashService = "mergers-pat"

// defaultSecretStash returns the stash used to persist and retrieve
// personal access tokens: the OS keyring when available, falling back
// to a plain-text file under the user's config directory when it
// isn't (headless CI runners, platforms go-keyring doesn't support).
//
// MERGERS_TEST_SECRET_STASH_URL points integration tests at a
// [secrettest.Server] instead of the real OS keyring: a subprocess
// under testscript can't share an in-memory stash with the test
// binary that spawned it, so it talks to one over HTTP instead.
func defaultSecretStash(log *silog.Logger) secret.Stash {
	if u := os.Getenv("MERGERS_TEST_SECRET_STASH_URL"); u != "" {
		client, err := secrettest.NewClient(u)
		if err != nil {
			log.Warn("invalid MERGERS_TEST_SECRET_STASH_URL, ignoring", "err", err)
		} else {
			return client
		}
	}

	return &secret.FallbackStash{
		Primary:   new(secret.Keyring),
		Secondary: &secret.InsecureStash{Path: insecureStashPath(), Log: log},
	}
}

// insecureStashPath is where the fallback plain-text secret stash
// lives when the OS keyring is unavailable.
func insecureStashPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mergers", "secrets.json")
}
