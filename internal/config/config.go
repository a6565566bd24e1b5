// Package config validates the resolved application configuration the
// core is handed before a run starts. It does not load, merge, or
// apply precedence across flags, environment variables, or files —
// that happens upstream; this package only checks that the result is
// usable.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mergers.dev/mergers/internal/hooks"
)

// Mode selects which set of fields Validate requires.
type Mode int

const (
	// ModeMerge runs the cherry-pick/tag/work-item-transition flow.
	ModeMerge Mode = iota
	// ModeMigration runs the read-only classification flow.
	ModeMigration
)

// Defaults for fields the host leaves unset.
const (
	DefaultTagPrefix     = "merged-"
	DefaultWorkItemState = "Next Merged"
)

// AppConfig is the configuration surface the core requires, after
// whatever precedence chain (CLI > env > git-derived > file >
// defaults) the caller applies.
type AppConfig struct {
	Mode Mode

	Organization string
	Project      string
	Repository   string
	PAT          string

	DevBranch    string
	TargetBranch string

	TagPrefix     string
	Version       string
	WorkItemState string // required in ModeMerge

	// TerminalStates is the set of work-item states that mark a work
	// item as already resolved, required in ModeMigration.
	TerminalStates []string

	MaxConcurrentNetwork    int
	MaxConcurrentProcessing int

	// Since, if set, is either "<number><unit>" (unit in h, d, w, mo)
	// or an ISO-8601 datetime. Empty disables the filter.
	Since string

	Hooks hooks.Config
}

// ApplyDefaults fills in the documented defaults for fields the caller
// left at their zero value. It does not validate.
func (c *AppConfig) ApplyDefaults() {
	if c.TagPrefix == "" {
		c.TagPrefix = DefaultTagPrefix
	}
	if c.Mode == ModeMerge && c.WorkItemState == "" {
		c.WorkItemState = DefaultWorkItemState
	}
}

// Validate checks AppConfig against the constraints required of every
// run, returning a joined error describing every violation found
// (not just the first), so a misconfigured host learns everything
// that's wrong in one pass.
func Validate(c AppConfig) error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	check(nonEmpty("organization", c.Organization))
	check(nonEmpty("project", c.Project))
	check(nonEmpty("repository", c.Repository))
	check(nonEmpty("pat", c.PAT))

	check(validRef("dev_branch", c.DevBranch))
	check(validRef("target_branch", c.TargetBranch))

	check(nonEmpty("tag_prefix", c.TagPrefix))

	switch c.Mode {
	case ModeMerge:
		check(nonEmpty("work_item_state", c.WorkItemState))
	case ModeMigration:
		check(validTerminalStates(c.TerminalStates))
	default:
		errs = append(errs, fmt.Errorf("mode: unrecognized mode %d", c.Mode))
	}

	check(positive("max_concurrent_network", c.MaxConcurrentNetwork))
	check(positive("max_concurrent_processing", c.MaxConcurrentProcessing))

	if c.Since != "" {
		check(validSince(c.Since))
	}

	for trigger, tc := range hookTriggerConfigs(c.Hooks) {
		check(validHookTrigger(trigger, tc))
	}

	return errors.Join(errs...)
}

func nonEmpty(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s: must not be empty", field)
	}
	return nil
}

func positive(field string, value int) error {
	if value <= 0 {
		return fmt.Errorf("%s: must be greater than zero, got %d", field, value)
	}
	return nil
}

func validTerminalStates(states []string) error {
	if len(states) == 0 {
		return errors.New("terminal_states: must not be empty in migration mode")
	}
	for _, s := range states {
		if strings.TrimSpace(s) == "" {
			return errors.New("terminal_states: entries must not be blank")
		}
		if s != strings.TrimSpace(s) {
			return fmt.Errorf("terminal_states: entry %q must be trimmed", s)
		}
	}
	return nil
}

// refComponentPattern rejects the git ref-name syntax errors that
// matter for a branch name supplied as configuration: empty
// components, a leading dot or dash, "..", and the small set of
// characters check-ref-format(1) disallows everywhere.
var refComponentPattern = regexp.MustCompile(`^[^.\-/][^\x00-\x1f\x7f ~^:?*\[\\]*$`)

func validRef(field, ref string) error {
	if ref == "" {
		return fmt.Errorf("%s: must not be empty", field)
	}
	if strings.HasPrefix(ref, "/") || strings.HasSuffix(ref, "/") || strings.Contains(ref, "//") {
		return fmt.Errorf("%s: %q has a malformed path separator", field, ref)
	}
	if strings.Contains(ref, "..") {
		return fmt.Errorf("%s: %q must not contain '..'", field, ref)
	}
	if strings.HasSuffix(ref, ".lock") || strings.HasSuffix(ref, "/") || strings.HasSuffix(ref, ".") {
		return fmt.Errorf("%s: %q has a reserved suffix", field, ref)
	}
	for _, component := range strings.Split(ref, "/") {
		if !refComponentPattern.MatchString(component) {
			return fmt.Errorf("%s: %q is not a valid git ref", field, ref)
		}
	}
	return nil
}

var sinceDurationPattern = regexp.MustCompile(`^([0-9]+)(h|d|w|mo)$`)

func validSince(since string) error {
	if m := sinceDurationPattern.FindStringSubmatch(since); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return nil
		}
		return fmt.Errorf("since: %q has a zero or invalid magnitude", since)
	}
	if _, err := time.Parse(time.RFC3339, since); err == nil {
		return nil
	}
	if _, err := time.Parse("2006-01-02", since); err == nil {
		return nil
	}
	return fmt.Errorf("since: %q is neither '<number><unit>' (h/d/w/mo) nor an ISO-8601 datetime", since)
}

// hookTriggerConfigs flattens the six fixed trigger slots on
// [hooks.Config] into a map for uniform validation.
func hookTriggerConfigs(cfg hooks.Config) map[hooks.Trigger]hooks.TriggerConfig {
	return map[hooks.Trigger]hooks.TriggerConfig{
		hooks.TriggerPostCheckout:   cfg.PostCheckout,
		hooks.TriggerPreCherryPick:  cfg.PreCherryPick,
		hooks.TriggerPostCherryPick: cfg.PostCherryPick,
		hooks.TriggerPostMerge:      cfg.PostMerge,
		hooks.TriggerOnConflict:     cfg.OnConflict,
		hooks.TriggerPostComplete:   cfg.PostComplete,
	}
}

func validHookTrigger(trigger hooks.Trigger, tc hooks.TriggerConfig) error {
	const maxTimeoutSecs = 24 * 60 * 60
	if tc.TimeoutSecs > maxTimeoutSecs {
		return fmt.Errorf("hooks[%s]: timeout_secs must not exceed %d", trigger, maxTimeoutSecs)
	}
	return nil
}

// SinceDuration parses a "<number><unit>" Since value (unit in h, d,
// w, mo) into how far back it reaches from now. Callers resolving an
// ISO-8601 Since should use time.Parse directly; this only covers the
// relative form.
func SinceDuration(since string) (time.Duration, bool) {
	m := sinceDurationPattern.FindStringSubmatch(since)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "h":
		return time.Duration(n) * time.Hour, true
	case "d":
		return time.Duration(n) * 24 * time.Hour, true
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, true
	case "mo":
		return time.Duration(n) * 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
