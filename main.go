// mergers drives a pull-request merge train: it loads the completed
// PRs targeting a development branch, analyzes them for file- and
// line-level dependencies, and promotes a selected subset onto a
// release branch by cherry-picking their merge commits in
// chronological order, tagging each one and advancing its linked work
// items as it goes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"go.mergers.dev/mergers/internal/silog"
	"go.mergers.dev/mergers/internal/text"
)

var description = text.Dedent(`
	Drives a pull-request merge train against a hosted git service:
	loads completed pull requests targeting a development branch,
	reports dependencies between them, and promotes a selected subset
	onto a release branch by cherry-picking their merge commits.
`)

func main() {
	log := silog.New(os.Stderr, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var cmd mainCmd
	kctx := kong.Parse(
		&cmd,
		kong.Name("mergers"),
		kong.Description(description),
		kong.Bind(log, &cmd.globalOptions),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.UsageOnError(),
	)

	kctx.FatalIfErrorf(kctx.Run())
}

type globalOptions struct {
	Organization string `env:"MERGERS_ORGANIZATION" help:"Azure DevOps organization name."`
	Project      string `env:"MERGERS_PROJECT" help:"Azure DevOps team project."`
	Repository   string `env:"MERGERS_REPOSITORY" help:"Repository name or ID within the project."`
	BaseURL      string `env:"MERGERS_BASE_URL" default:"https://dev.azure.com" help:"Azure DevOps base API URL (Server deployments use their own host)."`

	PAT string `env:"MERGERS_PAT" help:"Personal access token. Falls back to the OS keyring entry saved by 'mergers auth login' when unset."`

	DevBranch    string `env:"MERGERS_DEV_BRANCH" help:"Branch completed pull requests target."`
	TargetBranch string `env:"MERGERS_TARGET_BRANCH" help:"Release branch to promote onto."`
	Release      string `env:"MERGERS_RELEASE" help:"Release identifier appended to the tag prefix and recorded in hook environment, e.g. '2024.11.0'."`

	RepoPath string `name:"repo" default:"." help:"Path to a local clone used as the worktree source."`

	ConfigFile string `name:"config" type:"path" help:"Path to a YAML config file supplying any of the above."`

	Verbose bool `short:"v" help:"Enable debug logging."`
}

type mainCmd struct {
	globalOptions

	Version    versionFlag `name:"version" help:"Print version information and quit."`
	VersionCmd versionCmd  `cmd:"" name:"version" help:"Print version information and quit."`

	List    listCmd    `cmd:"" help:"List pull requests targeting the development branch."`
	Analyze analyzeCmd `cmd:"" help:"Report file- and line-level dependencies between pull requests."`
	Promote promoteCmd `cmd:"" help:"Cherry-pick selected pull requests onto the release branch."`
	Migrate migrateCmd `cmd:"" help:"Classify which completed pull requests already reached the release branch."`

	AuthLogin  authLoginCmd  `cmd:"" name:"auth-login" help:"Save a personal access token to the OS keyring."`
	AuthLogout authLogoutCmd `cmd:"" name:"auth-logout" help:"Remove the saved personal access token."`
}

func (cmd *mainCmd) AfterApply(kctx *kong.Context, log *silog.Logger) error {
	if cmd.Verbose {
		log.SetLevel(silog.LevelDebug)
	}

	cfg, err := resolveConfig(cmd.globalOptions, log)
	if err != nil {
		return fmt.Errorf("resolve configuration: %w", err)
	}
	kctx.Bind(cfg)

	return nil
}
