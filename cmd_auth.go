package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"go.mergers.dev/mergers/internal/silog"
)

type authLoginCmd struct{}

func (cmd *authLoginCmd) Run(ctx context.Context, log *silog.Logger, globalOpts *globalOptions) error {
	if globalOpts.Organization == "" {
		return errors.New("--organization (or $MERGERS_ORGANIZATION) is required to scope the saved token")
	}

	pat, err := readPAT()
	if err != nil {
		return err
	}
	if pat == "" {
		return errors.New("personal access token must not be empty")
	}

	if err := defaultSecretStash(log).SaveSecret(patStashService, globalOpts.Organization, pat); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	fmt.Printf("Saved personal access token for organization %q.\n", globalOpts.Organization)
	return nil
}

type authLogoutCmd struct{}

func (cmd *authLogoutCmd) Run(ctx context.Context, log *silog.Logger, globalOpts *globalOptions) error {
	if globalOpts.Organization == "" {
		return errors.New("--organization (or $MERGERS_ORGANIZATION) is required to identify the token to remove")
	}

	if err := defaultSecretStash(log).DeleteSecret(patStashService, globalOpts.Organization); err != nil {
		return fmt.Errorf("remove token: %w", err)
	}

	fmt.Printf("Removed personal access token for organization %q.\n", globalOpts.Organization)
	return nil
}

// readPAT prompts for a personal access token without echoing it to
// the terminal, falling back to a plain line read when stdin isn't a
// terminal (e.g. piped input in a script).
func readPAT() (string, error) {
	fmt.Fprint(os.Stderr, "Personal access token: ")

	if term.IsTerminal(int(os.Stdin.Fd())) {
		bs, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(bs)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}
