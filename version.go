package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// _version is overridden at build time with -ldflags
// "-X main._version=...". Left at "dev" for local builds.
var _version = "dev"

// versionFlag implements a --version flag that prints the program's
// version and exits immediately, without running any command.
type versionFlag bool

func (v versionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v versionFlag) IsBool() bool                         { return true }

func (v versionFlag) BeforeReset(app *kong.Kong) error {
	fmt.Fprintln(app.Stdout, "mergers "+_version)
	app.Exit(0)
	return nil
}

// versionCmd is the explicit "version" subcommand, equivalent to
// --version but usable in contexts where a flag is less discoverable.
type versionCmd struct {
	Short bool `help:"Print only the version number."`
}

func (cmd *versionCmd) Run(app *kong.Kong) error {
	if cmd.Short {
		fmt.Fprintln(app.Stdout, _version)
		return nil
	}
	fmt.Fprintln(app.Stdout, "mergers "+_version)
	return nil
}
