// Package conflict adapts operator intents into the cherry-pick
// engine's paused-conflict transitions.
package conflict

import (
	"context"

	"go.mergers.dev/mergers/internal/cherrypick"
)

// Engine is the subset of [cherrypick.Engine] the broker needs.
type Engine interface {
	Paused() bool
	ConflictFiles(ctx context.Context) ([]string, error)
	Resume(ctx context.Context, emit cherrypick.EventFunc) error
	Skip(ctx context.Context, emit cherrypick.EventFunc) error
	Abort(ctx context.Context) error
}

var _ Engine = (*cherrypick.Engine)(nil)

// Broker is a thin adapter around a paused [cherrypick.Engine].
// It translates operator intents — from a UI or a continue/abort
// sub-command in non-interactive mode — into the engine's resume,
// skip, and abort transitions, and lets an operator poll the
// conflicted-file set repeatedly without side effects.
type Broker struct {
	Engine Engine // required
}

// Files re-inspects the worktree and returns the unmerged paths of the
// currently paused item. Safe to call repeatedly; it never mutates
// engine state.
func (b *Broker) Files(ctx context.Context) ([]string, error) {
	return b.Engine.ConflictFiles(ctx)
}

// Paused reports whether the engine is currently paused on a conflict.
func (b *Broker) Paused() bool {
	return b.Engine.Paused()
}

// Resume asks the engine to re-inspect the worktree and continue the
// cherry-pick if no conflicts remain.
func (b *Broker) Resume(ctx context.Context, emit cherrypick.EventFunc) error {
	return b.Engine.Resume(ctx, emit)
}

// Skip asks the engine to record the paused item as Failed("skipped")
// and advance the sequencer.
func (b *Broker) Skip(ctx context.Context, emit cherrypick.EventFunc) error {
	return b.Engine.Skip(ctx, emit)
}

// Abort asks the engine to tear down the in-progress cherry-pick and
// halt the sequencer. Remaining items stay Pending.
func (b *Broker) Abort(ctx context.Context) error {
	return b.Engine.Abort(ctx)
}
