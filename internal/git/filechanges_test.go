package git_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mergers.dev/mergers/internal/git"
	"go.mergers.dev/mergers/internal/git/gittest"
	"go.mergers.dev/mergers/internal/silog/silogtest"
	"go.mergers.dev/mergers/internal/text"
)

func TestFileChangesBetween(t *testing.T) {
	t.Parallel()

	fixture, err := gittest.LoadFixtureScript([]byte(text.Dedent(`
		at '2026-01-01T00:00:00Z'

		cd repo
		git init
		cp $WORK/extra/a.txt .
		cp $WORK/extra/b.txt .
		git add a.txt b.txt
		git commit -m 'Initial commit'

		git mv b.txt c.txt
		cp $WORK/extra/a-modified.txt a.txt
		cp $WORK/extra/d.txt .
		git add -A
		git commit -m 'Change everything'

		-- extra/a.txt --
		line one
		line two
		line three
		-- extra/a-modified.txt --
		line one
		line TWO
		line three
		-- extra/b.txt --
		original contents
		line two of original
		line three of original
		-- extra/d.txt --
		brand new file
	`)))
	require.NoError(t, err)
	t.Cleanup(fixture.Cleanup)

	ctx := t.Context()
	repo, err := git.Open(ctx, filepath.Join(fixture.Dir(), "repo"), git.OpenOptions{
		Log: silogtest.New(t),
	})
	require.NoError(t, err)

	diffs, err := repo.FileChangesBetween(ctx, "HEAD~1", "HEAD")
	require.NoError(t, err)

	byPath := make(map[string]git.FileDiff, len(diffs))
	for _, d := range diffs {
		byPath[d.Path] = d
	}

	t.Run("Modified", func(t *testing.T) {
		t.Parallel()
		d, ok := byPath["a.txt"]
		require.True(t, ok, "a.txt not reported")
		assert.Equal(t, git.FileModified, d.Status)
		require.Len(t, d.Ranges, 1)
		assert.Equal(t, git.LineRange{Start: 2, End: 2}, d.Ranges[0])
	})

	t.Run("Renamed", func(t *testing.T) {
		t.Parallel()
		d, ok := byPath["c.txt"]
		require.True(t, ok, "c.txt not reported")
		assert.Equal(t, git.FileRenamed, d.Status)
		assert.Equal(t, "b.txt", d.PriorPath)
	})

	t.Run("Added", func(t *testing.T) {
		t.Parallel()
		d, ok := byPath["d.txt"]
		require.True(t, ok, "d.txt not reported")
		assert.Equal(t, git.FileAdded, d.Status)
		require.Len(t, d.Ranges, 1)
		assert.Equal(t, git.LineRange{Start: 1, End: 1}, d.Ranges[0])
	})
}

