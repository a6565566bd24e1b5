package git

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// FileDiff describes one file's change between two commits, including
// the line ranges touched on the new side of the diff.
type FileDiff struct {
	// Path is the file's path after the change.
	Path string

	// PriorPath is the file's path before the change. Set only for
	// FileRenamed and FileCopied.
	PriorPath string

	// Status is the file's change kind, using the same codes as
	// [FileStatus.Status].
	Status FileStatusCode

	// Ranges are the new-side line ranges touched by this file's
	// hunks. Empty for a pure deletion, or for a rename/copy that
	// changed no line content.
	Ranges []LineRange
}

// LineRange is a 1-based inclusive range of line numbers.
type LineRange struct {
	Start int
	End   int
}

var hunkHeaderPattern = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// FileChangesBetween returns the files changed between base and head
// (as by `git diff base head`), along with the new-side line ranges
// each file's hunks touch. Rename and copy detection is enabled, so a
// file moved without modification is reported with no ranges.
func (r *Repository) FileChangesBetween(ctx context.Context, base, head string) ([]FileDiff, error) {
	cmd := r.gitCmd(ctx,
		"diff", "--no-color", "-M", "-C", "--unified=0", base, head,
	)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	if err := cmd.Start(r.exec); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	diffs, err := parseFileDiffs(out)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	if err := cmd.Wait(r.exec); err != nil {
		return nil, fmt.Errorf("git diff: %w", err)
	}
	return diffs, nil
}

func parseFileDiffs(r io.Reader) ([]FileDiff, error) {
	var (
		diffs []FileDiff
		cur   *FileDiff
	)
	finish := func() {
		if cur != nil {
			diffs = append(diffs, *cur)
			cur = nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "diff --git "):
			finish()
			path := diffGitPath(line)
			cur = &FileDiff{Path: path, Status: FileModified}

		case strings.HasPrefix(line, "new file mode"):
			if cur != nil {
				cur.Status = FileAdded
			}
		case strings.HasPrefix(line, "deleted file mode"):
			if cur != nil {
				cur.Status = FileDeleted
			}
		case strings.HasPrefix(line, "rename from "):
			if cur != nil {
				cur.Status = FileRenamed
				cur.PriorPath = strings.TrimPrefix(line, "rename from ")
			}
		case strings.HasPrefix(line, "copy from "):
			if cur != nil {
				cur.Status = FileCopied
				cur.PriorPath = strings.TrimPrefix(line, "copy from ")
			}
		case strings.HasPrefix(line, "rename to "), strings.HasPrefix(line, "copy to "):
			// Path is already taken from the "diff --git" header.

		case strings.HasPrefix(line, "@@ "):
			if cur == nil {
				continue
			}
			if rng, ok := parseHunkRange(line); ok {
				cur.Ranges = append(cur.Ranges, rng)
			}
		}
	}
	finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return diffs, nil
}

// diffGitPath extracts the "b/" path from a "diff --git a/X b/Y"
// header line. Falls back to the raw suffix if the expected a/ b/
// prefixes aren't present (e.g. diff.noprefix is configured).
func diffGitPath(line string) string {
	line = strings.TrimPrefix(line, "diff --git ")
	if idx := strings.Index(line, " b/"); idx >= 0 {
		return line[idx+len(" b/"):]
	}
	parts := strings.Fields(line)
	if len(parts) == 2 {
		return parts[1]
	}
	return line
}

// parseHunkRange parses a unified-diff hunk header's new-side range,
// e.g. "@@ -12,3 +12,0 @@" (hunk 1, hunk 2) or "@@ -0,0 +1,5 @@".
// A new-side count of zero means the hunk deleted lines without
// adding any; it contributes no range.
func parseHunkRange(line string) (LineRange, bool) {
	m := hunkHeaderPattern.FindStringSubmatch(line)
	if m == nil {
		return LineRange{}, false
	}

	start, err := strconv.Atoi(m[1])
	if err != nil {
		return LineRange{}, false
	}

	count := 1
	if m[2] != "" {
		count, err = strconv.Atoi(m[2])
		if err != nil {
			return LineRange{}, false
		}
	}
	if count == 0 {
		return LineRange{}, false
	}

	return LineRange{Start: start, End: start + count - 1}, true
}
