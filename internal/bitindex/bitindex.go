// Package bitindex builds compressed bitmap indices over the files and
// line ranges touched by a set of pull requests.
//
// The index exists to make the dependency analyzer's Θ(n²) pairwise PR
// comparison cheap: once files and lines are represented as bitmaps,
// "do these two PRs touch the same file" and "do these two PRs touch
// the same lines of that file" both reduce to a bitmap AND followed by
// an emptiness check, instead of set operations over paths and line
// numbers directly.
package bitindex

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"go.mergers.dev/mergers/internal/must"
	"go.mergers.dev/mergers/internal/silog"
)

// FileID is a dense, stable identifier for a file path,
// assigned in first-encounter order across the input.
type FileID uint32

// ChangeKind is the kind of change a FileChange represents.
type ChangeKind int

const (
	// Add indicates the file was newly created.
	Add ChangeKind = iota
	// Modify indicates the file's contents were changed in place.
	Modify
	// Delete indicates the file was removed.
	Delete
	// Rename indicates the file moved from PriorPath to Path.
	Rename
	// Copy indicates the file was copied from PriorPath to Path.
	Copy
)

// LineRange is a 1-based inclusive range of line numbers.
type LineRange struct {
	Start int
	End   int
}

// Overlaps reports whether r and o share at least one line number.
//
// Adjacent ranges that share a single boundary line (e.g. 1-5 and
// 5-10) are considered overlapping.
func (r LineRange) Overlaps(o LineRange) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// FileChange describes one file touched by a pull request.
type FileChange struct {
	// Path is the repo-relative path after the change.
	Path string

	// PriorPath is the repo-relative path before the change,
	// set for Rename and Copy changes.
	PriorPath string

	Kind ChangeKind

	// Ranges are the line ranges touched by this change.
	// Non-overlapping within a single FileChange, not necessarily minimal.
	// May be empty for pure Add/Delete changes.
	Ranges []LineRange
}

// PRID identifies a pull request for the purposes of the index and the
// dependency analyzer built on top of it.
type PRID int32

// Index is a read-only, concurrency-safe bitmap index over a set of
// pull requests' file changes.
//
// An Index is built once by Build and never mutated afterward; it may
// be shared by reference across goroutines, such as the dependency
// analyzer's parallel pairwise comparison pass.
type Index struct {
	fileByPath map[string]FileID
	pathByFile []string // index == FileID

	// prFiles[pr] is the set of FileIDs touched by pr (both Path and
	// PriorPath register an id).
	prFiles map[PRID]*roaring.Bitmap

	// prLines[pr][file] is the set of line numbers touched by pr in
	// file. Absent when the change carried no line ranges (pure
	// Add/Delete).
	prLines map[PRID]map[FileID]*roaring.Bitmap
}

// FilePath returns the path registered for the given FileID.
func (idx *Index) FilePath(id FileID) string {
	if int(id) >= len(idx.pathByFile) {
		return ""
	}
	return idx.pathByFile[id]
}

// FileID returns the id assigned to path, if any.
func (idx *Index) FileID(path string) (FileID, bool) {
	id, ok := idx.fileByPath[path]
	return id, ok
}

// Files returns the set of files touched by pr, or nil if pr is
// unknown to the index.
func (idx *Index) Files(pr PRID) *roaring.Bitmap {
	return idx.prFiles[pr]
}

// Lines returns the set of line numbers touched by pr in file, or nil
// if pr never touched file with an explicit line range.
func (idx *Index) Lines(pr PRID, file FileID) *roaring.Bitmap {
	perFile := idx.prLines[pr]
	if perFile == nil {
		return nil
	}
	return perFile[file]
}

// Build constructs an Index from a set of pull requests' file changes.
//
// The construction is a three-pass algorithm:
//
//  1. a sequential dictionary pass, assigning each distinct path (and
//     prior path) a stable FileID in encounter order, so the result is
//     deterministic given the iteration order of prs;
//  2. a parallel file-bitmap pass, building the set of files touched
//     by each PR;
//  3. a parallel line-bitmap pass, building the set of lines touched
//     by each PR in each file it changed.
//
// prs must be supplied in a deterministic order (e.g. chronological by
// closed-at, as the dependency analyzer requires) for the resulting
// FileIDs to be reproducible across runs on identical input.
func Build(ctx context.Context, log *silog.Logger, prs []PRID, changes map[PRID][]FileChange, workers int) (*Index, error) {
	if log == nil {
		log = silog.Nop()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	idx := &Index{
		fileByPath: make(map[string]FileID),
		prFiles:    make(map[PRID]*roaring.Bitmap, len(prs)),
		prLines:    make(map[PRID]map[FileID]*roaring.Bitmap, len(prs)),
	}

	// Pass 1: sequential dictionary assignment.
	assign := func(path string) FileID {
		if path == "" {
			must.Failf("empty path encountered while building file dictionary")
		}
		if id, ok := idx.fileByPath[path]; ok {
			return id
		}
		id := FileID(len(idx.pathByFile))
		idx.fileByPath[path] = id
		idx.pathByFile = append(idx.pathByFile, path)
		return id
	}
	for _, pr := range prs {
		for _, ch := range changes[pr] {
			assign(ch.Path)
			if ch.PriorPath != "" {
				assign(ch.PriorPath)
			}
		}
	}
	log.Debug("Built file dictionary", "files", len(idx.pathByFile), "prs", len(prs))

	// Passes 2 and 3 are independent per-PR, so they're fanned out
	// across a bounded worker pool and merged back under a mutex.
	var (
		mu  sync.Mutex
		sem = make(chan struct{}, workers)
		wg  sync.WaitGroup
	)
	for _, pr := range prs {
		pr := pr
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			files := roaring.New()
			lines := make(map[FileID]*roaring.Bitmap)
			for _, ch := range changes[pr] {
				fid, ok := idx.fileByPath[ch.Path]
				must.Bef(ok, "file %q was not assigned an id", ch.Path)
				files.Add(uint32(fid))

				if ch.PriorPath != "" {
					pid, ok := idx.fileByPath[ch.PriorPath]
					must.Bef(ok, "prior path %q was not assigned an id", ch.PriorPath)
					files.Add(uint32(pid))
				}

				if len(ch.Ranges) == 0 {
					continue
				}
				bm, ok := lines[fid]
				if !ok {
					bm = roaring.New()
					lines[fid] = bm
				}
				for _, r := range ch.Ranges {
					must.Bef(r.Start <= r.End, "invalid line range %d-%d in %q", r.Start, r.End, ch.Path)
					bm.AddRange(uint64(r.Start), uint64(r.End)+1)
				}
			}

			mu.Lock()
			idx.prFiles[pr] = files
			if len(lines) > 0 {
				idx.prLines[pr] = lines
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for pr, perFile := range idx.prLines {
		files := idx.prFiles[pr]
		for fid := range perFile {
			must.Bef(files.Contains(uint32(fid)),
				"pr_lines invariant violated: pr %d file %d not in pr_files", pr, fid)
		}
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("build bitmap index: %w", ctx.Err())
	default:
	}

	return idx, nil
}

// RangesFromBitmap recovers an ordered sequence of line ranges from a
// bitmap of line numbers, fusing runs of consecutive set bits.
//
// This is used only to produce human-readable diagnostics
// (overlapping_files payloads); the yes/no overlap decision should use
// bitmap intersection emptiness directly.
func RangesFromBitmap(bm *roaring.Bitmap) []LineRange {
	if bm == nil || bm.IsEmpty() {
		return nil
	}

	it := bm.Iterator()
	var ranges []LineRange
	start := -1
	prev := -1
	for it.HasNext() {
		v := int(it.Next())
		switch {
		case start == -1:
			start, prev = v, v
		case v == prev+1:
			prev = v
		default:
			ranges = append(ranges, LineRange{Start: start, End: prev})
			start, prev = v, v
		}
	}
	if start != -1 {
		ranges = append(ranges, LineRange{Start: start, End: prev})
	}
	return ranges
}

// SortedPRIDs returns prs sorted ascending, used wherever deterministic
// iteration order matters (e.g. building warnings in a reproducible
// order for tests).
func SortedPRIDs(prs []PRID) []PRID {
	out := append([]PRID(nil), prs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
