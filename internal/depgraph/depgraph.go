// Package depgraph analyzes chronologically ordered pull requests for
// file- and line-level dependencies between them, and reports which
// selected PRs have an unselected predecessor they depend on.
package depgraph

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.abhg.dev/container/ring"
	"go.mergers.dev/mergers/internal/bitindex"
	"go.mergers.dev/mergers/internal/must"
	"go.mergers.dev/mergers/internal/silog"
)

// PR is the input shape the analyzer needs for one pull request.
// Prs must be supplied in chronological order (oldest first); Index
// within the slice is each PR's chronological position.
type PR struct {
	ID         bitindex.PRID
	Title      string
	IsSelected bool

	// CommitID is the PR's merge commit id. A PR with no commit
	// produces no edges in either direction.
	CommitID string
}

// Category classifies how two PRs relate to each other.
type Category int

const (
	// Independent PRs share no touched files. No edge is ever stored
	// for this category.
	Independent Category = iota
	// PartiallyDependent PRs share touched files but no overlapping
	// line ranges within them.
	PartiallyDependent
	// Dependent PRs share overlapping line ranges in at least one file.
	Dependent
)

func (c Category) String() string {
	switch c {
	case Independent:
		return "independent"
	case PartiallyDependent:
		return "partially-dependent"
	case Dependent:
		return "dependent"
	default:
		return "unknown"
	}
}

// OverlappingFile is one file both PRs touched with overlapping line
// ranges, and the ranges where they overlap.
type OverlappingFile struct {
	Path   string
	Ranges []bitindex.LineRange
}

// Edge records a dependency from a later PR (From) onto an earlier one
// (To). Edges only exist for non-Independent pairs.
type Edge struct {
	From bitindex.PRID
	To   bitindex.PRID

	Category Category

	// SharedFiles is set for both PartiallyDependent and Dependent.
	SharedFiles []string

	// OverlappingFiles is set only for Dependent.
	OverlappingFiles []OverlappingFile
}

// Node is one pull request's position in the dependency graph.
type Node struct {
	PRID       bitindex.PRID
	Title      string
	IsSelected bool

	// Outgoing holds edges from this PR to the earlier PRs it depends
	// on, deduplicated by To.
	Outgoing []Edge

	// Incoming holds the PRIDs of later PRs that depend on this one,
	// deduplicated.
	Incoming []bitindex.PRID
}

// Graph is the full dependency DAG over a set of PRs.
type Graph struct {
	Nodes map[bitindex.PRID]*Node

	// TopoOrder is a deterministic topological order (Kahn's
	// algorithm, ties broken by ascending PRID).
	TopoOrder []bitindex.PRID
}

// Warning reports that a selected PR depends on an unselected one.
type Warning struct {
	Selected   bitindex.PRID
	Unselected bitindex.PRID
	Category   Category
}

// IsCritical reports whether this warning must block promotion: only
// Dependent relationships are critical, PartiallyDependent is
// informational.
func (w Warning) IsCritical() bool {
	return w.Category == Dependent
}

// Result is the output of an analysis run.
type Result struct {
	Graph    *Graph
	Warnings []Warning
}

// Options configures an analysis run.
type Options struct {
	// WarnOnPartial enables warnings for PartiallyDependent edges.
	// Dependent edges always warn.
	WarnOnPartial bool

	// Workers bounds the pairwise-comparison worker pool used by
	// Parallel. Defaults to runtime.GOMAXPROCS(0).
	Workers int

	Log *silog.Logger
}

func (o *Options) logger() *silog.Logger {
	if o == nil || o.Log == nil {
		return silog.Nop()
	}
	return o.Log
}

func (o *Options) workers() int {
	if o == nil || o.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return o.Workers
}

func (o *Options) warnOnPartial() bool {
	return o != nil && o.WarnOnPartial
}

// Sequential analyzes prs using a single-threaded pairwise comparison.
// It exists primarily as the reference oracle for Parallel: the two
// must produce identical graphs and warning multisets on identical
// input.
func Sequential(ctx context.Context, prs []PR, changes map[bitindex.PRID][]bitindex.FileChange, opts *Options) (*Result, error) {
	return analyze(ctx, prs, changes, opts, classifyAllSequential)
}

// Parallel analyzes prs using a data-parallel worker pool for the
// pairwise comparison pass. Edge insertion into the graph is
// serialized after classification completes, so the result is
// order-invariant with respect to worker scheduling.
func Parallel(ctx context.Context, prs []PR, changes map[bitindex.PRID][]bitindex.FileChange, opts *Options) (*Result, error) {
	return analyze(ctx, prs, changes, opts, classifyAllParallel)
}

type pairResult struct {
	from, to bitindex.PRID
	category Category
	shared   []string
	overlaps []OverlappingFile
}

type classifyFunc func(ctx context.Context, idx *bitindex.Index, order []bitindex.PRID, workers int) []pairResult

func analyze(
	ctx context.Context,
	prs []PR,
	changes map[bitindex.PRID][]bitindex.FileChange,
	opts *Options,
	classify classifyFunc,
) (*Result, error) {
	log := opts.logger()

	ids := make([]bitindex.PRID, len(prs))
	byID := make(map[bitindex.PRID]PR, len(prs))
	nodes := make(map[bitindex.PRID]*Node, len(prs))
	for i, pr := range prs {
		ids[i] = pr.ID
		byID[pr.ID] = pr
		nodes[pr.ID] = &Node{PRID: pr.ID, Title: pr.Title, IsSelected: pr.IsSelected}
	}

	// PRs with no commit produce no edges in either direction.
	var withCommit []bitindex.PRID
	for _, pr := range prs {
		if pr.CommitID != "" {
			withCommit = append(withCommit, pr.ID)
		}
	}

	idx, err := bitindex.Build(ctx, log, withCommit, changes, opts.workers())
	if err != nil {
		return nil, fmt.Errorf("build bitmap index: %w", err)
	}

	pairs := classify(ctx, idx, withCommit, opts.workers())

	for _, p := range pairs {
		fromNode := nodes[p.from]
		toNode := nodes[p.to]
		fromNode.Outgoing = append(fromNode.Outgoing, Edge{
			From:             p.from,
			To:               p.to,
			Category:         p.category,
			SharedFiles:      p.shared,
			OverlappingFiles: p.overlaps,
		})
		toNode.Incoming = append(toNode.Incoming, p.from)
	}

	// Deduplicate (the classification pass never emits duplicate pairs,
	// but dedup keeps the invariant explicit and cheap to maintain).
	for _, n := range nodes {
		n.Outgoing = dedupEdges(n.Outgoing)
		n.Incoming = dedupPRIDs(n.Incoming)
	}

	graph := &Graph{Nodes: nodes}
	graph.TopoOrder = topoSort(ids, nodes)

	warnings := buildWarnings(ids, nodes, opts.warnOnPartial())

	return &Result{Graph: graph, Warnings: warnings}, nil
}

func dedupEdges(edges []Edge) []Edge {
	if len(edges) < 2 {
		return edges
	}
	seen := make(map[bitindex.PRID]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		if seen[e.To] {
			continue
		}
		seen[e.To] = true
		out = append(out, e)
	}
	return out
}

func dedupPRIDs(ids []bitindex.PRID) []bitindex.PRID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[bitindex.PRID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// classifyPair classifies the ordered pair (from, to) where to is
// chronologically earlier than from (to's index < from's index).
func classifyPair(idx *bitindex.Index, from, to bitindex.PRID) (Category, []string, []OverlappingFile) {
	fromFiles, toFiles := idx.Files(from), idx.Files(to)
	if fromFiles == nil || toFiles == nil {
		return Independent, nil, nil
	}

	shared := fromFiles.Clone()
	shared.And(toFiles)
	if shared.IsEmpty() {
		return Independent, nil, nil
	}

	sharedPaths := make([]string, 0, shared.GetCardinality())
	var overlaps []OverlappingFile
	it := shared.Iterator()
	for it.HasNext() {
		fid := bitindex.FileID(it.Next())
		path := idx.FilePath(fid)
		sharedPaths = append(sharedPaths, path)

		fromLines, toLines := idx.Lines(from, fid), idx.Lines(to, fid)
		if fromLines == nil || toLines == nil {
			continue
		}
		lineOverlap := fromLines.Clone()
		lineOverlap.And(toLines)
		if lineOverlap.IsEmpty() {
			continue
		}
		overlaps = append(overlaps, OverlappingFile{
			Path:   path,
			Ranges: bitindex.RangesFromBitmap(lineOverlap),
		})
	}
	sort.Strings(sharedPaths)
	sort.Slice(overlaps, func(i, j int) bool { return overlaps[i].Path < overlaps[j].Path })

	if len(overlaps) > 0 {
		return Dependent, sharedPaths, overlaps
	}
	return PartiallyDependent, sharedPaths, nil
}

func classifyAllSequential(_ context.Context, idx *bitindex.Index, order []bitindex.PRID, _ int) []pairResult {
	var results []pairResult
	for i := 1; i < len(order); i++ {
		for j := 0; j < i; j++ {
			from, to := order[i], order[j]
			cat, shared, overlaps := classifyPair(idx, from, to)
			if cat == Independent {
				continue
			}
			results = append(results, pairResult{from: from, to: to, category: cat, shared: shared, overlaps: overlaps})
		}
	}
	return results
}

func classifyAllParallel(_ context.Context, idx *bitindex.Index, order []bitindex.PRID, workers int) []pairResult {
	type job struct{ i, j int }
	jobs := make(chan job)
	resultsCh := make(chan pairResult, len(order))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for jb := range jobs {
				from, to := order[jb.i], order[jb.j]
				cat, shared, overlaps := classifyPair(idx, from, to)
				if cat == Independent {
					continue
				}
				resultsCh <- pairResult{from: from, to: to, category: cat, shared: shared, overlaps: overlaps}
			}
		}()
	}

	go func() {
		for i := 1; i < len(order); i++ {
			for j := 0; j < i; j++ {
				jobs <- job{i, j}
			}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var results []pairResult
	for r := range resultsCh {
		results = append(results, r)
	}
	// Edge insertion order must not matter to the final graph; sort
	// here purely so two runs (which may finish workers in different
	// orders) produce byte-identical Outgoing/Incoming slices before
	// the per-node dedup/iteration above.
	sort.Slice(results, func(i, j int) bool {
		if results[i].from != results[j].from {
			return results[i].from < results[j].from
		}
		return results[i].to < results[j].to
	})
	return results
}

// topoSort computes a deterministic topological order via Kahn's
// algorithm: the initial frontier is every node with zero non-Independent
// indegree, and ties are always broken by ascending PRID.
func topoSort(ids []bitindex.PRID, nodes map[bitindex.PRID]*Node) []bitindex.PRID {
	indegree := make(map[bitindex.PRID]int, len(ids))
	for _, id := range ids {
		indegree[id] = len(nodes[id].Outgoing)
	}

	var frontier []bitindex.PRID
	for _, id := range ids {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })

	var q ring.Q[bitindex.PRID]
	for _, id := range frontier {
		q.Push(id)
	}

	order := make([]bitindex.PRID, 0, len(ids))
	for !q.Empty() {
		// Pop the smallest PRID currently in the frontier. ring.Q is a
		// FIFO queue, not a priority queue, so we maintain the
		// ascending-pr_id invariant by draining the whole queue,
		// sorting it, and re-pushing minus the element we take.
		var batch []bitindex.PRID
		for !q.Empty() {
			batch = append(batch, q.Pop())
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i] < batch[j] })

		current := batch[0]
		for _, id := range batch[1:] {
			q.Push(id)
		}

		order = append(order, current)

		for _, successor := range nodes[current].Incoming {
			indegree[successor]--
			if indegree[successor] == 0 {
				q.Push(successor)
			}
		}
	}

	must.BeEqualf(len(ids), len(order), "topological sort produced incorrect number of elements: want %d got %d", len(ids), len(order))
	return order
}

func buildWarnings(ids []bitindex.PRID, nodes map[bitindex.PRID]*Node, warnOnPartial bool) []Warning {
	var warnings []Warning
	for _, id := range ids {
		node := nodes[id]
		if !node.IsSelected {
			continue
		}
		for _, e := range node.Outgoing {
			to := nodes[e.To]
			if to.IsSelected {
				continue
			}
			switch e.Category {
			case Dependent:
				warnings = append(warnings, Warning{Selected: id, Unselected: e.To, Category: Dependent})
			case PartiallyDependent:
				if warnOnPartial {
					warnings = append(warnings, Warning{Selected: id, Unselected: e.To, Category: PartiallyDependent})
				}
			}
		}
	}
	return warnings
}
