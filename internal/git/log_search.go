package git

import "context"

// HasCommitWithSubject reports whether branch's history contains a
// commit whose subject is exactly subject. Used by the
// migration-analysis variant to recognize PRs promoted through a path
// that rewrote their original commit id (e.g. a squash merge),
// identifiable only by the host's canonical merge-commit title.
func (r *Repository) HasCommitWithSubject(ctx context.Context, branch, subject string) (bool, error) {
	out, err := r.gitCmd(ctx,
		"log",
		"--format=%H",
		"--fixed-strings",
		"--grep="+subject,
		"--max-count=1",
		"--end-of-options",
		branch,
	).OutputString(r.exec)
	if err != nil {
		return false, err
	}
	return out != "", nil
}
