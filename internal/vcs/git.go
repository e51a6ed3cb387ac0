// Package vcs wraps the git operations the pipeline performs around stages.
package vcs

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git is the version-control surface used by post-stage hooks.
type Git interface {
	Commit(ctx context.Context, message string, paths ...string) (string, error)
	Fetch(ctx context.Context, remote string) error
	Merge(ctx context.Context, ref string) error
	CreateWorktree(ctx context.Context, path, branch string) error
	RemoveWorktree(ctx context.Context, path string) error
}

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path     string
	Branch   string
	Head     string
	Detached bool
}

// Exec runs git as a subprocess in Dir.
type Exec struct {
	Dir string
}

func (g Exec) run(ctx context.Context, args ...string) (string, error) {
	if strings.TrimSpace(g.Dir) == "" {
		return "", fmt.Errorf("git: repo path is required")
	}
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.Dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %s", args[0], strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Commit stages paths (everything when none are given) and commits. It
// returns the new HEAD, or "" when there was nothing to commit.
func (g Exec) Commit(ctx context.Context, message string, paths ...string) (string, error) {
	add := []string{"add", "--"}
	if len(paths) == 0 {
		add = []string{"add", "-A"}
	}
	if _, err := g.run(ctx, append(add, paths...)...); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return "", nil
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

// Fetch updates remote-tracking refs from remote. A repository without
// that remote has nothing to fetch and is not an error.
func (g Exec) Fetch(ctx context.Context, remote string) error {
	remotes, err := g.run(ctx, "remote")
	if err != nil {
		return err
	}
	for _, r := range strings.Fields(remotes) {
		if r == remote {
			_, err := g.run(ctx, "fetch", "--prune", remote)
			return err
		}
	}
	return nil
}

// Merge fast-forwards onto ref when possible and merges otherwise.
func (g Exec) Merge(ctx context.Context, ref string) error {
	_, err := g.run(ctx, "merge", "--no-edit", ref)
	return err
}

// CreateWorktree adds a worktree at path on a new branch.
func (g Exec) CreateWorktree(ctx context.Context, path, branch string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("git: worktree path is required")
	}
	args := []string{"worktree", "add"}
	if branch != "" {
		args = append(args, "-b", branch)
	}
	_, err := g.run(ctx, append(args, path)...)
	return err
}

func (g Exec) RemoveWorktree(ctx context.Context, path string) error {
	_, err := g.run(ctx, "worktree", "remove", "--force", path)
	return err
}

// Clean reports whether the working tree has no staged, unstaged or
// untracked changes.
func (g Exec) Clean(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// CurrentBranch returns the checked-out branch name.
func (g Exec) CurrentBranch(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Worktrees lists the repository's worktrees.
func (g Exec) Worktrees(ctx context.Context) ([]Worktree, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktrees(out), nil
}

func parseWorktrees(output string) []Worktree {
	var (
		out     []Worktree
		current *Worktree
	)
	flush := func() {
		if current != nil && current.Path != "" {
			out = append(out, *current)
		}
		current = nil
	}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case line == "detached":
			current.Detached = true
		}
	}
	flush()
	return out
}
