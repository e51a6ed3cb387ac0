package vcs

import (
	"context"
	"fmt"
	"path/filepath"
)

// WorktreeBranch is the branch a spec's worktree is checked out on.
func WorktreeBranch(specID string) string {
	return "speckit/" + specID
}

// EnsureWorktree returns the worktree for specID, creating it under dir on
// a new branch when missing. An existing worktree is brought up to date
// with mainBranch first, after fetching origin.
func EnsureWorktree(ctx context.Context, g Exec, dir, mainBranch, specID string) (string, error) {
	list, err := g.Worktrees(ctx)
	if err != nil {
		return "", err
	}
	branch := WorktreeBranch(specID)
	for _, wt := range list {
		if wt.Branch != branch {
			continue
		}
		if mainBranch != "" {
			if err := g.Fetch(ctx, "origin"); err != nil {
				return "", fmt.Errorf("fetching origin: %w", err)
			}
			if err := (Exec{Dir: wt.Path}).Merge(ctx, mainBranch); err != nil {
				return "", fmt.Errorf("updating worktree %s: %w", wt.Path, err)
			}
		}
		return wt.Path, nil
	}
	path := filepath.Join(dir, specID)
	if err := g.CreateWorktree(ctx, path, branch); err != nil {
		return "", err
	}
	return path, nil
}

// ReleaseWorktree removes specID's worktree when it has no uncommitted
// changes. The branch is kept, so committed work stays reachable.
func ReleaseWorktree(ctx context.Context, g Exec, specID string) (bool, error) {
	list, err := g.Worktrees(ctx)
	if err != nil {
		return false, err
	}
	branch := WorktreeBranch(specID)
	for _, wt := range list {
		if wt.Branch != branch {
			continue
		}
		clean, err := Exec{Dir: wt.Path}.Clean(ctx)
		if err != nil || !clean {
			return false, err
		}
		return true, g.RemoveWorktree(ctx, wt.Path)
	}
	return false, nil
}
