package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"gitdelayed/internal/core"
)

// Resolver implements core.RepositoryResolver on top of go-git.
type Resolver struct{}

// Discover returns the working tree root enclosing dir.
func (Resolver) Discover(dir string) (string, error) { return Discover(dir) }

// CurrentBranch returns the branch HEAD points at.
func (Resolver) CurrentBranch(root string) (string, error) { return CurrentBranch(root) }

// Discover walks up from dir to the enclosing working tree and returns its
// absolute root. An empty dir means the current directory.
func Discover(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	repo, err := openRepo(abs, true)
	if err != nil {
		return "", fmt.Errorf("%s: %w", abs, core.ErrNotARepository)
	}
	wt, err := repo.Worktree()
	if err != nil {
		// bare repositories have nothing to commit from
		return "", fmt.Errorf("%s has no working tree: %w", abs, core.ErrNotARepository)
	}
	return wt.Filesystem.Root(), nil
}

// Validate checks that path is itself the root of a working tree.
func Validate(path string) error {
	repo, err := openRepo(path, false)
	if err != nil {
		return fmt.Errorf("%s: %w", path, core.ErrNotARepository)
	}
	if _, err := repo.Worktree(); err != nil {
		return fmt.Errorf("%s has no working tree: %w", path, core.ErrNotARepository)
	}
	return nil
}

// CurrentBranch returns the short name of the branch HEAD points at. It works
// for unborn branches and fails for a detached HEAD.
func CurrentBranch(root string) (string, error) {
	repo, err := openRepo(root, true)
	if err != nil {
		return "", fmt.Errorf("%s: %w", root, core.ErrNotARepository)
	}
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference && head.Target().IsBranch() {
		return head.Target().Short(), nil
	}
	return "", errors.New("HEAD is detached; check out a branch before scheduling a push")
}

// RemoteFor returns the remote a branch pushes to: its configured upstream,
// else "origin", else the only remote. An empty result means none is known.
func RemoteFor(root, branch string) (string, error) {
	repo, err := openRepo(root, false)
	if err != nil {
		return "", fmt.Errorf("%s: %w", root, core.ErrNotARepository)
	}
	cfg, err := repo.Config()
	if err != nil {
		return "", fmt.Errorf("read repository config: %w", err)
	}
	if b, ok := cfg.Branches[branch]; ok && b.Remote != "" {
		return b.Remote, nil
	}
	if _, ok := cfg.Remotes["origin"]; ok {
		return "origin", nil
	}
	if len(cfg.Remotes) == 1 {
		for name := range cfg.Remotes {
			return name, nil
		}
	}
	return "", nil
}

// openRepo opens path reading shared config and refs from the common dir, so
// linked worktrees see their main repository's branches and remotes.
func openRepo(path string, detect bool) (*gogit.Repository, error) {
	return gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit:          detect,
		EnableDotGitCommonDir: true,
	})
}
