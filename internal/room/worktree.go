package room

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/masc-run/masc/internal/masc"
	"github.com/masc-run/masc/internal/validate"
)

// CreateWorktree materializes a git worktree at
// <repoRoot>/.worktrees/<agent>-<taskID> on branch <agent>/<taskID>,
// branching from baseBranch (falling back to the repository's current
// HEAD if baseBranch doesn't resolve after a fetch), and records the
// resulting path on the task. repoRoot is first resolved to the *main*
// repository root — walking through a linked worktree's ".git" file via
// `git rev-parse --git-common-dir` — so calling CreateWorktree from
// inside an existing worktree still materializes the new one alongside
// the others, not nested under it (spec's worktree_create root
// resolution). If the task-record update fails after the worktree was
// created on disk, CreateWorktree rolls the worktree back with a forced
// removal rather than leaving an orphaned directory behind (spec's
// worktree_create partial-failure resolution).
func (r *Room) CreateWorktree(ctx context.Context, repoRoot, agent, taskID, baseBranch string) (string, error) {
	if err := r.requireInit(ctx); err != nil {
		return "", err
	}
	if err := validateAgentAndTask(agent, taskID); err != nil {
		return "", err
	}

	mainRoot, err := resolveGitRoot(repoRoot)
	if err != nil {
		return "", masc.IoError("resolve git root for "+repoRoot, err)
	}
	repoRoot = mainRoot

	repo, err := git.PlainOpen(repoRoot)
	if err != nil {
		return "", masc.IoError("open git repository at "+repoRoot, err)
	}

	if err := fetchOrigin(repo); err != nil {
		r.logger.Warn("worktree fetch failed, continuing with local refs", "err", err)
	}

	branchName := fmt.Sprintf("%s/%s", agent, taskID)
	dirName := fmt.Sprintf("%s-%s", agent, taskID)
	relPath := filepath.Join(".worktrees", dirName)
	if err := validate.SafePath(relPath); err != nil {
		return "", err
	}
	worktreePath := filepath.Join(repoRoot, relPath)

	base, err := resolveBaseRef(repo, baseBranch)
	if err != nil {
		return "", masc.IoError("resolve base branch for worktree", err)
	}

	if err := createBranchRef(repo, branchName, base); err != nil {
		return "", masc.IoError("create worktree branch", err)
	}
	if err := addWorktree(repoRoot, worktreePath, branchName); err != nil {
		return "", masc.IoError("create worktree", err)
	}

	t, err := r.transition(ctx, agent, taskID, func(t *Task) error {
		if t.By != "" && t.By != agent {
			return masc.NotOwner(t.By, agent)
		}
		t.Worktree = worktreePath
		return nil
	}, "worktree_created")
	if err != nil {
		if rbErr := removeWorktree(repoRoot, worktreePath); rbErr != nil {
			r.logger.Error("worktree rollback failed", "path", worktreePath, "err", rbErr)
		}
		return "", err
	}

	return t.Worktree, nil
}

// resolveGitRoot locates the main repository's working-tree root from
// repoRoot, which may itself be a linked worktree (spec: worktree_create
// must "resolve git root, walking .git file/dir to locate the main repo
// even from a worktree"). `git rev-parse --git-common-dir` already
// performs that walk — a linked worktree's ".git" is a file containing a
// "gitdir:" pointer into the main repo's .git/worktrees/<id>, and
// --git-common-dir resolves through it to the shared .git directory
// regardless of which worktree it's invoked from.
func resolveGitRoot(repoRoot string) (string, error) {
	out, err := runGitOutput(repoRoot, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", err
	}
	gitDir := strings.TrimSpace(out)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(repoRoot, gitDir)
	}
	return filepath.Dir(filepath.Clean(gitDir)), nil
}

func fetchOrigin(repo *git.Repository) error {
	err := repo.Fetch(&git.FetchOptions{RemoteName: "origin"})
	if err == git.NoErrAlreadyUpToDate || err == git.ErrRemoteNotFound {
		return nil
	}
	return err
}

// resolveBaseRef resolves baseBranch to a commit hash, falling back to
// the repository's current HEAD when baseBranch is empty or unresolvable
// (spec: worktree_create degrades to HEAD rather than failing outright).
func resolveBaseRef(repo *git.Repository, baseBranch string) (plumbing.Hash, error) {
	candidates := []string{}
	if baseBranch != "" {
		candidates = append(candidates,
			"refs/remotes/origin/"+baseBranch,
			"refs/heads/"+baseBranch,
		)
	}
	for _, ref := range candidates {
		h, err := repo.ResolveRevision(plumbing.Revision(ref))
		if err == nil {
			return *h, nil
		}
	}
	head, err := repo.Head()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return head.Hash(), nil
}

func createBranchRef(repo *git.Repository, branchName string, base plumbing.Hash) error {
	refName := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(refName, true); err == nil {
		return nil // branch already exists, reuse it
	}
	return repo.Storer.SetReference(plumbing.NewHashReference(refName, base))
}

// addWorktree shells out to `git worktree add`: go-git v5 has no native
// worktree-management API, so the actual checkout uses the same CLI path
// every other git client does, while branch resolution above stays in
// go-git for testability.
func addWorktree(repoRoot, worktreePath, branchName string) error {
	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return err
	}
	return runGit(repoRoot, "worktree", "add", worktreePath, branchName)
}

func removeWorktree(repoRoot, worktreePath string) error {
	if err := runGit(repoRoot, "worktree", "remove", "--force", worktreePath); err != nil {
		return os.RemoveAll(worktreePath)
	}
	return nil
}

func runGit(repoRoot string, args ...string) error {
	_, err := runGitOutput(repoRoot, args...)
	return err
}

func runGitOutput(repoRoot string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %v: %w: %s", args, err, stderr.String())
	}
	return stdout.String(), nil
}
