package session

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/types"
)

// GitCheckout clones a repository through the session shell, so the clone
// inherits session cwd, env and any configured credentials. An empty
// targetDir derives one from the repository name under the session cwd.
func (s *Session) GitCheckout(ctx context.Context, repoURL, branch, targetDir string) (*types.GitCheckoutResult, error) {
	if repoURL == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "repoUrl must not be empty")
	}
	if targetDir == "" {
		targetDir = repoDirName(repoURL)
	}

	cmd := "git clone"
	if branch != "" {
		cmd += " --branch " + shim.Quote(branch)
	}
	cmd += fmt.Sprintf(" -- %s %s", shim.Quote(repoURL), shim.Quote(targetDir))

	res, err := s.Exec(ctx, cmd, "")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, classifyGitError(repoURL, branch, res.Stderr)
	}

	dir := targetDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.cwd, dir)
	}
	return &types.GitCheckoutResult{
		Success:   true,
		RepoURL:   repoURL,
		Branch:    branch,
		TargetDir: dir,
		Output:    strings.TrimSpace(res.Stderr),
	}, nil
}

// classifyGitError maps git clone stderr to the error kinds callers can
// act on: missing repository, missing ref, or a generic git failure.
func classifyGitError(repoURL, branch, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "repository not found"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "could not read from remote repository"):
		return errdefs.Newf(errdefs.CodeRepoNotFound, "repository not found: %s", repoURL).
			WithContext("stderr", msg)
	case strings.Contains(lower, "remote branch"),
		strings.Contains(lower, "not found in upstream"),
		strings.Contains(lower, "invalid refspec"):
		return errdefs.Newf(errdefs.CodeGitInvalidRef, "ref %q not found in %s", branch, repoURL).
			WithContext("stderr", msg)
	default:
		return errdefs.Newf(errdefs.CodeGitOperationFailed, "git clone failed: %s", msg)
	}
}

func repoDirName(repoURL string) string {
	name := path.Base(strings.TrimSuffix(repoURL, "/"))
	name = strings.TrimSuffix(name, ".git")
	if name == "" || name == "." || name == "/" {
		return "repo"
	}
	return name
}
