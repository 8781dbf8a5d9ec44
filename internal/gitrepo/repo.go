// Package gitrepo queries the surrounding git repository: root discovery,
// user identity, and the staged change set.
package gitrepo

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dvgate-project/dvgate/pkg/errclass"
	"github.com/dvgate-project/dvgate/pkg/model"
)

// Repo is a discovered git repository.
type Repo struct {
	Root   string
	GitDir string
}

// Discover resolves the repository containing dir.
func Discover(dir string) (*Repo, error) {
	root, err := git(dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, errclass.ErrNotARepo.WithMessagef("not inside a git repository: %v", err)
	}
	gitDir, err := git(dir, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return nil, errclass.ErrGitQuery.WithMessagef("resolve git dir: %v", err)
	}
	return &Repo{Root: root, GitDir: gitDir}, nil
}

// UserName returns the committer identity from git config, falling back to
// the ambient OS user when unset.
func (r *Repo) UserName() string {
	if name, err := git(r.Root, "config", "user.name"); err == nil && name != "" {
		return name
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func (r *Repo) CurrentBranch() (string, error) {
	branch, err := git(r.Root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errclass.ErrGitQuery.WithMessagef("resolve branch: %v", err)
	}
	return branch, nil
}

// StagedChanges queries the index with rename detection enabled and returns
// normalized changes in git's iteration order.
func (r *Repo) StagedChanges() ([]model.Change, []string, error) {
	cmd := exec.Command("git", "diff", "--cached", "--name-status", "-M", "-z")
	cmd.Dir = r.Root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, nil, errclass.ErrGitQuery.WithMessagef(
			"git diff --cached: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseNameStatus(stdout.Bytes())
}

// ParseNameStatus parses NUL-separated `--name-status -z` output.
// Unknown status letters are kept with modify semantics and reported as
// warnings.
func ParseNameStatus(data []byte) ([]model.Change, []string, error) {
	var changes []model.Change
	var warnings []string

	fields := strings.Split(string(data), "\x00")
	for i := 0; i < len(fields); {
		status := fields[i]
		if status == "" {
			i++
			continue
		}
		letter := status[:1]
		score := 0
		if len(status) > 1 {
			score, _ = strconv.Atoi(status[1:])
		}

		switch letter {
		case "R", "C":
			if i+2 >= len(fields) {
				return nil, warnings, fmt.Errorf("truncated name-status record for %q", status)
			}
			changes = append(changes, model.Change{
				Status:  model.Status(letter),
				OldPath: filepath.ToSlash(fields[i+1]),
				NewPath: filepath.ToSlash(fields[i+2]),
				Score:   score,
			})
			i += 3
		case "A", "M", "T":
			if i+1 >= len(fields) {
				return nil, warnings, fmt.Errorf("truncated name-status record for %q", status)
			}
			changes = append(changes, model.Change{
				Status:  model.Status(letter),
				NewPath: filepath.ToSlash(fields[i+1]),
			})
			i += 2
		case "D":
			if i+1 >= len(fields) {
				return nil, warnings, fmt.Errorf("truncated name-status record for %q", status)
			}
			changes = append(changes, model.Change{
				Status:  model.StatusDeleted,
				OldPath: filepath.ToSlash(fields[i+1]),
			})
			i += 2
		default:
			if i+1 >= len(fields) {
				return nil, warnings, fmt.Errorf("truncated name-status record for %q", status)
			}
			warnings = append(warnings, fmt.Sprintf("unknown change status %q for %s, treated as modify", status, fields[i+1]))
			changes = append(changes, model.Change{
				Status:  model.StatusModified,
				NewPath: filepath.ToSlash(fields[i+1]),
			})
			i += 2
		}
	}
	return changes, warnings, nil
}

func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
