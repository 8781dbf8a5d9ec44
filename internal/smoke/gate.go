// Package smoke runs the optional post-decision smoke commands when risky
// areas change. Commands run sequentially with a per-command timeout and
// their output streams to the smoke log.
package smoke

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dvgate-project/dvgate/internal/match"
	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/pkg/model"
)

// Group names, in execution order.
const (
	GroupCompileElab = "compile_elab"
	GroupSW          = "sw"
)

// Gate executes the smoke stage.
type Gate struct {
	Cfg      policy.SmokeConfig
	RepoRoot string
	LogPath  string
}

// CommandResult is the outcome of one smoke command.
type CommandResult struct {
	Group    string        `json:"group"`
	Argv     []string      `json:"argv"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Err      string        `json:"err,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the command counts as a failure.
func (c CommandResult) Failed() bool {
	return c.TimedOut || c.ExitCode != 0 || c.Err != ""
}

// Result is the outcome of the whole smoke stage.
type Result struct {
	Triggered []string        `json:"triggered"`
	Commands  []CommandResult `json:"commands"`
}

// FirstFailure returns the first failed command, if any.
func (r *Result) FirstFailure() *CommandResult {
	for i := range r.Commands {
		if r.Commands[i].Failed() {
			return &r.Commands[i]
		}
	}
	return nil
}

// Run selects triggered groups from the new-side paths of non-deleted
// changes and executes them. In block mode execution stops at the first
// failure; in warn mode the remaining group still runs.
func (g *Gate) Run(ctx context.Context, changes []model.Change, m *match.Matcher) (*Result, error) {
	var paths []string
	for _, c := range changes {
		if !c.IsDeletion() && c.NewPath != "" {
			paths = append(paths, c.NewPath)
		}
	}

	res := &Result{}
	type group struct {
		name  string
		globs []string
		cmds  [][]string
	}
	groups := []group{
		{GroupCompileElab, g.Cfg.PathsCompileElab, g.Cfg.CmdsCompileElab},
		{GroupSW, g.Cfg.SWHeaderGlobs, g.Cfg.CmdsSW},
	}

	logFile, err := g.openLog()
	if err != nil {
		return nil, fmt.Errorf("open smoke log: %w", err)
	}
	defer logFile.Close()

	for _, grp := range groups {
		if _, ok := m.MatchAnyPath(grp.globs, paths); !ok {
			continue
		}
		res.Triggered = append(res.Triggered, grp.name)

		for i, argv := range grp.cmds {
			fmt.Fprintf(logFile, "=== %s [%d/%d] %s ===\n",
				grp.name, i+1, len(grp.cmds), strings.Join(argv, " "))

			cr := g.runCommand(ctx, grp.name, argv, logFile)
			res.Commands = append(res.Commands, cr)

			if cr.Failed() {
				fmt.Fprintf(logFile, "=== %s [%d/%d] FAILED (exit=%d timeout=%v) ===\n",
					grp.name, i+1, len(grp.cmds), cr.ExitCode, cr.TimedOut)
				break // remaining commands in this group are skipped
			}
		}

		if res.FirstFailure() != nil && g.Cfg.Mode == policy.SmokeModeBlock {
			break
		}
	}
	return res, nil
}

func (g *Gate) runCommand(ctx context.Context, group string, argv []string, logFile *os.File) CommandResult {
	cr := CommandResult{Group: group, Argv: argv}

	timeout := time.Duration(g.Cfg.TimeoutSec) * time.Second
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := g.buildCommand(cctx, argv)
	cmd.Dir = g.RepoRoot
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the whole process group on timeout or hook termination.
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	cr.Duration = time.Since(start)

	if cctx.Err() == context.DeadlineExceeded {
		cr.TimedOut = true
		cr.ExitCode = -1
		return cr
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			cr.ExitCode = exitErr.ExitCode()
		} else {
			cr.Err = err.Error()
			cr.ExitCode = -1
		}
	}
	return cr
}

// buildCommand wraps the argv per the policy's shell setting. A csh or sh
// shell with a readable setup script sources it before the command.
func (g *Gate) buildCommand(ctx context.Context, argv []string) *exec.Cmd {
	setup := g.readableSetup()

	switch g.Cfg.Shell {
	case "csh":
		line := shellJoin(argv)
		if setup != "" {
			line = "source " + shellQuote(setup) + " && " + line
		}
		return exec.CommandContext(ctx, "csh", "-c", line)
	case "sh":
		line := shellJoin(argv)
		if setup != "" {
			line = ". " + shellQuote(setup) + " && " + line
		}
		return exec.CommandContext(ctx, "sh", "-c", line)
	default:
		return exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
}

func (g *Gate) readableSetup() string {
	if g.Cfg.SetupScript == "" {
		return ""
	}
	path := g.Cfg.SetupScript
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.RepoRoot, path)
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (g *Gate) openLog() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(g.LogPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(g.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// shellQuote single-quotes an argument for csh/sh wrapping.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>(){}*?[]~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
