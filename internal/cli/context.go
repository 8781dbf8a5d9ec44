package cli

import (
	"fmt"
	"os"

	"github.com/dvgate-project/dvgate/internal/gitrepo"
	"github.com/dvgate-project/dvgate/pkg/color"
	"github.com/dvgate-project/dvgate/pkg/config"
	"github.com/dvgate-project/dvgate/pkg/logging"
)

// requireRepo discovers the git repo from CWD and returns it, or exits.
func requireRepo() *gitrepo.Repo {
	cwd, err := os.Getwd()
	if err != nil {
		fmtErr("cannot get current directory: %v", err)
		os.Exit(2)
	}
	r, err := gitrepo.Discover(cwd)
	if err != nil {
		fmtErr("%v", err)
		os.Exit(2)
	}
	return r
}

// setupLogging configures the global logger from the tool config.
func setupLogging(r *gitrepo.Repo) {
	cfg, err := config.Load(r.GitDir)
	if err != nil {
		fmtErr("warning: %v", err)
		cfg = config.Default()
	}
	logging.SetGlobal(logging.New(
		logging.Level(cfg.Logging.Level),
		logging.Format(cfg.Logging.Format),
	))
}

func fmtErr(format string, args ...any) {
	prefix := "dvgate: "
	if color.Enabled() {
		prefix = color.Error("dvgate:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
