package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dvgate-project/dvgate/internal/audit"
	"github.com/dvgate-project/dvgate/internal/bypass"
	"github.com/dvgate-project/dvgate/internal/gitrepo"
	"github.com/dvgate-project/dvgate/internal/ledger"
	"github.com/dvgate-project/dvgate/internal/match"
	"github.com/dvgate-project/dvgate/internal/notify"
	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/internal/report"
	"github.com/dvgate-project/dvgate/internal/rules"
	"github.com/dvgate-project/dvgate/internal/smoke"
	"github.com/dvgate-project/dvgate/pkg/logging"
	"github.com/dvgate-project/dvgate/pkg/model"
	"github.com/dvgate-project/dvgate/pkg/pathutil"
)

// runGate is the pre-commit entry point. Returns the process exit code:
// 0 allow, 1 blocked, 2 fatal.
func runGate() int {
	repo := requireRepo()
	setupLogging(repo)

	pol, warnings, err := policy.Load(repo.Root)
	if err != nil {
		fmtErr("%v", err)
		return report.ExitFatal
	}
	for _, w := range warnings {
		logging.Warn("policy: " + w)
	}

	changes, changeWarnings, err := repo.StagedChanges()
	if err != nil {
		fmtErr("%v", err)
		return report.ExitFatal
	}
	for _, w := range changeWarnings {
		logging.Warn("changes: " + w)
	}
	if len(changes) == 0 {
		return report.ExitOK
	}

	user := pathutil.NormalizeUser(repo.UserName())
	branch, err := repo.CurrentBranch()
	if err != nil {
		logging.Warn("cannot resolve branch", map[string]any{"error": err.Error()})
	}
	now := time.Now()

	matcher := match.New(repo.Root, pol.Options.ExpandEnv, pol.Options.AbsoluteSlash)
	auditor := audit.NewAppender(logPath(repo, pol))

	eval := &rules.Evaluator{
		Policy:  pol,
		Matcher: matcher,
		User:    user,
		Branch:  branch,
		Now:     now,
	}
	verdicts := eval.EvaluateAll(changes)
	for _, v := range verdicts {
		if err := auditor.Decision(user, v); err != nil {
			logging.ErrorErr("audit: decision", err)
		}
	}

	notifier := notify.New(pol.Notify)

	var denials []string
	if anyBlocked(verdicts) {
		store := ledger.NewStore(ledger.DefaultPath(repo.GitDir))
		if st, err := store.Load(); err == nil && st.Corrupt {
			logging.Warn("ledger unreadable, treating as empty", map[string]any{"path": store.Path()})
		}
		resolver := &bypass.Resolver{
			Policy: pol,
			Ledger: store,
			User:   user,
			Now:    now,
			Token:  os.Getenv("DV_HOOK_BYPASS"),
			Reason: os.Getenv("DV_HOOK_BYPASS_REASON"),
		}
		out := resolver.Resolve(verdicts)
		verdicts = out.Verdicts
		denials = out.Denials

		for _, ev := range out.Events {
			if err := auditor.Event(ev.Kind, map[string]string{
				"user":   user,
				"scope":  string(ev.Scope),
				"label":  ev.Label,
				"reason": ev.Reason,
				"detail": ev.Detail,
			}); err != nil {
				logging.ErrorErr("audit: bypass event", err)
			}
			notifier.Send(notify.Event{
				Event:  ev.Kind,
				Repo:   repo.Root,
				User:   user,
				Scope:  string(ev.Scope),
				Label:  ev.Label,
				Reason: ev.Reason,
				Detail: ev.Detail,
				Files:  ev.Files,
			})
		}
		// Re-log verdicts that a bypass converted.
		for _, v := range verdicts {
			if v.Bypass != "" {
				if err := auditor.Decision(user, v); err != nil {
					logging.ErrorErr("audit: bypassed decision", err)
				}
			}
		}
	}

	var smokeRes *smoke.Result
	if pol.SmokeTest.Enabled && !anyBlocked(verdicts) {
		smokeRes = runSmoke(repo, pol, changes, matcher, auditor, notifier, user)
	}

	presenter := &report.Presenter{
		Out:    os.Stderr,
		Policy: pol,
		Env:    report.EnvFromProcess(),
	}
	return presenter.Render(verdicts, denials, smokeRes)
}

func runSmoke(repo *gitrepo.Repo, pol *policy.Policy, changes []model.Change,
	matcher *match.Matcher, auditor *audit.Appender, notifier *notify.Notifier, user string) *smoke.Result {

	// Terminate in-flight smoke children if the hook itself is killed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := &smoke.Gate{
		Cfg:      pol.SmokeTest,
		RepoRoot: repo.Root,
		LogPath:  filepath.Join(repo.Root, "simlog", "smoke.log"),
	}
	res, err := gate.Run(ctx, changes, matcher)
	if err != nil {
		logging.ErrorErr("smoke: run", err)
		res = &smoke.Result{Commands: []smoke.CommandResult{{Group: "setup", Err: err.Error(), ExitCode: -1}}}
	}

	if ff := res.FirstFailure(); ff != nil {
		if err := auditor.Event("smoke.failed", map[string]string{
			"user":  user,
			"group": ff.Group,
			"cmd":   joinArgv(ff.Argv),
			"mode":  pol.SmokeTest.Mode,
		}); err != nil {
			logging.ErrorErr("audit: smoke event", err)
		}
		notifier.Send(notify.Event{
			Event:  notify.EventSmokeFailed,
			Repo:   repo.Root,
			User:   user,
			Detail: joinArgv(ff.Argv),
		})
	} else if len(res.Triggered) > 0 {
		if err := auditor.Event("smoke.passed", map[string]string{
			"user":   user,
			"groups": joinArgv(res.Triggered),
		}); err != nil {
			logging.ErrorErr("audit: smoke event", err)
		}
	}
	return res
}

func logPath(repo *gitrepo.Repo, pol *policy.Policy) string {
	p := pol.Options.LogPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(repo.Root, p)
	}
	return p
}

func anyBlocked(verdicts []model.Verdict) bool {
	for _, v := range verdicts {
		if v.Blocked() {
			return true
		}
	}
	return false
}

func joinArgv(argv []string) string {
	return strings.Join(argv, " ")
}
