package report_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/internal/report"
	"github.com/dvgate-project/dvgate/internal/smoke"
	"github.com/dvgate-project/dvgate/pkg/color"
	"github.com/dvgate-project/dvgate/pkg/model"
)

func init() {
	// Rendering assertions compare plain text.
	color.Disable()
}

func testPolicy(t *testing.T, doc string) *policy.Policy {
	t.Helper()
	pol, _, err := policy.Parse([]byte(doc))
	require.NoError(t, err)
	return pol
}

func newPresenter(t *testing.T, doc string, env report.Env) (*report.Presenter, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return &report.Presenter{Out: &buf, Policy: testPolicy(t, doc), Env: env}, &buf
}

func blockVerdict(rule model.Rule, detail, path string) model.Verdict {
	return model.Verdict{
		Change:   model.Change{Status: model.StatusModified, NewPath: path},
		Decision: model.DecisionBlock,
		Rule:     rule,
		Detail:   detail,
	}
}

func allowVerdict(path string) model.Verdict {
	return model.Verdict{
		Change:   model.Change{Status: model.StatusModified, NewPath: path},
		Decision: model.DecisionAllow,
		Rule:     model.RuleDefault,
	}
}

func TestRender_AllAllowedExitsZero(t *testing.T) {
	p, buf := newPresenter(t, `{"version": 1}`, report.Env{Tips: true})

	code := p.Render([]model.Verdict{allowVerdict("a.c")}, nil, nil)
	assert.Equal(t, report.ExitOK, code)
	assert.Empty(t, buf.String())
}

func TestRender_BlocksGroupedByRuleAndDetail(t *testing.T) {
	p, buf := newPresenter(t, `{"version": 1}`, report.Env{Tips: true})

	verdicts := []model.Verdict{
		blockVerdict(model.RuleLocked, "path locked by pattern design/**", "design/a.v"),
		blockVerdict(model.RuleLocked, "path locked by pattern design/**", "design/b.v"),
		blockVerdict(model.RuleRestricted, "path restricted by pattern sw/**", "sw/x.c"),
	}
	code := p.Render(verdicts, nil, nil)
	assert.Equal(t, report.ExitBlocked, code)

	out := buf.String()
	assert.Contains(t, out, "COMMIT BLOCKED")
	// One group header per {rule, detail}.
	assert.Equal(t, 1, strings.Count(out, "path locked by pattern design/**"))
	assert.Contains(t, out, "design/a.v")
	assert.Contains(t, out, "design/b.v")
	assert.Contains(t, out, "sw/x.c")
}

func TestRender_TruncatesFileList(t *testing.T) {
	p, buf := newPresenter(t, `{"version": 1, "options": {"ui": {"max_files_per_group": 2}}}`, report.Env{})

	verdicts := []model.Verdict{
		blockVerdict(model.RuleLocked, "d", "a.v"),
		blockVerdict(model.RuleLocked, "d", "b.v"),
		blockVerdict(model.RuleLocked, "d", "c.v"),
	}
	p.Render(verdicts, nil, nil)

	out := buf.String()
	assert.Contains(t, out, "a.v")
	assert.Contains(t, out, "b.v")
	assert.NotContains(t, out, "c.v")
	assert.Contains(t, out, "and 1 more")
}

func TestRender_MuteSingleLine(t *testing.T) {
	p, buf := newPresenter(t, `{"version": 1}`, report.Env{Mute: true})

	code := p.Render([]model.Verdict{blockVerdict(model.RuleLocked, "d", "a.v")}, nil, nil)
	assert.Equal(t, report.ExitBlocked, code)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "commit blocked")
}

func TestRender_TipsSuppressed(t *testing.T) {
	doc := `{
	  "version": 1,
	  "emergency_bypass": {"enabled": true, "tokens": [{"label": "T", "sha256": "` + strings.Repeat("ab", 32) + `"}]}
	}`

	p, buf := newPresenter(t, doc, report.Env{Tips: true})
	p.Render([]model.Verdict{blockVerdict(model.RuleLocked, "d", "a.v")}, nil, nil)
	assert.Contains(t, buf.String(), "hint:")

	p, buf = newPresenter(t, doc, report.Env{Tips: false})
	p.Render([]model.Verdict{blockVerdict(model.RuleLocked, "d", "a.v")}, nil, nil)
	assert.NotContains(t, buf.String(), "hint:")
}

func TestRender_PolicyEditShowsAdmins(t *testing.T) {
	doc := `{"version": 1, "config_admins": ["Vishal", "Priya"]}`
	p, buf := newPresenter(t, doc, report.Env{Tips: true})

	p.Render([]model.Verdict{blockVerdict(model.RulePolicyEdit, "only config admins may modify the hook policy", "config/hook_policy.json")}, nil, nil)

	out := buf.String()
	assert.Contains(t, out, "Vishal, Priya")
	assert.Contains(t, out, "cannot be bypassed")
}

func TestRender_ShowDecisions(t *testing.T) {
	p, buf := newPresenter(t, `{"version": 1}`, report.Env{ShowDecisions: true})

	code := p.Render([]model.Verdict{allowVerdict("a.c")}, nil, nil)
	assert.Equal(t, report.ExitOK, code)
	assert.Contains(t, buf.String(), "ALLOW")
	assert.Contains(t, buf.String(), "a.c")
}

func TestRender_DenialsListed(t *testing.T) {
	p, buf := newPresenter(t, `{"version": 1}`, report.Env{})

	p.Render([]model.Verdict{blockVerdict(model.RuleLocked, "d", "a.v")},
		[]string{"emergency bypass denied: one-time token T1 was already consumed"}, nil)

	assert.Contains(t, buf.String(), "already consumed")
}

func TestRender_SmokeBlockModeFails(t *testing.T) {
	doc := `{"version": 1, "smoke_test": {"enabled": true, "mode": "block"}}`
	p, buf := newPresenter(t, doc, report.Env{})

	res := &smoke.Result{
		Triggered: []string{smoke.GroupCompileElab},
		Commands:  []smoke.CommandResult{{Group: smoke.GroupCompileElab, Argv: []string{"make", "elab"}, ExitCode: 3}},
	}
	code := p.Render([]model.Verdict{allowVerdict("tb/a.sv")}, nil, res)
	assert.Equal(t, report.ExitBlocked, code)
	assert.Contains(t, buf.String(), "simlog/smoke.log")
}

func TestRender_SmokeWarnModeProceeds(t *testing.T) {
	doc := `{"version": 1, "smoke_test": {"enabled": true, "mode": "warn"}}`
	p, buf := newPresenter(t, doc, report.Env{})

	res := &smoke.Result{
		Triggered: []string{smoke.GroupCompileElab},
		Commands:  []smoke.CommandResult{{Group: smoke.GroupCompileElab, Argv: []string{"make", "elab"}, ExitCode: 3}},
	}
	code := p.Render([]model.Verdict{allowVerdict("tb/a.sv")}, nil, res)
	assert.Equal(t, report.ExitOK, code)
	assert.Contains(t, buf.String(), "mode=warn")
}

func TestRender_RenameShownWithBothPaths(t *testing.T) {
	p, buf := newPresenter(t, `{"version": 1}`, report.Env{})

	v := model.Verdict{
		Change:   model.Change{Status: model.StatusRenamed, OldPath: "a/old.v", NewPath: "b/new.v"},
		Decision: model.DecisionBlock,
		Rule:     model.RuleDeletionProtected,
		Detail:   "deletion requires admin (pattern a/**)",
	}
	p.Render([]model.Verdict{v}, nil, nil)
	assert.Contains(t, buf.String(), "a/old.v -> b/new.v")
}
