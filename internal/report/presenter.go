// Package report renders the final verdict summary and computes the
// process exit code. All rendering is cosmetic; it never changes verdicts.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/internal/smoke"
	"github.com/dvgate-project/dvgate/pkg/color"
	"github.com/dvgate-project/dvgate/pkg/model"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitBlocked = 1
	ExitFatal   = 2
)

// Env holds the cosmetic environment toggles.
type Env struct {
	Mute          bool
	Tips          bool
	ShowDecisions bool
}

// EnvFromProcess reads the presentation toggles. NO_COLOR is handled by
// the color package.
func EnvFromProcess() Env {
	return Env{
		Mute:          os.Getenv("DV_HOOK_MUTE") != "",
		Tips:          os.Getenv("DV_HOOK_TIPS") != "0",
		ShowDecisions: os.Getenv("DV_HOOK_SHOW_DECISIONS") == "1",
	}
}

// Presenter renders the run outcome.
type Presenter struct {
	Out    io.Writer
	Policy *policy.Policy
	Env    Env
}

type group struct {
	rule   model.Rule
	detail string
	paths  []string
}

// Render writes the report and returns the exit code.
func (p *Presenter) Render(verdicts []model.Verdict, denials []string, smokeRes *smoke.Result) int {
	blocked := blockedVerdicts(verdicts)
	smokeFailed := smokeRes != nil && smokeRes.FirstFailure() != nil
	smokeFatal := smokeFailed && p.Policy.SmokeTest.Mode == policy.SmokeModeBlock

	if p.Env.ShowDecisions {
		p.renderDecisions(verdicts)
	}

	if len(blocked) == 0 && !smokeFatal {
		if smokeFailed {
			p.printf("%s smoke test failed (mode=warn), commit proceeds — see %s\n",
				color.Warning("dvgate:"), "simlog/smoke.log")
		} else if p.Env.Mute {
			p.printf("dvgate: ok\n")
		}
		return ExitOK
	}

	if p.Env.Mute {
		if len(blocked) > 0 {
			p.printf("dvgate: commit blocked (%d file(s))\n", len(blocked))
		} else {
			p.printf("dvgate: commit blocked (smoke test failed)\n")
		}
		return ExitBlocked
	}

	if len(blocked) > 0 {
		p.printf("%s\n", color.Header(color.Error("COMMIT BLOCKED")))
		for _, g := range p.groupBlocks(blocked) {
			p.renderGroup(g)
		}
		for _, d := range denials {
			p.printf("  %s %s\n", color.Warning("!"), d)
		}
	}

	if smokeFatal {
		ff := smokeRes.FirstFailure()
		p.printf("%s smoke command failed in group %s: %s\n",
			color.Error("dvgate:"), ff.Group, strings.Join(ff.Argv, " "))
		p.printf("  see simlog/smoke.log\n")
	}

	return ExitBlocked
}

func (p *Presenter) renderDecisions(verdicts []model.Verdict) {
	for _, v := range verdicts {
		mark := color.Success("ALLOW")
		if v.Blocked() {
			mark = color.Error("BLOCK")
		}
		line := fmt.Sprintf("%s %-18s %s", mark, color.RuleName(string(v.Rule)), describeChange(v.Change))
		if v.Bypass != "" {
			line += color.Dim(" (bypass=" + string(v.Bypass) + ")")
		}
		p.printf("%s\n", line)
	}
}

func (p *Presenter) renderGroup(g group) {
	p.printf("\n  %s — %s\n", color.RuleName(string(g.rule)), g.detail)

	maxFiles := p.Policy.Options.UI.MaxFilesPerGroup
	shown := g.paths
	if len(shown) > maxFiles {
		shown = shown[:maxFiles]
	}
	for _, path := range shown {
		p.printf("    %s\n", path)
	}
	if extra := len(g.paths) - len(shown); extra > 0 {
		p.printf("    %s\n", color.Dim(fmt.Sprintf("... and %d more", extra)))
	}

	if admins := p.adminsFor(g.rule); admins != "" {
		p.printf("    %s\n", color.Dim("admins: "+admins))
	}
	if p.Env.Tips {
		if hint := p.hintFor(g.rule); hint != "" {
			p.printf("    %s\n", color.Dim("hint: "+hint))
		}
	}
}

func (p *Presenter) adminsFor(rule model.Rule) string {
	switch rule {
	case model.RulePolicyEdit, model.RuleDeletionProtected:
		return strings.Join(p.Policy.ConfigAdmins, ", ")
	}
	return ""
}

func (p *Presenter) hintFor(rule model.Rule) string {
	switch rule {
	case model.RulePolicyEdit:
		return "policy edits cannot be bypassed; ask a config admin"
	case model.RuleFreeze:
		if p.Policy.Freeze.Enabled && len(p.Policy.Freeze.Tokens) > 0 {
			return "freeze bypass: DV_HOOK_BYPASS=<token> DV_HOOK_BYPASS_REASON=<why> git commit ..."
		}
	case model.RuleDeletionProtected, model.RuleLocked, model.RuleRestricted:
		if p.Policy.EmergencyBypass.Enabled && len(p.Policy.EmergencyBypass.Tokens) > 0 {
			return "emergency bypass: DV_HOOK_BYPASS=<token> DV_HOOK_BYPASS_REASON=<why> git commit ..."
		}
	}
	return ""
}

// groupBlocks folds blocked verdicts into {rule, explanation} groups,
// preserving first-seen order.
func (p *Presenter) groupBlocks(blocked []model.Verdict) []group {
	var groups []group
	index := make(map[string]int)
	for _, v := range blocked {
		key := string(v.Rule) + "\x00" + v.Detail
		if i, ok := index[key]; ok {
			groups[i].paths = append(groups[i].paths, describeChange(v.Change))
			continue
		}
		index[key] = len(groups)
		groups = append(groups, group{rule: v.Rule, detail: v.Detail, paths: []string{describeChange(v.Change)}})
	}
	return groups
}

func (p *Presenter) printf(format string, args ...any) {
	fmt.Fprintf(p.Out, format, args...)
}

func blockedVerdicts(verdicts []model.Verdict) []model.Verdict {
	var out []model.Verdict
	for _, v := range verdicts {
		if v.Blocked() {
			out = append(out, v)
		}
	}
	return out
}

func describeChange(c model.Change) string {
	if c.Status == model.StatusRenamed || c.Status == model.StatusCopied {
		return fmt.Sprintf("%s -> %s", c.OldPath, c.NewPath)
	}
	return c.Path()
}
