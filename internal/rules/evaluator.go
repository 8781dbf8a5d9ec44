// Package rules applies the verdict pipeline to the staged change set.
//
// Pipeline order: PolicyEdit, Freeze (when priority is override_all),
// DeletionProtected, GlobalExt, Locked, Restricted, Freeze (when priority
// is after_restricted), Default. The first terminal decision wins.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvgate-project/dvgate/internal/match"
	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/pkg/model"
)

// Evaluator holds the per-run inputs. Verdicts are a pure function of
// these plus the change itself.
type Evaluator struct {
	Policy  *policy.Policy
	Matcher *match.Matcher
	User    string
	Branch  string
	Now     time.Time
}

// EvaluateAll produces exactly one verdict per change, in order.
func (e *Evaluator) EvaluateAll(changes []model.Change) []model.Verdict {
	active := e.activeWindows()
	verdicts := make([]model.Verdict, 0, len(changes))
	for _, c := range changes {
		verdicts = append(verdicts, e.evaluate(c, active))
	}
	return verdicts
}

func (e *Evaluator) evaluate(c model.Change, active []policy.FreezeWindow) model.Verdict {
	// PolicyEdit: terminal and never bypassable.
	if (c.NewPath == policy.RelPath || c.OldPath == policy.RelPath) && !e.isAdmin() {
		return verdict(c, model.DecisionBlock, model.RulePolicyEdit,
			"only config admins may modify the hook policy")
	}

	overrideAll := e.Policy.Freeze.Priority != policy.PriorityAfterRestricted

	if overrideAll {
		if v, ok := e.freezeVerdict(c, active); ok {
			return v
		}
	}

	// DeletionProtected: deletes and the old side of renames need an admin.
	if c.DeletesOldSide() && !e.isAdmin() {
		if pattern, ok := e.Matcher.MatchAny(e.Policy.DeletionProtected, c.OldPath); ok {
			return verdict(c, model.DecisionBlock, model.RuleDeletionProtected,
				fmt.Sprintf("deletion requires admin (pattern %s)", pattern))
		}
	}

	// GlobalExt: always-allowed extensions, non-delete changes only.
	if !c.IsDeletion() && match.ExtIn(c.NewPath, e.Policy.GlobalBypass.AllowedExtensions) {
		return verdict(c, model.DecisionAllow, model.RuleGlobalExt,
			fmt.Sprintf("extension %s globally allowed", match.PathExt(c.NewPath)))
	}

	// Locked: the first matching entry determines the exception set.
	if c.NewPath != "" {
		for _, entry := range e.Policy.Locked {
			pattern, ok := e.Matcher.MatchAny(entry.Patterns, c.NewPath)
			if !ok {
				continue
			}
			if !match.ExtIn(c.NewPath, entry.AllowedExtensions) {
				return verdict(c, model.DecisionBlock, model.RuleLocked,
					fmt.Sprintf("path locked by pattern %s", pattern))
			}
			break
		}
	}

	// Restricted: first matching entry decides by user, then extension.
	if c.NewPath != "" {
		for _, entry := range e.Policy.Restricted {
			pattern, ok := e.Matcher.MatchAny(entry.Patterns, c.NewPath)
			if !ok {
				continue
			}
			if e.userIn(entry.AllowedUsers) {
				return verdict(c, model.DecisionAllow, model.RuleRestricted,
					fmt.Sprintf("user allowed for pattern %s", pattern))
			}
			if match.ExtIn(c.NewPath, entry.AllowedExtensions) {
				return verdict(c, model.DecisionAllow, model.RuleRestricted,
					fmt.Sprintf("extension %s allowed for pattern %s", match.PathExt(c.NewPath), pattern))
			}
			return verdict(c, model.DecisionBlock, model.RuleRestricted,
				fmt.Sprintf("path restricted by pattern %s (allowed: %s)",
					pattern, strings.Join(entry.AllowedUsers, ", ")))
		}
	}

	if !overrideAll {
		if v, ok := e.freezeVerdict(c, active); ok {
			return v
		}
	}

	return verdict(c, model.DecisionAllow, model.RuleDefault, "")
}

// freezeVerdict blocks the change if any active window covers one of its
// paths. Both sides of a rename count. A window with no paths freezes all.
func (e *Evaluator) freezeVerdict(c model.Change, active []policy.FreezeWindow) (model.Verdict, bool) {
	for _, w := range active {
		if len(w.Paths) == 0 {
			return verdict(c, model.DecisionBlock, model.RuleFreeze, "freeze active for all paths"), true
		}
		if pattern, ok := e.Matcher.MatchAnyPath(w.Paths, c.Paths()); ok {
			return verdict(c, model.DecisionBlock, model.RuleFreeze,
				fmt.Sprintf("freeze active for pattern %s", pattern)), true
		}
	}
	return model.Verdict{}, false
}

// activeWindows returns the freeze windows engaged at Now. An empty result
// means freeze does not apply to this run.
func (e *Evaluator) activeWindows() []policy.FreezeWindow {
	fz := e.Policy.Freeze
	if !fz.Enabled {
		return nil
	}
	if fz.Branch != "" && fz.Branch != e.Branch {
		return nil
	}
	var active []policy.FreezeWindow
	for _, w := range fz.Windows {
		if w.Active(e.Now) {
			active = append(active, w)
		}
	}
	return active
}

func (e *Evaluator) isAdmin() bool {
	return e.userIn(e.Policy.ConfigAdmins)
}

func (e *Evaluator) userIn(users []string) bool {
	for _, u := range users {
		if e.Policy.Options.CaseSensitiveUsers {
			if u == e.User {
				return true
			}
		} else if strings.EqualFold(u, e.User) {
			return true
		}
	}
	return false
}

func verdict(c model.Change, d model.Decision, r model.Rule, detail string) model.Verdict {
	return model.Verdict{Change: c, Decision: d, Rule: r, Detail: detail}
}
