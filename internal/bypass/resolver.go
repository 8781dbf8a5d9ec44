// Package bypass resolves freeze and emergency token bypasses against
// blocked verdicts and the one-time-token ledger.
package bypass

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dvgate-project/dvgate/internal/ledger"
	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/pkg/model"
)

// Resolver carries the per-run bypass inputs.
type Resolver struct {
	Policy *policy.Policy
	Ledger *ledger.Store
	User   string
	Now    time.Time
	Token  string // plaintext from DV_HOOK_BYPASS
	Reason string // from DV_HOOK_BYPASS_REASON
}

// Event describes a bypass resolution for the audit log and notifier.
type Event struct {
	Kind   string // bypass.freeze, bypass.emergency, bypass.denied
	Scope  model.BypassScope
	Label  string
	Reason string
	Detail string
	Files  []string
}

// Outcome is the post-resolution verdict set plus what happened.
type Outcome struct {
	Verdicts []model.Verdict
	Events   []Event
	Denials  []string
}

// Resolve runs the freeze pass then the emergency pass. PolicyEdit blocks
// are never cleared. Called only when at least one verdict blocks.
func (r *Resolver) Resolve(verdicts []model.Verdict) *Outcome {
	out := &Outcome{Verdicts: verdicts}
	if r.Token == "" {
		return out
	}

	sum := sha256.Sum256([]byte(r.Token))
	tokenSHA := hex.EncodeToString(sum[:])

	// Pass A: freeze bypass clears only Freeze blocks.
	if r.Policy.Freeze.Enabled && anyEligible(out.Verdicts, model.Verdict.FreezeEligible) {
		r.runPass(out, model.ScopeFreeze, tokenSHA,
			r.Policy.Freeze.AllowedUsers, r.Policy.Freeze.RequireReason, r.Policy.Freeze.Tokens,
			model.Verdict.FreezeEligible)
	}

	// Pass B: emergency bypass clears DeletionProtected, Locked, Restricted.
	if r.Policy.EmergencyBypass.Enabled && anyEligible(out.Verdicts, model.Verdict.EmergencyEligible) {
		eb := r.Policy.EmergencyBypass
		r.runPass(out, model.ScopeEmergency, tokenSHA,
			eb.AllowedUsers, eb.RequireReason, eb.Tokens,
			model.Verdict.EmergencyEligible)
	}

	return out
}

func (r *Resolver) runPass(out *Outcome, scope model.BypassScope, tokenSHA string,
	users []string, requireReason bool, tokens []policy.Token,
	eligible func(model.Verdict) bool) {

	files := eligibleFiles(out.Verdicts, eligible)

	tok, deny := r.check(scope, tokenSHA, users, requireReason, tokens)
	if deny == "" {
		deny = r.consume(scope, tokenSHA, tok, files)
	}

	if deny != "" {
		out.Denials = append(out.Denials, fmt.Sprintf("%s bypass denied: %s", scope, deny))
		out.Events = append(out.Events, Event{
			Kind:   "bypass.denied",
			Scope:  scope,
			Label:  labelOf(tok),
			Reason: r.Reason,
			Detail: deny,
			Files:  files,
		})
		return
	}

	for i := range out.Verdicts {
		if eligible(out.Verdicts[i]) {
			out.Verdicts[i].Decision = model.DecisionAllow
			out.Verdicts[i].Bypass = scope
		}
	}
	out.Events = append(out.Events, Event{
		Kind:   "bypass." + string(scope),
		Scope:  scope,
		Label:  tok.Label,
		Reason: r.Reason,
		Files:  files,
	})
}

// check applies the identity, reason, token-match, and expiry conditions.
// The ledger condition is applied separately under the ledger lock.
func (r *Resolver) check(scope model.BypassScope, tokenSHA string,
	users []string, requireReason bool, tokens []policy.Token) (*policy.Token, string) {

	if !r.userIn(users) {
		return nil, fmt.Sprintf("user %s is not authorized for %s bypass", r.User, scope)
	}
	if requireReason && strings.TrimSpace(r.Reason) == "" {
		return nil, "a reason is required (set DV_HOOK_BYPASS_REASON)"
	}

	var tok *policy.Token
	for i := range tokens {
		if tokens[i].SHA256 == tokenSHA {
			tok = &tokens[i]
			break
		}
	}
	if tok == nil {
		return nil, fmt.Sprintf("token does not match any %s token", scope)
	}
	if tok.Expired(r.Now) {
		return tok, fmt.Sprintf("token %s expired at %s", tok.Label, tok.Expires)
	}
	return tok, ""
}

// consume records the bypass in the ledger under the advisory lock.
// One-time tokens are checked for prior consumption against the re-read
// state; a failed ledger write denies the bypass (fail-closed).
func (r *Resolver) consume(scope model.BypassScope, tokenSHA string, tok *policy.Token, files []string) string {
	var deny string
	err := r.Ledger.Mutate(func(st *ledger.State) ([]model.LedgerRecord, error) {
		rec := model.LedgerRecord{
			Timestamp:   r.Now,
			User:        r.User,
			Scope:       scope,
			Label:       tok.Label,
			HashPrefix:  tokenSHA[:12],
			TokenSHA256: tokenSHA,
			Reusable:    tok.Reusable,
			Reason:      r.Reason,
			Files:       files,
			Result:      model.LedgerConsumed,
		}

		if !tok.Reusable {
			if st.Corrupt {
				deny = "ledger is unreadable, one-time tokens cannot be validated"
				return nil, nil
			}
			if ledger.HasConsumed(st.Records, scope, tokenSHA) {
				deny = fmt.Sprintf("one-time token %s was already consumed", tok.Label)
				rec.Result = model.LedgerReplayedDenied
				return []model.LedgerRecord{rec}, nil
			}
		}
		return []model.LedgerRecord{rec}, nil
	})
	if err != nil {
		return fmt.Sprintf("ledger update failed: %v", err)
	}
	return deny
}

func (r *Resolver) userIn(users []string) bool {
	for _, u := range users {
		if r.Policy.Options.CaseSensitiveUsers {
			if u == r.User {
				return true
			}
		} else if strings.EqualFold(u, r.User) {
			return true
		}
	}
	return false
}

func anyEligible(verdicts []model.Verdict, eligible func(model.Verdict) bool) bool {
	for _, v := range verdicts {
		if eligible(v) {
			return true
		}
	}
	return false
}

func eligibleFiles(verdicts []model.Verdict, eligible func(model.Verdict) bool) []string {
	var files []string
	for _, v := range verdicts {
		if eligible(v) {
			files = append(files, v.Change.Path())
		}
	}
	return files
}

func labelOf(tok *policy.Token) string {
	if tok == nil {
		return ""
	}
	return tok.Label
}
