package bypass_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvgate-project/dvgate/internal/bypass"
	"github.com/dvgate-project/dvgate/internal/ledger"
	"github.com/dvgate-project/dvgate/internal/policy"
	"github.com/dvgate-project/dvgate/pkg/model"
)

func hashOf(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func blockVerdict(rule model.Rule, path string) model.Verdict {
	return model.Verdict{
		Change:   model.Change{Status: model.StatusDeleted, OldPath: path},
		Decision: model.DecisionBlock,
		Rule:     rule,
	}
}

// testPolicy builds a policy with emergency tokens T1 (one-time) and T2
// (reusable), and freeze token F1 (one-time).
func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	pol, _, err := policy.Parse([]byte(`{
	  "version": 1,
	  "emergency_bypass": {
	    "enabled": true,
	    "allowed_users": ["Alice"],
	    "require_reason": true,
	    "tokens": [
	      {"label": "T1", "sha256": "` + hashOf("T1") + `", "reusable": false},
	      {"label": "T2", "sha256": "` + hashOf("T2") + `", "reusable": true}
	    ]
	  },
	  "freeze": {
	    "enabled": true,
	    "allowed_users": ["Vishal"],
	    "require_reason": true,
	    "tokens": [{"label": "F1", "sha256": "` + hashOf("F1") + `", "reusable": false}]
	  }
	}`))
	require.NoError(t, err)
	return pol
}

func newResolver(t *testing.T, pol *policy.Policy, user, token, reason string) (*bypass.Resolver, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(filepath.Join(t.TempDir(), "bypass_ledger.json"))
	return &bypass.Resolver{
		Policy: pol,
		Ledger: store,
		User:   user,
		Now:    time.Now(),
		Token:  token,
		Reason: reason,
	}, store
}

func TestResolve_OneTimeTokenConsumedThenReplayDenied(t *testing.T) {
	pol := testPolicy(t)
	r, store := newResolver(t, pol, "Alice", "T1", "urgent")

	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleDeletionProtected, "design/keep.sv")})
	require.Len(t, out.Verdicts, 1)
	assert.Equal(t, model.DecisionAllow, out.Verdicts[0].Decision)
	assert.Equal(t, model.RuleDeletionProtected, out.Verdicts[0].Rule)
	assert.Equal(t, model.ScopeEmergency, out.Verdicts[0].Bypass)
	assert.Empty(t, out.Denials)

	st, err := store.Load()
	require.NoError(t, err)
	require.Len(t, st.Records, 1)
	assert.Equal(t, model.LedgerConsumed, st.Records[0].Result)
	assert.Equal(t, hashOf("T1"), st.Records[0].TokenSHA256)
	assert.Equal(t, hashOf("T1")[:12], st.Records[0].HashPrefix)

	// Second attempt with the same one-time token is denied and recorded.
	r2 := &bypass.Resolver{Policy: pol, Ledger: store, User: "Alice", Now: time.Now(), Token: "T1", Reason: "again"}
	out = r2.Resolve([]model.Verdict{blockVerdict(model.RuleDeletionProtected, "design/keep.sv")})
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	require.Len(t, out.Denials, 1)
	assert.Contains(t, out.Denials[0], "already consumed")

	st, err = store.Load()
	require.NoError(t, err)
	require.Len(t, st.Records, 2)
	assert.Equal(t, model.LedgerReplayedDenied, st.Records[1].Result)
}

func TestResolve_ReusableTokenWorksRepeatedly(t *testing.T) {
	pol := testPolicy(t)
	r, store := newResolver(t, pol, "Alice", "T2", "urgent")

	for i := 0; i < 2; i++ {
		out := r.Resolve([]model.Verdict{blockVerdict(model.RuleLocked, "design/a.v")})
		assert.Equal(t, model.DecisionAllow, out.Verdicts[0].Decision, "attempt %d", i)
		assert.Empty(t, out.Denials)
	}

	// Every bypass event is still recorded for audit.
	st, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, st.Records, 2)
}

func TestResolve_NoTokenNoChange(t *testing.T) {
	pol := testPolicy(t)
	r, _ := newResolver(t, pol, "Alice", "", "")

	in := []model.Verdict{blockVerdict(model.RuleLocked, "a.v")}
	out := r.Resolve(in)
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	assert.Empty(t, out.Denials)
	assert.Empty(t, out.Events)
}

func TestResolve_UnauthorizedUserDenied(t *testing.T) {
	pol := testPolicy(t)
	r, _ := newResolver(t, pol, "Mallory", "T1", "urgent")

	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleLocked, "a.v")})
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	require.Len(t, out.Denials, 1)
	assert.Contains(t, out.Denials[0], "not authorized")
}

func TestResolve_MissingReasonDenied(t *testing.T) {
	pol := testPolicy(t)
	r, _ := newResolver(t, pol, "Alice", "T1", "  ")

	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleLocked, "a.v")})
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	require.Len(t, out.Denials, 1)
	assert.Contains(t, out.Denials[0], "reason is required")
}

func TestResolve_UnknownTokenDenied(t *testing.T) {
	pol := testPolicy(t)
	r, _ := newResolver(t, pol, "Alice", "wrong-secret", "urgent")

	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleLocked, "a.v")})
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	require.Len(t, out.Denials, 1)
	assert.Contains(t, out.Denials[0], "does not match")
}

func TestResolve_ExpiredTokenDenied(t *testing.T) {
	exp := time.Now().Add(-time.Hour).Format(policy.TimeLayout)
	pol, _, err := policy.Parse([]byte(`{
	  "version": 1,
	  "emergency_bypass": {
	    "enabled": true,
	    "allowed_users": ["Alice"],
	    "tokens": [{"label": "old", "sha256": "` + hashOf("old") + `", "expires": "` + exp + `"}]
	  }
	}`))
	require.NoError(t, err)

	r, _ := newResolver(t, pol, "Alice", "old", "urgent")
	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleLocked, "a.v")})
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	require.Len(t, out.Denials, 1)
	assert.Contains(t, out.Denials[0], "expired")
}

func TestResolve_FreezeTokenOnlyClearsFreezeBlocks(t *testing.T) {
	pol := testPolicy(t)
	r, _ := newResolver(t, pol, "Vishal", "F1", "release fix")

	verdicts := []model.Verdict{
		blockVerdict(model.RuleFreeze, "tb/sample.sv"),
		blockVerdict(model.RuleLocked, "design/a.v"),
	}
	out := r.Resolve(verdicts)

	assert.Equal(t, model.DecisionAllow, out.Verdicts[0].Decision)
	assert.Equal(t, model.ScopeFreeze, out.Verdicts[0].Bypass)
	// The locked block stands: F1 is not an emergency token and Vishal is
	// not in the emergency allowed_users.
	assert.Equal(t, model.DecisionBlock, out.Verdicts[1].Decision)
}

func TestResolve_EmergencyTokenNeverClearsFreezeOrPolicyEdit(t *testing.T) {
	pol := testPolicy(t)
	r, _ := newResolver(t, pol, "Alice", "T2", "urgent")

	verdicts := []model.Verdict{
		blockVerdict(model.RuleFreeze, "tb/sample.sv"),
		blockVerdict(model.RulePolicyEdit, "config/hook_policy.json"),
		blockVerdict(model.RuleRestricted, "sw/x.c"),
	}
	out := r.Resolve(verdicts)

	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	assert.Equal(t, model.DecisionBlock, out.Verdicts[1].Decision)
	assert.Equal(t, model.DecisionAllow, out.Verdicts[2].Decision)
}

func TestResolve_CorruptLedgerRejectsOneTimeToken(t *testing.T) {
	pol := testPolicy(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bypass_ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{{not json"), 0644))

	r := &bypass.Resolver{
		Policy: pol,
		Ledger: ledger.NewStore(path),
		User:   "Alice",
		Now:    time.Now(),
		Token:  "T1",
		Reason: "urgent",
	}
	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleLocked, "a.v")})
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	require.Len(t, out.Denials, 1)
	assert.Contains(t, out.Denials[0], "unreadable")
}

func TestResolve_DisabledScopesDoNothing(t *testing.T) {
	pol, _, err := policy.Parse([]byte(`{
	  "version": 1,
	  "emergency_bypass": {
	    "enabled": false,
	    "allowed_users": ["Alice"],
	    "tokens": [{"label": "T1", "sha256": "` + hashOf("T1") + `"}]
	  }
	}`))
	require.NoError(t, err)

	r, _ := newResolver(t, pol, "Alice", "T1", "urgent")
	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleLocked, "a.v")})
	assert.Equal(t, model.DecisionBlock, out.Verdicts[0].Decision)
	assert.Empty(t, out.Events)
}

func TestResolve_EventsForAuditAndNotify(t *testing.T) {
	pol := testPolicy(t)
	r, _ := newResolver(t, pol, "Alice", "T1", "urgent")

	out := r.Resolve([]model.Verdict{blockVerdict(model.RuleDeletionProtected, "design/keep.sv")})
	require.Len(t, out.Events, 1)
	assert.Equal(t, "bypass.emergency", out.Events[0].Kind)
	assert.Equal(t, "T1", out.Events[0].Label)
	assert.Equal(t, "urgent", out.Events[0].Reason)
	assert.Equal(t, []string{"design/keep.sv"}, out.Events[0].Files)
}
