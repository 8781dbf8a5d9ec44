package doctor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvgate-project/dvgate/internal/doctor"
	"github.com/dvgate-project/dvgate/internal/gitrepo"
)

func fakeRepo(t *testing.T) *gitrepo.Repo {
	t.Helper()
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0755))
	return &gitrepo.Repo{Root: root, GitDir: gitDir}
}

func writePolicy(t *testing.T, root, doc string) {
	t.Helper()
	dir := filepath.Join(root, "config")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hook_policy.json"), []byte(doc), 0644))
}

func findCategory(result *doctor.Result, category string) []doctor.Finding {
	var out []doctor.Finding
	for _, f := range result.Findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

func TestCheck_MissingPolicyIsError(t *testing.T) {
	r := fakeRepo(t)

	result := doctor.NewDoctor(r).Check()
	assert.False(t, result.Healthy)
	require.NotEmpty(t, findCategory(result, "policy"))
	assert.Equal(t, "error", findCategory(result, "policy")[0].Severity)
}

func TestCheck_MissingHookIsWarning(t *testing.T) {
	r := fakeRepo(t)
	writePolicy(t, r.Root, `{"version": 1}`)

	result := doctor.NewDoctor(r).Check()
	hooks := findCategory(result, "hook")
	require.Len(t, hooks, 1)
	assert.Equal(t, "warning", hooks[0].Severity)
	// Warnings alone leave the gate healthy.
	assert.True(t, result.Healthy)
}

func TestCheck_InstalledHookRecognized(t *testing.T) {
	r := fakeRepo(t)
	writePolicy(t, r.Root, `{"version": 1}`)
	hookDir := filepath.Join(r.GitDir, "hooks")
	require.NoError(t, os.MkdirAll(hookDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "pre-commit"),
		[]byte("#!/bin/sh\nexec dvgate \"$@\"\n"), 0755))

	result := doctor.NewDoctor(r).Check()
	assert.Empty(t, findCategory(result, "hook"))
}

func TestCheck_ForeignHookIsWarning(t *testing.T) {
	r := fakeRepo(t)
	writePolicy(t, r.Root, `{"version": 1}`)
	hookDir := filepath.Join(r.GitDir, "hooks")
	require.NoError(t, os.MkdirAll(hookDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "pre-commit"),
		[]byte("#!/bin/sh\nexec some-other-tool\n"), 0755))

	result := doctor.NewDoctor(r).Check()
	hooks := findCategory(result, "hook")
	require.Len(t, hooks, 1)
	assert.Contains(t, hooks[0].Description, "does not invoke dvgate")
}

func TestCheck_CorruptLedgerIsError(t *testing.T) {
	r := fakeRepo(t)
	writePolicy(t, r.Root, `{"version": 1}`)
	ledgerDir := filepath.Join(r.GitDir, "dv-hooks")
	require.NoError(t, os.MkdirAll(ledgerDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(ledgerDir, "bypass_ledger.json"), []byte("{{"), 0644))

	result := doctor.NewDoctor(r).Check()
	assert.False(t, result.Healthy)
	ledgers := findCategory(result, "ledger")
	require.Len(t, ledgers, 1)
	assert.Contains(t, ledgers[0].Description, "not parseable")
}
