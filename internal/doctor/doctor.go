// Package doctor runs environment health checks for the gate.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvgate-project/dvgate/internal/gitrepo"
	"github.com/dvgate-project/dvgate/internal/ledger"
	"github.com/dvgate-project/dvgate/internal/policy"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // error, warning
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

// Doctor performs gate health checks.
type Doctor struct {
	repo *gitrepo.Repo
}

// NewDoctor creates a doctor for the repository.
func NewDoctor(repo *gitrepo.Repo) *Doctor {
	return &Doctor{repo: repo}
}

// Check runs all diagnostic checks.
func (d *Doctor) Check() *Result {
	result := &Result{Healthy: true}

	d.checkHookInstalled(result)
	pol := d.checkPolicy(result)
	d.checkLogWritable(result, pol)
	d.checkLedger(result)

	return result
}

func (d *Doctor) checkHookInstalled(result *Result) {
	hookPath := filepath.Join(d.repo.GitDir, "hooks", "pre-commit")
	data, err := os.ReadFile(hookPath)
	if err != nil {
		add(result, "hook", "pre-commit hook is not installed (run: dvgate install)", "warning", hookPath)
		return
	}
	if !strings.Contains(string(data), "dvgate") {
		add(result, "hook", "pre-commit hook exists but does not invoke dvgate", "warning", hookPath)
	}
}

func (d *Doctor) checkPolicy(result *Result) *policy.Policy {
	pol, warnings, err := policy.Load(d.repo.Root)
	if err != nil {
		add(result, "policy", fmt.Sprintf("policy failed to load: %v", err), "error", policy.RelPath)
		return nil
	}
	for _, w := range warnings {
		add(result, "policy", w, "warning", policy.RelPath)
	}
	return pol
}

func (d *Doctor) checkLogWritable(result *Result, pol *policy.Policy) {
	if pol == nil {
		return
	}
	logPath := pol.Options.LogPath
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(d.repo.Root, logPath)
	}
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		add(result, "audit", fmt.Sprintf("cannot create log directory: %v", err), "error", dir)
		return
	}
	probe, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		add(result, "audit", fmt.Sprintf("access log is not writable: %v", err), "error", logPath)
		return
	}
	probe.Close()
}

func (d *Doctor) checkLedger(result *Result) {
	store := ledger.NewStore(ledger.DefaultPath(d.repo.GitDir))
	st, err := store.Load()
	if err != nil {
		add(result, "ledger", fmt.Sprintf("ledger unreadable: %v", err), "error", store.Path())
		return
	}
	if st.Corrupt {
		add(result, "ledger", "ledger exists but is not parseable; one-time tokens will be rejected", "error", store.Path())
		return
	}
	if err := ledger.VerifyChain(st.Records); err != nil {
		add(result, "ledger", fmt.Sprintf("ledger hash chain broken: %v", err), "error", store.Path())
	}
}

func add(result *Result, category, desc, severity, path string) {
	if severity == "error" {
		result.Healthy = false
	}
	result.Findings = append(result.Findings, Finding{
		Category:    category,
		Description: desc,
		Severity:    severity,
		Path:        path,
	})
}
