// Package policy loads and validates the declarative hook policy.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvgate-project/dvgate/internal/match"
	"github.com/dvgate-project/dvgate/pkg/errclass"
)

// RelPath is the fixed repo-relative location of the policy document.
const RelPath = "config/hook_policy.json"

// TimeLayout is the local wall-clock format used by token expiry and
// freeze windows.
const TimeLayout = "2006-01-02 15:04:05"

// Policy is the declarative access policy, immutable within a run.
type Policy struct {
	Version           int               `json:"version"`
	ConfigAdmins      []string          `json:"config_admins"`
	Options           Options           `json:"options"`
	GlobalBypass      GlobalBypass      `json:"global_bypass"`
	Locked            []LockedEntry     `json:"locked"`
	Restricted        []RestrictedEntry `json:"restricted"`
	DeletionProtected []string          `json:"deletion_protected"`
	EmergencyBypass   BypassConfig      `json:"emergency_bypass"`
	Freeze            FreezeConfig      `json:"freeze"`
	SmokeTest         SmokeConfig       `json:"smoke_test"`
	Notify            NotifyConfig      `json:"notify"`
}

// Options are the policy-wide evaluation switches.
type Options struct {
	CaseSensitiveUsers bool      `json:"case_sensitive_users"`
	ExpandEnv          bool      `json:"expand_env"`
	AbsoluteSlash      bool      `json:"treat_patterns_as_absolute_when_starting_with_slash"`
	LogPath            string    `json:"log_path"`
	UI                 UIOptions `json:"ui"`
}

// UIOptions tune the violation report.
type UIOptions struct {
	MaxFilesPerGroup int `json:"max_files_per_group"`
}

// GlobalBypass lists extensions always allowed for non-delete changes.
type GlobalBypass struct {
	AllowedExtensions []string `json:"allowed_extensions"`
}

// LockedEntry protects paths from all non-exempt edits.
// Either "path" or "paths" may be declared; Patterns holds the merged set.
type LockedEntry struct {
	Path              string   `json:"path"`
	Paths             []string `json:"paths"`
	AllowedExtensions []string `json:"allowed_extensions"`

	Patterns []string `json:"-"`
}

// RestrictedEntry limits paths to specific users.
type RestrictedEntry struct {
	Path              string   `json:"path"`
	Paths             []string `json:"paths"`
	AllowedUsers      []string `json:"allowed_users"`
	AllowedExtensions []string `json:"allowed_extensions"`

	Patterns []string `json:"-"`
}

// Token is a hashed bypass secret.
type Token struct {
	Label    string `json:"label"`
	SHA256   string `json:"sha256"`
	Reusable bool   `json:"reusable"`
	Expires  string `json:"expires"`

	ExpiresAt *time.Time `json:"-"`
}

// Expired reports whether the token is invalid at now. The exact expiry
// second is already invalid.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// BypassConfig configures the emergency bypass scope.
type BypassConfig struct {
	Enabled       bool     `json:"enabled"`
	AllowedUsers  []string `json:"allowed_users"`
	RequireReason bool     `json:"require_reason"`
	Tokens        []Token  `json:"tokens"`
}

// Freeze priorities.
const (
	PriorityOverrideAll     = "override_all"
	PriorityAfterRestricted = "after_restricted"
)

// FreezeConfig configures time- or toggle-scoped freezes.
type FreezeConfig struct {
	Enabled       bool           `json:"enabled"`
	Branch        string         `json:"branch"`
	Windows       []FreezeWindow `json:"windows"`
	AllowedUsers  []string       `json:"allowed_users"`
	RequireReason bool           `json:"require_reason"`
	Tokens        []Token        `json:"tokens"`
	Priority      string         `json:"priority"`
}

// FreezeWindow is one freeze interval. A window without from/to is a pure
// toggle, active whenever the freeze feature is enabled. A window without
// paths freezes every path.
type FreezeWindow struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Paths []string `json:"paths"`

	FromAt *time.Time `json:"-"`
	ToAt   *time.Time `json:"-"`
}

// Active reports whether the window covers now. Endpoints are inclusive.
func (w FreezeWindow) Active(now time.Time) bool {
	if w.FromAt != nil && now.Before(*w.FromAt) {
		return false
	}
	if w.ToAt != nil && now.After(*w.ToAt) {
		return false
	}
	return true
}

// Smoke modes.
const (
	SmokeModeWarn  = "warn"
	SmokeModeBlock = "block"
)

// SmokeConfig configures the optional post-decision smoke gate.
type SmokeConfig struct {
	Enabled          bool       `json:"enabled"`
	Mode             string     `json:"mode"`
	TimeoutSec       int        `json:"timeout_sec"`
	Shell            string     `json:"shell"`
	SetupScript      string     `json:"setup_script"`
	PathsCompileElab []string   `json:"paths_compile_elab"`
	CmdsCompileElab  [][]string `json:"cmds_compile_elab"`
	SWHeaderGlobs    []string   `json:"sw_header_globs"`
	CmdsSW           [][]string `json:"cmds_sw"`
}

// NotifyConfig configures the optional bypass-event webhook.
type NotifyConfig struct {
	Enabled    bool     `json:"enabled"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret"`
	Events     []string `json:"events"`
	TimeoutSec int      `json:"timeout_sec"`
}

// Default returns a policy with the documented defaults. Loaded documents
// are decoded on top of it, so absent keys keep these values.
func Default() *Policy {
	return &Policy{
		Version: 1,
		Options: Options{
			CaseSensitiveUsers: true,
			ExpandEnv:          true,
			AbsoluteSlash:      true,
			LogPath:            "simlog/precommit_access.log",
			UI:                 UIOptions{MaxFilesPerGroup: 10},
		},
		Freeze:    FreezeConfig{Priority: PriorityOverrideAll},
		SmokeTest: SmokeConfig{Mode: SmokeModeWarn, TimeoutSec: 600},
		Notify:    NotifyConfig{TimeoutSec: 5},
	}
}

// Load reads, validates, and normalizes the policy at its fixed location
// under repoRoot. A missing or unreadable policy is fatal. The returned
// warnings describe entries that were skipped or unknown keys.
func Load(repoRoot string) (*Policy, []string, error) {
	path := filepath.Join(repoRoot, filepath.FromSlash(RelPath))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errclass.ErrPolicyMissing.WithMessagef("policy not found at %s", RelPath)
		}
		return nil, nil, errclass.ErrPolicyMissing.WithMessagef("read policy: %v", err)
	}
	return Parse(data)
}

// Parse validates and normalizes a policy document.
func Parse(data []byte) (*Policy, []string, error) {
	if err := validateSchema(data); err != nil {
		return nil, nil, errclass.ErrPolicyInvalid.WithMessage(err.Error())
	}

	p := Default()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, nil, errclass.ErrPolicyInvalid.WithMessagef("parse policy: %v", err)
	}

	warnings := warnUnknownKeys(data)
	warnings = append(warnings, p.normalize()...)
	return p, warnings, nil
}

// normalize folds extensions, merges path/paths forms, parses timestamps,
// and drops malformed tokens and windows. Returns a warning per drop.
func (p *Policy) normalize() []string {
	var warnings []string

	p.GlobalBypass.AllowedExtensions = match.NormalizeExts(p.GlobalBypass.AllowedExtensions)

	for i := range p.Locked {
		e := &p.Locked[i]
		e.Patterns = mergePatterns(e.Path, e.Paths)
		e.AllowedExtensions = match.NormalizeExts(e.AllowedExtensions)
		if len(e.Patterns) == 0 {
			warnings = append(warnings, fmt.Sprintf("locked[%d]: no path patterns, entry ignored", i))
		}
	}
	for i := range p.Restricted {
		e := &p.Restricted[i]
		e.Patterns = mergePatterns(e.Path, e.Paths)
		e.AllowedExtensions = match.NormalizeExts(e.AllowedExtensions)
		if len(e.Patterns) == 0 {
			warnings = append(warnings, fmt.Sprintf("restricted[%d]: no path patterns, entry ignored", i))
		}
	}

	p.EmergencyBypass.Tokens, warnings = normalizeTokens(p.EmergencyBypass.Tokens, "emergency_bypass", warnings)
	p.Freeze.Tokens, warnings = normalizeTokens(p.Freeze.Tokens, "freeze", warnings)

	if p.Freeze.Priority == "" {
		p.Freeze.Priority = PriorityOverrideAll
	}

	var windows []FreezeWindow
	for i, w := range p.Freeze.Windows {
		ok := true
		if w.From != "" {
			t, err := time.ParseInLocation(TimeLayout, w.From, time.Local)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("freeze.windows[%d]: bad from %q, window skipped", i, w.From))
				ok = false
			} else {
				w.FromAt = &t
			}
		}
		if ok && w.To != "" {
			t, err := time.ParseInLocation(TimeLayout, w.To, time.Local)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("freeze.windows[%d]: bad to %q, window skipped", i, w.To))
				ok = false
			} else {
				w.ToAt = &t
			}
		}
		if ok {
			windows = append(windows, w)
		}
	}
	p.Freeze.Windows = windows

	if p.SmokeTest.TimeoutSec <= 0 {
		p.SmokeTest.TimeoutSec = 600
	}
	if p.Options.UI.MaxFilesPerGroup <= 0 {
		p.Options.UI.MaxFilesPerGroup = 10
	}

	return warnings
}

func normalizeTokens(tokens []Token, where string, warnings []string) ([]Token, []string) {
	var out []Token
	for i, t := range tokens {
		if !isHex64(t.SHA256) {
			warnings = append(warnings, fmt.Sprintf("%s.tokens[%d] (%s): sha256 is not 64 hex chars, token skipped", where, i, t.Label))
			continue
		}
		if t.Expires != "" {
			exp, err := time.ParseInLocation(TimeLayout, t.Expires, time.Local)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s.tokens[%d] (%s): bad expires %q, token skipped", where, i, t.Label, t.Expires))
				continue
			}
			t.ExpiresAt = &exp
		}
		out = append(out, t)
	}
	return out, warnings
}

func mergePatterns(single string, many []string) []string {
	var out []string
	if single != "" {
		out = append(out, single)
	}
	out = append(out, many...)
	return out
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
