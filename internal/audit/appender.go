// Package audit appends human-readable decision lines to the access log.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dvgate-project/dvgate/pkg/model"
)

// Appender writes append-only lines to the access log. The file and its
// parent directory are created on demand.
type Appender struct {
	path string
	mu   sync.Mutex
}

// NewAppender creates an appender for the log at path.
func NewAppender(path string) *Appender {
	return &Appender{path: path}
}

// Decision records one verdict.
func (a *Appender) Decision(user string, v model.Verdict) error {
	parts := []string{
		"user=" + quote(user),
		"op=" + string(v.Change.Status),
	}
	if v.Change.OldPath != "" {
		parts = append(parts, "old="+quote(v.Change.OldPath))
	}
	if v.Change.NewPath != "" {
		parts = append(parts, "new="+quote(v.Change.NewPath))
	}
	parts = append(parts,
		"decision="+string(v.Decision),
		"rule="+string(v.Rule),
	)
	if v.Bypass != "" {
		parts = append(parts, "bypass="+string(v.Bypass))
	}
	if v.Detail != "" {
		parts = append(parts, "detail="+quote(v.Detail))
	}
	return a.line("decision", parts...)
}

// Event records a non-verdict event (bypass resolution, smoke outcome,
// warnings).
func (a *Appender) Event(kind string, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	// Stable order: user first, then lexicographic.
	sortKeys(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quote(fields[k]))
	}
	return a.line(kind, parts...)
}

func (a *Appender) line(kind string, parts ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open access log: %w", err)
	}
	defer file.Close()

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("flock access log: %w", err)
	}
	defer syscall.Flock(int(file.Fd()), syscall.LOCK_UN)

	ts := time.Now().Format("2006-01-02 15:04:05")
	line := ts + " " + kind
	if len(parts) > 0 {
		line += " " + strings.Join(parts, " ")
	}
	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write access log: %w", err)
	}
	return file.Sync()
}

func quote(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func sortKeys(keys []string) {
	rank := func(k string) string {
		if k == "user" {
			return "0" + k
		}
		return "1" + k
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && rank(keys[j]) < rank(keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}
