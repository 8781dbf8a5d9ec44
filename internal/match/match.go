// Package match implements dvgate's pattern semantics: doublestar globs,
// environment expansion inside patterns, the absolute-path pattern mode,
// and extension allowlist matching.
package match

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher holds the pattern options from the policy.
type Matcher struct {
	RepoRoot      string
	ExpandEnv     bool
	AbsoluteSlash bool
}

// New creates a matcher rooted at the repository.
func New(repoRoot string, expandEnv, absoluteSlash bool) *Matcher {
	return &Matcher{RepoRoot: repoRoot, ExpandEnv: expandEnv, AbsoluteSlash: absoluteSlash}
}

// Match reports whether the repo-relative path matches the pattern.
// Pattern semantics: ** crosses segments, * stays within a segment,
// ? matches one character. A malformed pattern matches nothing.
func (m *Matcher) Match(pattern, relPath string) bool {
	if m.ExpandEnv {
		pattern = ExpandEnv(pattern)
	}
	relPath = filepath.ToSlash(relPath)

	if strings.HasPrefix(pattern, "/") {
		if m.AbsoluteSlash {
			abs := filepath.ToSlash(filepath.Join(m.RepoRoot, relPath))
			ok, err := doublestar.Match(pattern, abs)
			return err == nil && ok
		}
		pattern = strings.TrimPrefix(pattern, "/")
	}

	ok, err := doublestar.Match(pattern, relPath)
	return err == nil && ok
}

// MatchAny returns the first pattern that matches the path.
func (m *Matcher) MatchAny(patterns []string, relPath string) (string, bool) {
	for _, p := range patterns {
		if m.Match(p, relPath) {
			return p, true
		}
	}
	return "", false
}

// MatchAnyPath reports whether any of the paths matches any pattern.
func (m *Matcher) MatchAnyPath(patterns []string, relPaths []string) (string, bool) {
	for _, rel := range relPaths {
		if p, ok := m.MatchAny(patterns, rel); ok {
			return p, true
		}
	}
	return "", false
}

// ExpandEnv substitutes $NAME and ${NAME} from the process environment.
// Undefined variables are left literal, including the dollar sign.
func ExpandEnv(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' {
			b.WriteByte(c)
			i++
			continue
		}

		// ${NAME}
		if i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				name := s[i+2 : i+2+end]
				if val, ok := os.LookupEnv(name); ok && validEnvName(name) {
					b.WriteString(val)
				} else {
					b.WriteString(s[i : i+3+end])
				}
				i += 3 + end
				continue
			}
			b.WriteByte(c)
			i++
			continue
		}

		// $NAME
		j := i + 1
		for j < len(s) && isEnvNameByte(s[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			i++
			continue
		}
		name := s[i+1 : j]
		if val, ok := os.LookupEnv(name); ok {
			b.WriteString(val)
		} else {
			b.WriteString(s[i:j])
		}
		i = j
	}
	return b.String()
}

func isEnvNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

func validEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isEnvNameByte(name[i]) {
			return false
		}
	}
	return true
}

// NormalizeExt lowercases an extension and ensures a leading dot.
// An empty string stays empty.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NormalizeExts normalizes a list of extensions, dropping empties.
func NormalizeExts(exts []string) []string {
	var out []string
	for _, e := range exts {
		if n := NormalizeExt(e); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// PathExt returns the file's final extension, lowercased with leading dot.
// A basename whose only dot is leading (".gitignore") has no extension.
func PathExt(path string) string {
	base := filepath.Base(filepath.ToSlash(path))
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(base[idx:])
}

// ExtIn reports whether the path's extension is in the normalized allowlist.
// Files without an extension never match.
func ExtIn(path string, allow []string) bool {
	ext := PathExt(path)
	if ext == "" {
		return false
	}
	for _, a := range allow {
		if ext == a {
			return true
		}
	}
	return false
}
