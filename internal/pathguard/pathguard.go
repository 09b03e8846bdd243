// Package pathguard implements path-traversal defenses (component E): a
// path is only ever trusted after it survives the ordered rejection rules
// below, resolved against a caller-supplied base directory.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"
)

// blockedExtensions is the default extension blocklist.
var blockedExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true, ".msi": true,
	".scr": true, ".pif": true, ".sh": true, ".bash": true, ".zsh": true,
	".fish": true, ".ps1": true, ".psm1": true, ".psd1": true, ".vbs": true,
	".vbe": true, ".js": true, ".jse": true, ".wsf": true, ".wsh": true,
	".reg": true, ".inf": true, ".lnk": true,
}

// suspiciousSubstrings are rejected case-insensitively regardless of
// position.
var suspiciousSubstrings = []string{
	"\x00", "%00", "%2e%2e", "%2f", "%5c", "\r", "\n",
}

// Options configures the optional checks in SanitizeMediaPath.
type Options struct {
	// AllowBlockedExtensions disables the extension blocklist (rule 5).
	AllowBlockedExtensions bool
	// RequireExists rejects paths that do not exist on disk (rule 6).
	RequireExists bool
}

// ValidatePath reports whether path passes every ordered rule against
// base. It performs the same checks as SanitizeMediaPath but returns only
// a boolean.
func ValidatePath(path, base string) bool {
	_, err := resolve(path, base, Options{})
	return err == nil
}

// SanitizePath strips the same suspicious substrings and `..` segments
// that ValidatePath rejects on, and normalizes path separators, without
// resolving against a base directory.
func SanitizePath(path string) string {
	cleaned := path
	for _, s := range suspiciousSubstrings {
		cleaned = replaceCaseInsensitive(cleaned, s, "")
	}
	cleaned = filepath.ToSlash(cleaned)
	segments := strings.Split(cleaned, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return filepath.FromSlash(strings.Join(kept, "/"))
}

// IsWithinBase reports whether the resolved absolute path is a descendant
// of the resolved absolute base, guarding against prefix confusions like
// "/foo" matching "/foo-evil".
func IsWithinBase(path, base string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// SanitizeMediaPath runs the full ordered rule set and, on
// success, returns the resolved absolute path. Any rule failure returns
// ("", false).
func SanitizeMediaPath(path, base string, opts Options) (string, bool) {
	resolved, err := resolve(path, base, opts)
	if err != nil {
		return "", false
	}
	return resolved, true
}

func resolve(path, base string, opts Options) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errEmpty
	}
	lower := strings.ToLower(path)
	for _, s := range suspiciousSubstrings {
		if strings.Contains(lower, strings.ToLower(s)) {
			return "", errSuspicious
		}
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return "", errTraversal
		}
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", errBase
	}
	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Join(absBase, path)
	}
	if !IsWithinBase(absPath, absBase) {
		return "", errOutsideBase
	}

	if !opts.AllowBlockedExtensions {
		ext := strings.ToLower(filepath.Ext(absPath))
		if blockedExtensions[ext] {
			return "", errBlockedExt
		}
	}

	if opts.RequireExists {
		if _, err := os.Stat(absPath); err != nil {
			return "", errNotExist
		}
	}

	return absPath, nil
}

func replaceCaseInsensitive(s, old, new string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	lowerS, lowerOld := strings.ToLower(s), strings.ToLower(old)
	i := 0
	for {
		idx := strings.Index(lowerS[i:], lowerOld)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		b.WriteString(new)
		i += idx + len(old)
	}
	return b.String()
}
