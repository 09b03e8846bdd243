package pathguard

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePath_RejectsEmpty(t *testing.T) {
	if ValidatePath("", "/base") {
		t.Error("empty path should be rejected")
	}
	if ValidatePath("   ", "/base") {
		t.Error("whitespace-only path should be rejected")
	}
}

func TestValidatePath_RejectsSuspiciousSubstrings(t *testing.T) {
	base := t.TempDir()
	for _, p := range []string{"foo\x00bar", "foo%00bar", "foo%2e%2ebar", "foo%2fbar", "foo%5cbar", "foo\rbar", "foo\nbar"} {
		if ValidatePath(p, base) {
			t.Errorf("expected rejection for suspicious path %q", p)
		}
	}
}

func TestValidatePath_RejectsDotDotSegments(t *testing.T) {
	base := t.TempDir()
	if ValidatePath("../etc/passwd", base) {
		t.Error("expected rejection for .. segment")
	}
	if ValidatePath("a/../../b", base) {
		t.Error("expected rejection for nested .. segment")
	}
}

func TestValidatePath_RejectsOutsideBase(t *testing.T) {
	base := t.TempDir()
	sibling := filepath.Join(filepath.Dir(base), filepath.Base(base)+"-evil")
	if ValidatePath(sibling, base) {
		t.Error("prefix-confusable sibling directory should be rejected")
	}
}

func TestValidatePath_AcceptsDescendant(t *testing.T) {
	base := t.TempDir()
	if !ValidatePath("subdir/file.txt", base) {
		t.Error("expected descendant path to validate")
	}
}

func TestValidatePath_RejectsBlockedExtensionByDefault(t *testing.T) {
	base := t.TempDir()
	if ValidatePath("script.sh", base) {
		t.Error("expected .sh to be rejected by default blocklist")
	}
	if ValidatePath("payload.exe", base) {
		t.Error("expected .exe to be rejected by default blocklist")
	}
}

func TestIsWithinBase_PrefixConfusion(t *testing.T) {
	if IsWithinBase("/foo-evil/secret", "/foo") {
		t.Error("/foo-evil must not be considered within /foo")
	}
	if !IsWithinBase("/foo/bar", "/foo") {
		t.Error("/foo/bar should be within /foo")
	}
}

func TestSanitizePath_StripsTraversalAndControlChars(t *testing.T) {
	got := SanitizePath("../etc/%2e%2epasswd\r\n")
	if got == "../etc/%2e%2epasswd\r\n" {
		t.Error("SanitizePath did not modify an obviously dangerous path")
	}
	for _, bad := range []string{"..", "%2e%2e", "\r", "\n"} {
		if containsSubstring(got, bad) {
			t.Errorf("sanitized path %q still contains %q", got, bad)
		}
	}
}

func TestSanitizeMediaPath_RequireExists(t *testing.T) {
	base := t.TempDir()
	existing := filepath.Join(base, "image.png")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := SanitizeMediaPath("image.png", base, Options{RequireExists: true}); !ok {
		t.Error("expected existing file to pass RequireExists")
	}
	if _, ok := SanitizeMediaPath("missing.png", base, Options{RequireExists: true}); ok {
		t.Error("expected missing file to fail RequireExists")
	}
}

func TestSanitizeMediaPath_AllowBlockedExtensions(t *testing.T) {
	base := t.TempDir()
	if _, ok := SanitizeMediaPath("tool.sh", base, Options{}); ok {
		t.Error("expected .sh rejected when blocklist enabled")
	}
	if _, ok := SanitizeMediaPath("tool.sh", base, Options{AllowBlockedExtensions: true}); !ok {
		t.Error("expected .sh allowed when blocklist disabled")
	}
}

func TestSanitizeMediaPath_ReturnsResolvedAbsolutePath(t *testing.T) {
	base := t.TempDir()
	resolved, ok := SanitizeMediaPath("sub/file.txt", base, Options{})
	if !ok {
		t.Fatal("expected success")
	}
	if !filepath.IsAbs(resolved) {
		t.Errorf("expected absolute path, got %q", resolved)
	}
	if !IsWithinBase(resolved, base) {
		t.Errorf("resolved path %q not within base %q", resolved, base)
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
