package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// bashApprovalPatterns flag shell commands that should route through the
// approval prompt when the gate's tier threshold is in play. These are not
// hard denials: the user can still approve them.
var bashApprovalPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)(^|[;&|]\s*|\s)rm(dir)?(\s|$)`), "file deletion (rm)"},
	{regexp.MustCompile(`(?i)git\s+push\s+(\S+\s+)*(--force|-f)(\s|$)`), "force push"},
	{regexp.MustCompile(`(?i)git\s+reset\s+--hard`), "hard reset"},
	{regexp.MustCompile(`(?i)git\s+clean(\s|$)`), "git clean"},
	{regexp.MustCompile(`(?i)git\s+checkout\s+\.`), "checkout discards changes"},
	{regexp.MustCompile(`(?i)drop\s+table`), "drop table"},
	{regexp.MustCompile(`(?i)drop\s+database`), "drop database"},
	{regexp.MustCompile(`(?i)(^|[;&|\s])truncate(\s|$)`), "truncate"},
	{regexp.MustCompile(`>\s*/dev/`), "writing to device node"},
	{regexp.MustCompile(`chmod\s+(-R\s+)?777`), "world-writable chmod"},
	{regexp.MustCompile(`kill\s+-9`), "kill -9"},
}

// hardBlockPatterns are the last line of defense. The bash handler refuses
// these unconditionally unless the registry threads the explicit
// user-approved bypass flag.
var hardBlockPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)rm\s+(-\w*\s+)*-(rf|fr)\b`), "recursive forced deletion (rm -rf)"},
	{regexp.MustCompile(`(?i)rm\s+-r\s+-f\b|rm\s+-f\s+-r\b`), "recursive forced deletion (rm -rf)"},
	{regexp.MustCompile(`(?i)(^|[;&|\s])mkfs(\.\w+)?(\s|$)`), "filesystem format (mkfs)"},
	{regexp.MustCompile(`(?i)dd\s+(\S+\s+)*if=/dev/(zero|urandom|random)`), "disk overwrite (dd)"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`chmod\s+(-R\s+)?777\s+/(\s|$)`), "chmod 777 on root"},
	{regexp.MustCompile(`(?i)(curl|wget)\s+[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh`), "piping download to shell"},
	{regexp.MustCompile(`(?i)base64\s+[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh`), "piping base64 decode to shell"},
	{regexp.MustCompile(`(?i)(python\d?|perl|ruby)\s+(\S+\s+)*-e\s+.*(os\.system|popen|exec)`), "inline interpreter escape"},
	{regexp.MustCompile(`(?i)sudo\s+rm(\s|$)`), "sudo rm"},
}

// sensitivePathComponents name files and directories that write_file must
// never touch without approval. Matched both against the resolved absolute
// path and against individual path components, so relative inputs are caught
// when the working directory is not the home directory.
var sensitivePathComponents = []string{
	".env",
	".ssh",
	".gnupg",
	".aws/credentials",
	".config/gcloud",
}

// blockedPathPrefixes are rejected outright by every file tool.
var blockedPathPrefixes = []string{
	"/etc/shadow",
	"/etc/passwd",
	"/etc/sudoers",
	"/proc/",
	"/sys/",
	"/dev/",
}

// BashApprovalReason returns a non-empty reason when the command matches a
// destructive shell pattern, including any user-supplied extras.
func BashApprovalReason(command string, extra []*regexp.Regexp) string {
	for _, p := range bashApprovalPatterns {
		if p.re.MatchString(command) {
			return p.reason
		}
	}
	for _, re := range extra {
		if re.MatchString(command) {
			return "matched custom pattern " + re.String()
		}
	}
	return ""
}

// HardBlockReason returns a non-empty reason when the command matches one of
// the unconditional refusal patterns.
func HardBlockReason(command string) string {
	for _, p := range hardBlockPatterns {
		if p.re.MatchString(command) {
			return p.reason
		}
	}
	return ""
}

// WritePathReason returns a non-empty reason when the path resolves into a
// sensitive location, including user-supplied extras.
func WritePathReason(path string, extra []string) string {
	components := append(append([]string(nil), sensitivePathComponents...), extra...)

	resolved := ResolvePath(path)
	home, _ := os.UserHomeDir()
	for _, c := range components {
		if home != "" {
			abs := filepath.Join(home, c)
			if resolved == abs || strings.HasPrefix(resolved, abs+string(filepath.Separator)) {
				return "sensitive path " + c
			}
		}
		// Component comparison handles relative inputs outside the home dir.
		if pathHasComponent(path, c) || pathHasComponent(resolved, c) {
			return "sensitive path " + c
		}
	}
	return ""
}

// CheckPath rejects paths that resolve into system-critical locations or
// contain NUL bytes. All file tools run their inputs through this guard.
func CheckPath(path string) error {
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("path contains NUL byte")
	}
	resolved := ResolvePath(path)
	for _, prefix := range blockedPathPrefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(resolved, prefix) || resolved == strings.TrimSuffix(prefix, "/") {
				return fmt.Errorf("access to %s is blocked", resolved)
			}
			continue
		}
		if resolved == prefix || strings.HasPrefix(resolved, prefix+"/") {
			return fmt.Errorf("access to %s is blocked", resolved)
		}
	}
	return nil
}

// ResolvePath returns the cleaned absolute form of path with ".." collapsed.
// Symlinks are resolved when the target exists.
func ResolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return filepath.Clean(abs)
}

// pathHasComponent reports whether the multi-segment needle (e.g.
// ".aws/credentials") appears as consecutive components of path.
func pathHasComponent(path, needle string) bool {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	want := strings.Split(needle, "/")
	if len(want) == 0 || len(parts) < len(want) {
		return false
	}
	for i := 0; i+len(want) <= len(parts); i++ {
		match := true
		for j := range want {
			if parts[i+j] != want[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// CompilePatterns compiles user-supplied regex strings, skipping invalid
// entries and reporting them to the caller.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, []error) {
	var compiled []*regexp.Regexp
	var errs []error
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid safety pattern %q: %w", p, err))
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled, errs
}
