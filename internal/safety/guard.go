// Package safety provides the admission policy gate for autonomous tasks.
//
// The guard is a pure evaluator: given a task specification it returns an
// allow/deny verdict with a stable, machine-readable reason code. It holds no
// state and performs no I/O, so it is safe to call concurrently and is used
// both as the admission gate in front of the task queue and as a standalone
// dry-run check.
package safety

import (
	"regexp"
	"strings"
)

// Reason is a stable, machine-readable code explaining a denial.
type Reason string

const (
	// ReasonDangerousCommand means the command matched the destructive
	// command deny-list (recursive deletion, filesystem formatting,
	// privilege or shutdown commands, fork bombs).
	ReasonDangerousCommand Reason = "blocked_dangerous_command"

	// ReasonProtectedPath means the path targets a protected prefix
	// (version-control internals, system directories, credential stores).
	ReasonProtectedPath Reason = "blocked_protected_path"

	// ReasonMissingDescription means the task carried no description.
	ReasonMissingDescription Reason = "missing_description"
)

// Spec is the subset of a task specification the guard evaluates.
type Spec struct {
	Description string
	Command     string
	Path        string
}

// Verdict is the outcome of a guard check.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

// Allow is the verdict for an admissible spec.
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// Deny returns a denial verdict carrying the given reason.
func Deny(reason Reason) Verdict {
	return Verdict{Allowed: false, Reason: reason}
}

// dangerousCommands is the deny-list of destructive command shapes.
// Patterns are matched case-insensitively against the whole command string.
var dangerousCommands = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*\s+)*-[a-z]*r[a-z]*f|\brm\s+(-[a-z]*\s+)*-[a-z]*f[a-z]*r`),
	regexp.MustCompile(`(?i)\brm\s+-r[a-z]*\s+/(\s|$)`),
	regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`(?i)\bdd\s+.*\bof=/dev/`),
	regexp.MustCompile(`(?i)>\s*/dev/(sd|hd|nvme|vd)[a-z]`),
	regexp.MustCompile(`(?i)\b(shutdown|reboot|poweroff|halt)\b`),
	regexp.MustCompile(`(?i)\binit\s+0\b`),
	regexp.MustCompile(`(?i)\bsudo\s+(su|rm|dd|mkfs|chown\s+-R)\b`),
	regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*777\s+/`),
	regexp.MustCompile(`:\(\)\s*\{.*\}\s*;?\s*:`),
	regexp.MustCompile(`(?i)\bkill\s+-9\s+1\b`),
}

// protectedPrefixes are path prefixes the engine refuses to touch.
// Matching is prefix-based after normalization, so ".git" also covers
// ".git/config" and "repo/.git/hooks".
var protectedPrefixes = []string{
	".git",
	".svn",
	".hg",
	"/etc",
	"/boot",
	"/sys",
	"/proc",
	"/dev",
	"/usr/bin",
	"/usr/sbin",
	"/var/lib",
	"~/.ssh",
	"~/.aws",
	"~/.gnupg",
	"~/.kube",
	"~/.config/gcloud",
}

// Guard evaluates task specifications against the safety policy.
//
// The zero value is not usable; construct with NewGuard.
type Guard struct {
	commands []*regexp.Regexp
	prefixes []string
}

// NewGuard creates a guard with the built-in deny-list and protected paths.
func NewGuard() *Guard {
	return &Guard{
		commands: dangerousCommands,
		prefixes: protectedPrefixes,
	}
}

// Check evaluates a spec and returns allow or deny with a reason.
//
// Order of evaluation: description presence, command deny-list, protected
// paths. The first violated rule wins.
func (g *Guard) Check(spec Spec) Verdict {
	if strings.TrimSpace(spec.Description) == "" {
		return Deny(ReasonMissingDescription)
	}
	if spec.Command != "" && g.dangerousCommand(spec.Command) {
		return Deny(ReasonDangerousCommand)
	}
	if spec.Path != "" && g.protectedPath(spec.Path) {
		return Deny(ReasonProtectedPath)
	}
	return Allow()
}

func (g *Guard) dangerousCommand(command string) bool {
	for _, re := range g.commands {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

func (g *Guard) protectedPath(path string) bool {
	normalized := strings.TrimSpace(path)
	for _, prefix := range g.prefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
		// Catch version-control internals nested under a repository root.
		if strings.HasPrefix(prefix, ".") && strings.Contains(normalized, "/"+prefix+"/") {
			return true
		}
		if strings.HasPrefix(prefix, ".") && strings.HasSuffix(normalized, "/"+prefix) {
			return true
		}
	}
	return false
}

// explanations is the stable reason→guidance mapping rendered to callers.
// Keep wording in sync with the dry-run check and the admission gate; both
// read from this table rather than formatting ad hoc strings.
var explanations = map[Reason]string{
	ReasonDangerousCommand:   "command matches a destructive pattern (recursive deletion, disk formatting, shutdown, or fork bomb) and will not be executed",
	ReasonProtectedPath:      "path targets a protected location (version-control internals, system directories, or credential stores)",
	ReasonMissingDescription: "task description is required so operators can audit queued work",
}

// Explain maps a denial reason to its human-readable guidance.
// Unknown reasons yield a generic message rather than an empty string.
func Explain(reason Reason) string {
	if msg, ok := explanations[reason]; ok {
		return msg
	}
	return "task was blocked by the safety policy"
}
