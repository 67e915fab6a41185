// Package policy implements the purpose-aware sandbox over paths and
// commands that every filesystem and subprocess effect must pass through
// before execution: denied directory segments, denied secret-holder
// filenames, read-allowed prefixes, purpose-gated write prefixes, symlink
// rejection, and a closed command allowlist.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Access is the kind of filesystem access being validated.
type Access string

const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// Purpose is the mode the scheduler is running under; it loosens or
// tightens write policy.
type Purpose string

const (
	PurposeDefault   Purpose = "default"
	PurposeDev       Purpose = "dev"
	PurposeHeartbeat Purpose = "heartbeat"
	PurposeRuntime   Purpose = "runtime"
)

// ToolKind classifies a tool name for budget accounting.
type ToolKind string

const (
	ToolKindRead  ToolKind = "read"
	ToolKindWrite ToolKind = "write"
	ToolKindOther ToolKind = "other"
)

// Rule names the specific check a validation failure tripped, so errors
// stay distinguishable to callers and the event log.
type Rule string

const (
	RuleAbsolute   Rule = "absolute"
	RuleTraversal  Rule = "traversal"
	RuleSegment    Rule = "segment"
	RuleFile       Rule = "file"
	RulePrefix     Rule = "prefix"
	RuleSymlink    Rule = "symlink"
	RuleCommand    Rule = "command"
	RuleEmptyInput Rule = "empty"
)

// Error names the triggering rule so callers and the event log can report
// precisely why a path or command was rejected.
type Error struct {
	Rule Rule
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func reject(rule Rule, format string, args ...any) error {
	return &Error{Rule: rule, Msg: fmt.Sprintf(format, args...)}
}

// deniedDirSegments are path segments that are never traversable, regardless
// of read/write intent: version-control metadata, dependency caches, build
// artifacts.
var deniedDirSegments = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	".next":        true,
}

// deniedSecretBasenames are filenames that can never be read or written
// directly, even under an otherwise-allowed prefix.
var deniedSecretBasenames = map[string]bool{
	".env":       true,
	".env.local": true,
	".env.dev":   true,
	".env.prod":  true,
	".npmrc":     true,
}

// readAllowedPrefixes are the only top-level directories (or named files at
// the root) a `read` access may resolve under.
var readAllowedPrefixes = []string{
	"src",
	"data",
	"logs",
	"notes",
	"README",
	"README.md",
	"go.mod",
	"go.sum",
	"package.json",
}

// Engine validates paths and commands against a fixed project root.
type Engine struct {
	root           string
	allowedCmds    map[string]bool
	ignoreMatchers []*gitignore.GitIgnore // supplements deniedDirSegments for list_dir
}

// DefaultAllowedCommands is the closed allowlist: dependency-manager
// test/build invocations, a type-checker dry run, and a version-control
// status query.
func DefaultAllowedCommands() []string {
	return []string{
		"go build ./...",
		"go test ./...",
		"go vet ./...",
		"npm test",
		"npm run build",
		"npm run typecheck",
		"git status",
	}
}

// New creates a policy Engine rooted at root with the default command
// allowlist. Additional .gitignore files (if any) can be loaded with
// LoadGitignore to extend the directory skip-list used by list_dir.
func New(root string) *Engine {
	allowed := make(map[string]bool)
	for _, c := range DefaultAllowedCommands() {
		allowed[c] = true
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	return &Engine{root: absRoot, allowedCmds: allowed}
}

// LoadGitignore parses the given .gitignore content and adds it to the
// engine's skip-list matchers, supplementing (never replacing) the fixed
// deniedDirSegments rule used for list_dir enumeration.
func (e *Engine) LoadGitignore(lines []string) {
	m := gitignore.CompileIgnoreLines(lines...)
	e.ignoreMatchers = append(e.ignoreMatchers, m)
}

// IsGitignored reports whether a root-relative path matches any loaded
// .gitignore pattern.
func (e *Engine) IsGitignored(relPath string) bool {
	for _, m := range e.ignoreMatchers {
		if m.MatchesPath(relPath) {
			return true
		}
	}
	return false
}

// ValidatePath runs the full ordered check over a user-supplied path and
// returns the resolved absolute path, or a descriptive *Error naming the
// failing rule. No check partially applies.
func (e *Engine) ValidatePath(requested string, access Access, purpose Purpose) (string, error) {
	trimmed := strings.TrimSpace(requested)
	if trimmed == "" {
		return "", reject(RuleEmptyInput, "path must not be empty")
	}

	normalized := filepath.ToSlash(trimmed)

	if strings.HasPrefix(normalized, "/") || isWindowsAbs(normalized) {
		return "", reject(RuleAbsolute, "absolute paths are not allowed: %q", requested)
	}

	cleaned := cleanSlash(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", reject(RuleTraversal, "path escapes project root: %q", requested)
	}

	for _, seg := range strings.Split(cleaned, "/") {
		if deniedDirSegments[seg] {
			return "", reject(RuleSegment, "path segment %q is not allowed", seg)
		}
	}

	base := filepath.Base(cleaned)
	if deniedSecretBasenames[strings.ToLower(base)] {
		return "", reject(RuleFile, "file %q is not allowed", base)
	}

	resolved := filepath.Join(e.root, filepath.FromSlash(cleaned))
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(e.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(filepath.ToSlash(rel), "../") {
		return "", reject(RuleTraversal, "path escapes project root: %q", requested)
	}

	switch access {
	case AccessRead:
		if !underAnyPrefix(cleaned, readAllowedPrefixes) {
			return "", reject(RulePrefix, "read path %q is not under an allowed prefix", requested)
		}
	case AccessWrite:
		allowedPrefixes := []string{"data/outputs"}
		if purpose == PurposeDev {
			allowedPrefixes = []string{"data/outputs", "src"}
		}
		if !underAnyPrefix(cleaned, allowedPrefixes) {
			return "", reject(RulePrefix, "write path %q is not allowed", requested)
		}
	}

	if info, err := os.Lstat(resolved); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return "", reject(RuleSymlink, "path %q is a symlink", requested)
		}
	}

	return resolved, nil
}

// ValidateCommand checks a command string against the closed allowlist and
// returns the canonical string.
func (e *Engine) ValidateCommand(command string) (string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", reject(RuleEmptyInput, "command must not be empty")
	}
	if !e.allowedCmds[trimmed] {
		return "", reject(RuleCommand, "command %q is not in the allowlist", trimmed)
	}
	return trimmed, nil
}

// ClassifyTool maps a registry tool name to its budget-accounting kind.
func ClassifyTool(name string) ToolKind {
	switch name {
	case "read_file", "list_dir", "calculator":
		return ToolKindRead
	case "write_file":
		return ToolKindWrite
	default:
		return ToolKindOther
	}
}

func underAnyPrefix(cleaned string, prefixes []string) bool {
	for _, p := range prefixes {
		if cleaned == p || strings.HasPrefix(cleaned, p+"/") {
			return true
		}
	}
	return false
}

func cleanSlash(p string) string {
	cleaned := filepath.ToSlash(filepath.Clean(p))
	return strings.TrimPrefix(cleaned, "./")
}

func isWindowsAbs(p string) bool {
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
