package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"deployhook/pkg/cmdutil"
)

// DefaultAllowedCommands is the set of executables a deployment may invoke.
var DefaultAllowedCommands = map[string]bool{
	"git":  true,
	"npm":  true,
	"npx":  true,
	"yarn": true,
	"pnpm": true,
	"node": true,
	"bun":  true,
	"make": true,
}

// CommandPolicy validates argv slices before they reach the process table.
type CommandPolicy struct {
	// AllowedCommands is the map of commands that are permitted to run.
	AllowedCommands map[string]bool

	// AllowShellMetachars allows shell metacharacters in arguments (DANGEROUS!).
	// This should almost always be false.
	AllowShellMetachars bool
}

// NewCommandPolicy creates a policy with the default allow-list.
func NewCommandPolicy() *CommandPolicy {
	allowed := make(map[string]bool, len(DefaultAllowedCommands))
	for k, v := range DefaultAllowedCommands {
		allowed[k] = v
	}
	return &CommandPolicy{AllowedCommands: allowed}
}

// Validate checks the executable against the allow-list and rejects
// arguments carrying shell metacharacters.
func (p *CommandPolicy) Validate(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	baseCmd := cmdParts[0]
	if !p.IsCommandAllowed(baseCmd) {
		return fmt.Errorf("command not allowed: %s (must be one of: %s)",
			baseCmd, strings.Join(p.allowedList(), ", "))
	}

	if !p.AllowShellMetachars {
		for i, arg := range cmdParts[1:] {
			if containsShellMetachars(arg) {
				return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
			}
		}
	}

	return nil
}

// Allow adds a command to the allow-list.
func (p *CommandPolicy) Allow(cmd string) {
	if p.AllowedCommands == nil {
		p.AllowedCommands = make(map[string]bool)
	}
	p.AllowedCommands[cmd] = true
}

// IsCommandAllowed checks if a command is in the allowed list.
func (p *CommandPolicy) IsCommandAllowed(cmd string) bool {
	return p.AllowedCommands[cmd]
}

func (p *CommandPolicy) allowedList() []string {
	commands := make([]string, 0, len(p.AllowedCommands))
	for cmd, ok := range p.AllowedCommands {
		if ok {
			commands = append(commands, cmd)
		}
	}
	sort.Strings(commands)
	return commands
}

// CommandRunner runs a timeout-bounded command in a directory.
type CommandRunner interface {
	RunCommand(ctx context.Context, dir string, argv []string, timeout time.Duration) (*cmdutil.Result, error)
}

// SandboxedRunner validates every command against a policy before
// delegating to the wrapped runner.
type SandboxedRunner struct {
	Policy *CommandPolicy
	Runner CommandRunner
}

// NewSandboxedRunner wraps runner with the default policy.
func NewSandboxedRunner(runner CommandRunner) *SandboxedRunner {
	return &SandboxedRunner{Policy: NewCommandPolicy(), Runner: runner}
}

func (s *SandboxedRunner) RunCommand(ctx context.Context, dir string, argv []string, timeout time.Duration) (*cmdutil.Result, error) {
	if err := s.Policy.Validate(argv); err != nil {
		return nil, err
	}
	return s.Runner.RunCommand(ctx, dir, argv, timeout)
}

// containsShellMetachars checks if a string contains shell metacharacters.
// These characters can be used for command injection attacks.
func containsShellMetachars(s string) bool {
	dangerous := []string{
		";",  // Command separator
		"|",  // Pipe
		"&",  // Background/AND
		"$",  // Variable expansion
		"`",  // Command substitution
		"\n", // Newline (command separator)
		">",  // Redirect output
		"<",  // Redirect input
		"(",  // Subshell start
		")",  // Subshell end
		"{",  // Brace expansion start
		"}",  // Brace expansion end
		"*",  // Glob wildcard
		"?",  // Glob single char
		"[",  // Glob character class
		"]",  // Glob character class end
		"\\", // Escape character
		"'",
		"\"",
	}

	for _, char := range dangerous {
		if strings.Contains(s, char) {
			return true
		}
	}

	return false
}
