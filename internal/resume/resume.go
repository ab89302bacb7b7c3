// Package resume extracts resume references from tool argv vectors and
// rewrites them for restart. Each tool spells its resume flag differently.
package resume

import (
	"errors"
	"strings"

	"github.com/touchgrasshq/touchgrass/internal/transcript"
)

// ErrUnsafeSessionRef rejects refs that could escape shell quoting.
var ErrUnsafeSessionRef = errors.New("invalid session reference")

const unsafeChars = ";&|`$(){}!#<>\\'\""

// SafeRef reports whether a session ref is free of shell metacharacters.
func SafeRef(ref string) bool {
	return ref != "" && !strings.ContainsAny(ref, unsafeChars)
}

// ClaudeArgs is the parse of a claude argv's resume state.
type ClaudeArgs struct {
	BaseArgs    []string
	ResumeID    string
	UseContinue bool
}

// ParseClaude strips --continue/-c and --resume/-r (with optional value)
// from a claude argv.
func ParseClaude(args []string) ClaudeArgs {
	out := ClaudeArgs{BaseArgs: []string{}}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--continue", "-c":
			out.UseContinue = true
		case "--resume", "-r":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out.ResumeID = args[i+1]
				i++
			}
		default:
			out.BaseArgs = append(out.BaseArgs, args[i])
		}
	}
	return out
}

// CodexArgs is the parse of a codex argv's resume state.
type CodexArgs struct {
	BaseArgs      []string
	ResumeID      string
	UseResumeLast bool
}

// ParseCodex strips the `resume [id]` subcommand, --resume[=| ]<id>, --last,
// and the exec/--json wrappers from a codex argv.
func ParseCodex(args []string) CodexArgs {
	out := CodexArgs{BaseArgs: []string{}}
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "resume":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out.ResumeID = args[i+1]
				i++
			} else {
				out.UseResumeLast = true
			}
		case a == "--resume":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out.ResumeID = args[i+1]
				i++
			}
		case strings.HasPrefix(a, "--resume="):
			out.ResumeID = strings.TrimPrefix(a, "--resume=")
		case a == "--last":
			out.UseResumeLast = true
		case a == "exec" || a == "--json":
			// wrappers that conflict with interactive resume
		default:
			out.BaseArgs = append(out.BaseArgs, a)
		}
	}
	return out
}

// PIArgs is the parse of a pi argv's resume state.
type PIArgs struct {
	BaseArgs    []string
	SessionID   string
	UseContinue bool
}

// ParsePI strips --continue/-c, --resume/-r, and --session from a pi argv.
func ParsePI(args []string) PIArgs {
	out := PIArgs{BaseArgs: []string{}}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--continue", "-c":
			out.UseContinue = true
		case "--resume", "-r", "--session":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out.SessionID = args[i+1]
				i++
			}
		default:
			out.BaseArgs = append(out.BaseArgs, args[i])
		}
	}
	return out
}

// KimiArgs is the parse of a kimi argv's resume state.
type KimiArgs struct {
	BaseArgs    []string
	SessionID   string
	UseContinue bool
}

// ParseKimi strips --continue/-C and --session/-S from a kimi argv.
func ParseKimi(args []string) KimiArgs {
	out := KimiArgs{BaseArgs: []string{}}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--continue", "-C":
			out.UseContinue = true
		case "--session", "-S":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out.SessionID = args[i+1]
				i++
			}
		default:
			out.BaseArgs = append(out.BaseArgs, args[i])
		}
	}
	return out
}

// ExtractRef pulls the active resume ref from a tool argv, if present.
func ExtractRef(toolName string, args []string) (string, bool) {
	switch toolName {
	case transcript.ToolClaude:
		p := ParseClaude(args)
		return p.ResumeID, p.ResumeID != ""
	case transcript.ToolCodex:
		p := ParseCodex(args)
		return p.ResumeID, p.ResumeID != ""
	case transcript.ToolPI:
		p := ParsePI(args)
		return p.SessionID, p.SessionID != ""
	case transcript.ToolKimi:
		p := ParseKimi(args)
		return p.SessionID, p.SessionID != ""
	}
	return "", false
}

// BuildResumeCommandArgs rewrites a tool argv to resume a specific session
// ref. Idempotent: rewriting an already-resumed argv for the same ref yields
// the same argv. Refs with shell metacharacters are rejected.
func BuildResumeCommandArgs(toolName string, args []string, ref string) ([]string, error) {
	if !SafeRef(ref) {
		return nil, ErrUnsafeSessionRef
	}
	switch toolName {
	case transcript.ToolClaude:
		p := ParseClaude(args)
		return append(p.BaseArgs, "--resume", ref), nil
	case transcript.ToolCodex:
		p := ParseCodex(args)
		return append(p.BaseArgs, "resume", ref), nil
	case transcript.ToolPI:
		p := ParsePI(args)
		return append(p.BaseArgs, "--session", ref), nil
	case transcript.ToolKimi:
		p := ParseKimi(args)
		return append(p.BaseArgs, "--session", ref), nil
	}
	return nil, errors.New("unknown tool " + toolName)
}
