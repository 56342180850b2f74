// Package slashcmd implements spec §4.j's slash command surface: detection,
// registration, and dispatch of the fixed command set InteractiveLoop
// recognizes. Grounded on the teacher's internal/commands package
// (Command/Registry/Parser/Invocation/Result shape), trimmed to the
// single-prefix, start-of-line-only command detection spec §4.j describes —
// the teacher's inline-command and multi-prefix support has no analogue
// here.
package slashcmd

import "context"

// Command is a registered slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	AcceptsArgs bool
	Hidden      bool
	Handler     Handler
}

// Handler executes a command invocation.
type Handler func(ctx context.Context, inv *Invocation) (*Result, error)

// Invocation is a parsed command ready for dispatch.
type Invocation struct {
	Command *Command
	Name    string
	Args    string
	RawText string

	// Context carries REPL-owned state a handler may need to read (current
	// model, layer names, cache stats, ...), keyed by convention rather than
	// a fixed struct so the REPL and handlers can evolve independently.
	Context map[string]any
}

// Action names a side effect the REPL must perform after a handler returns;
// zero value "" means the handler's Text is the entire effect.
type Action string

const (
	ActionNone         Action = ""
	ActionExit         Action = "exit"
	ActionClearHistory Action = "clear_history"
	ActionSave         Action = "save"
	ActionSetModel     Action = "set_model"
	ActionSetSession   Action = "set_session"
	ActionSummarize    Action = "summarize"
	ActionTruncate     Action = "truncate"
	ActionCacheClear   Action = "cache_clear"
	ActionSetThreshold Action = "cache_threshold"
	ActionSetLogLevel  Action = "set_log_level"
	ActionRunLayer     Action = "run_layer"
	ActionAttachImage  Action = "attach_image"
	ActionDone         Action = "done"
	ActionCopy         Action = "copy"
)

// Result is a command's outcome: text to print plus an optional Action the
// REPL must carry out (and Action-specific data in Arg).
type Result struct {
	Text   string
	Action Action
	Arg    string
	Code   int // process exit code, meaningful only when Action == ActionExit
}
