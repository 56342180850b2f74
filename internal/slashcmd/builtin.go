package slashcmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RegisterBuiltins wires every command spec §4.j names. Most handlers are
// thin: they validate arguments and hand the REPL an Action to carry out,
// since the actual session/provider/cache state lives in internal/repl, not
// here.
func RegisterBuiltins(r *Registry) {
	must := func(cmd *Command) {
		if err := r.Register(cmd); err != nil {
			panic(err)
		}
	}

	must(&Command{
		Name:        "exit",
		Aliases:     []string{"quit"},
		Description: "Exit the session",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Goodbye.", Action: ActionExit, Code: 0}, nil
		},
	})

	must(&Command{
		Name:        "help",
		Description: "List available commands",
		Usage:       "/help [command]",
		AcceptsArgs: true,
		Handler:     helpHandler(r),
	})

	must(&Command{
		Name:        "copy",
		Description: "Copy the last assistant response to the clipboard",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Copied last response.", Action: ActionCopy}, nil
		},
	})

	must(&Command{
		Name:        "clear",
		Description: "Clear the conversation history",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Conversation cleared.", Action: ActionClearHistory}, nil
		},
	})

	must(&Command{
		Name:        "save",
		Description: "Persist the current session to disk",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Session saved.", Action: ActionSave}, nil
		},
	})

	must(&Command{
		Name:        "info",
		Description: "Show session info: model, tokens used, cost",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: formatContextLines(inv.Context,
				"session_name", "model", "input_tokens", "output_tokens", "cost")}, nil
		},
	})

	must(&Command{
		Name:        "report",
		Description: "Show a per-layer cost and timing report",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			report, _ := inv.Context["layer_report"].(string)
			if report == "" {
				report = "No layer activity recorded yet."
			}
			return &Result{Text: report}, nil
		},
	})

	must(&Command{
		Name:        "context",
		Description: "Show the current request's estimated token usage",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: formatContextLines(inv.Context,
				"estimated_tokens", "max_input_tokens", "message_count")}, nil
		},
	})

	must(&Command{
		Name:        "layers",
		Description: "List configured layers",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			names, _ := inv.Context["layer_names"].([]string)
			if len(names) == 0 {
				return &Result{Text: "No layers configured."}, nil
			}
			return &Result{Text: "Layers: " + strings.Join(names, ", ")}, nil
		},
	})

	must(&Command{
		Name:        "loglevel",
		Description: "Show or set the log level",
		Usage:       "/loglevel [debug|info|warn|error]",
		AcceptsArgs: true,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			level := strings.ToLower(strings.TrimSpace(inv.Args))
			if level == "" {
				current, _ := inv.Context["log_level"].(string)
				if current == "" {
					current = "info"
				}
				return &Result{Text: "Log level: " + current}, nil
			}
			switch level {
			case "debug", "info", "warn", "error":
			default:
				return &Result{Text: fmt.Sprintf("unknown log level %q", level)}, nil
			}
			return &Result{Text: "Log level set to " + level, Action: ActionSetLogLevel, Arg: level}, nil
		},
	})

	must(&Command{
		Name:        "truncate",
		Description: "Force context truncation now",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Truncating context...", Action: ActionTruncate}, nil
		},
	})

	must(&Command{
		Name:        "summarize",
		Description: "Replace conversation history with a compact summary",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Summarizing conversation...", Action: ActionSummarize}, nil
		},
	})

	must(&Command{
		Name:        "cache",
		Description: "Show cache stats, clear the cache, or set the token threshold",
		Usage:       "/cache [stats|clear|threshold <n>]",
		AcceptsArgs: true,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			sub, rest := splitFirst(inv.Args)
			switch sub {
			case "", "stats":
				return &Result{Text: formatContextLines(inv.Context,
					"cache_read_tokens", "cache_write_tokens", "cache_hit_rate")}, nil
			case "clear":
				return &Result{Text: "Cache cleared.", Action: ActionCacheClear}, nil
			case "threshold":
				n, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil || n <= 0 {
					return &Result{Text: "usage: /cache threshold <positive-integer>"}, nil
				}
				return &Result{Text: fmt.Sprintf("Cache token threshold set to %d.", n),
					Action: ActionSetThreshold, Arg: strconv.Itoa(n)}, nil
			default:
				return &Result{Text: "usage: /cache [stats|clear|threshold <n>]"}, nil
			}
		},
	})

	must(&Command{
		Name:        "list",
		Description: "List saved sessions",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			names, _ := inv.Context["session_names"].([]string)
			if len(names) == 0 {
				return &Result{Text: "No saved sessions."}, nil
			}
			return &Result{Text: "Sessions: " + strings.Join(names, ", ")}, nil
		},
	})

	must(&Command{
		Name:        "model",
		Description: "Show or change the active model",
		Usage:       "/model [provider:model]",
		AcceptsArgs: true,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			arg := strings.TrimSpace(inv.Args)
			if arg == "" {
				current, _ := inv.Context["model"].(string)
				if current == "" {
					current = "(default)"
				}
				return &Result{Text: "Current model: " + current}, nil
			}
			return &Result{Text: "Model set to " + arg, Action: ActionSetModel, Arg: arg}, nil
		},
	})

	must(&Command{
		Name:        "session",
		Description: "Show or switch the active session",
		Usage:       "/session [name]",
		AcceptsArgs: true,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			arg := strings.TrimSpace(inv.Args)
			if arg == "" {
				current, _ := inv.Context["session_name"].(string)
				if current == "" {
					current = "(unnamed)"
				}
				return &Result{Text: "Current session: " + current}, nil
			}
			return &Result{Text: "Switching to session " + arg, Action: ActionSetSession, Arg: arg}, nil
		},
	})

	must(&Command{
		Name:        "mcp",
		Description: "Inspect MCP server status and tool catalogs",
		Usage:       "/mcp [list|info|full|health|dump|validate]",
		AcceptsArgs: true,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			sub, _ := splitFirst(inv.Args)
			if sub == "" {
				sub = "list"
			}
			text, ok := inv.Context["mcp_"+sub].(string)
			if !ok {
				switch sub {
				case "list", "info", "full", "health", "dump", "validate":
					return &Result{Text: "No MCP data available."}, nil
				default:
					return &Result{Text: "usage: /mcp [list|info|full|health|dump|validate]"}, nil
				}
			}
			return &Result{Text: text}, nil
		},
	})

	must(&Command{
		Name:        "run",
		Description: "Run a single layer on demand",
		Usage:       "/run <layer-name>",
		AcceptsArgs: true,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			name := strings.TrimSpace(inv.Args)
			if name == "" {
				return &Result{Text: "usage: /run <layer-name>"}, nil
			}
			return &Result{Text: "Running layer " + name + "...", Action: ActionRunLayer, Arg: name}, nil
		},
	})

	must(&Command{
		Name:        "image",
		Description: "Attach an image to the next message",
		Usage:       "/image <path>",
		AcceptsArgs: true,
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			path := strings.TrimSpace(inv.Args)
			if path == "" {
				return &Result{Text: "usage: /image <path>"}, nil
			}
			return &Result{Text: "Attached image " + path, Action: ActionAttachImage, Arg: path}, nil
		},
	})

	must(&Command{
		Name:        "done",
		Description: "Re-arm the layered pre-pass for the next turn",
		Handler: func(ctx context.Context, inv *Invocation) (*Result, error) {
			return &Result{Text: "Layers will run again on the next turn.", Action: ActionDone}, nil
		},
	})
}

func splitFirst(s string) (head, rest string) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, " ", 2)
	head = strings.ToLower(parts[0])
	if len(parts) > 1 {
		rest = strings.TrimSpace(parts[1])
	}
	return head, rest
}

func formatContextLines(data map[string]any, keys ...string) string {
	var b strings.Builder
	any := false
	for _, k := range keys {
		v, ok := data[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %v\n", k, v)
		any = true
	}
	if !any {
		return "No information available."
	}
	return strings.TrimRight(b.String(), "\n")
}

func helpHandler(r *Registry) Handler {
	return func(ctx context.Context, inv *Invocation) (*Result, error) {
		if inv.Args != "" {
			name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(inv.Args)), "/")
			cmd, ok := r.Get(name)
			if !ok {
				return &Result{Text: "Unknown command: " + name}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "/%s", cmd.Name)
			if cmd.Usage != "" {
				fmt.Fprintf(&b, " — %s", cmd.Usage)
			}
			if cmd.Description != "" {
				fmt.Fprintf(&b, "\n%s", cmd.Description)
			}
			if len(cmd.Aliases) > 0 {
				fmt.Fprintf(&b, "\naliases: %s", strings.Join(cmd.Aliases, ", "))
			}
			return &Result{Text: b.String()}, nil
		}

		cmds := r.List()
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, cmd := range cmds {
			if cmd.Hidden {
				continue
			}
			desc := cmd.Description
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Fprintf(&b, "  /%s - %s\n", cmd.Name, desc)
		}
		return &Result{Text: strings.TrimRight(b.String(), "\n")}, nil
	}
}
