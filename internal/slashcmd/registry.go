package slashcmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps command names and aliases to their Command.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}
}

// Register adds cmd, returning an error on name/alias collision.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || cmd.Name == "" {
		return fmt.Errorf("slashcmd: command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("slashcmd: command %q needs a handler", cmd.Name)
	}
	name := strings.ToLower(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("slashcmd: command %q already registered", name)
	}
	r.commands[name] = cmd
	for _, alias := range cmd.Aliases {
		alias = strings.ToLower(alias)
		if alias == "" || alias == name {
			continue
		}
		r.aliases[alias] = name
	}
	return nil
}

// Get resolves a command by name or alias.
func (r *Registry) Get(name string) (*Command, bool) {
	name = strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return cmd, true
	}
	if real, ok := r.aliases[name]; ok {
		cmd, ok := r.commands[real]
		return cmd, ok
	}
	return nil, false
}

// List returns every registered command, Hidden ones included, sorted by
// name; callers filter out Hidden commands themselves.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch resolves and runs the named command.
func (r *Registry) Dispatch(ctx context.Context, inv *Invocation) (*Result, error) {
	cmd, ok := r.Get(inv.Name)
	if !ok {
		return nil, fmt.Errorf("slashcmd: unknown command %q", inv.Name)
	}
	if !cmd.AcceptsArgs && strings.TrimSpace(inv.Args) != "" {
		return &Result{Text: fmt.Sprintf("/%s does not accept arguments", cmd.Name)}, nil
	}
	inv.Command = cmd
	return cmd.Handler(ctx, inv)
}
