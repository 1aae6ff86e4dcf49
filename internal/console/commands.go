// Package console is a line-oriented operator console: a registry of
// slash commands and loops that feed lines from a terminal or a plain
// reader into it.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Ctx  context.Context
	Out  io.Writer
	Args []string
	line string // input after the command name, untrimmed
}

// Tail returns the raw input following the first n arguments, with inner
// whitespace preserved. Used for values that may contain spaces
// (e.g. JSON documents).
func (c CommandContext) Tail(n int) string {
	rest := c.line
	for range n {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			return ""
		}
		rest = rest[i:]
	}
	return strings.TrimSpace(rest)
}

// CommandHandler processes a console command. Returns true if the console
// should stop (e.g., /quit).
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered console command.
type Command struct {
	Usage   string // full usage for help (e.g., "/get <key>"); defaults to command name
	Help    string
	Handler CommandHandler
}

// CommandRegistrar is the interface for registering commands before the console starts.
type CommandRegistrar interface {
	Register(name string, cmd Command)
	RegisterBuiltins()
}

// CommandRegistry maps command names to handlers and produces dynamic help.
// It is safe for concurrent use. Once frozen (via Freeze), no new commands
// can be registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // insertion order for stable help output
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the registry. The name should include the leading
// slash (e.g., "/quit"). Registering the same name twice overwrites the previous entry.
// Panics if cmd.Handler is nil or if the registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("console: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("console: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further command registration. Run calls it before
// reading the first line.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler.
// Returns true if the console should stop.
func (r *CommandRegistry) Dispatch(ctx context.Context, line string, out io.Writer) bool {
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
	parts := strings.Fields(trimmed)
	if len(parts) == 0 {
		return false
	}
	name := parts[0]

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		_, _ = fmt.Fprintf(out, "Unknown command: %s (try /help)\r\n", name)
		return false
	}

	return cmd.Handler(CommandContext{
		Ctx:  ctx,
		Out:  out,
		Args: parts[1:],
		line: trimmed[len(name):],
	})
}

// HelpText returns a formatted help string listing all registered commands
// in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\r\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-20s %s\r\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers /help and /quit.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprint(ctx.Out, r.HelpText())
			return false
		},
	})

	r.Register("/quit", Command{
		Help: "leave the console",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprint(ctx.Out, "Goodbye.\r\n")
			return true
		},
	})
}
