// Package commands implements slash command detection and routing.
// Commands are intercepted by the runtime and answered deterministically;
// they never reach the LLM.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Invocation is one parsed command call.
type Invocation struct {
	// JID is the bare JID of the invoking peer (or the room).
	JID string
	// Name is the command word actually used, lowercased, without the
	// leading slash.
	Name string
	// Args is the text after the command word.
	Args string
	// Raw is the original message body.
	Raw string
}

// Handler executes a command and returns the reply text.
type Handler func(ctx context.Context, inv *Invocation) (string, error)

// Command is one registered slash command.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Handler     Handler
}

// Registry maps command words (names and aliases) to commands.
type Registry struct {
	byName  map[string]*Command
	ordered []*Command
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

// Register adds a command and its aliases.
func (r *Registry) Register(cmd *Command) error {
	for _, name := range append([]string{cmd.Name}, cmd.Aliases...) {
		if _, exists := r.byName[name]; exists {
			return fmt.Errorf("commands: duplicate command %q", name)
		}
		r.byName[name] = cmd
	}
	r.ordered = append(r.ordered, cmd)
	return nil
}

// Get resolves a command word (name or alias).
func (r *Registry) Get(name string) (*Command, bool) {
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// List returns the registered commands sorted by name, for help output.
func (r *Registry) List() []*Command {
	out := make([]*Command, len(r.ordered))
	copy(out, r.ordered)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsCommand reports whether a message body is a slash command.
func IsCommand(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), "/")
}

// Dispatch parses and executes a command body. Unknown commands yield a
// hint instead of an error: the peer typed something, they deserve an
// answer.
func (r *Registry) Dispatch(ctx context.Context, jid, body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	word, args, _ := strings.Cut(trimmed, " ")
	name := strings.ToLower(strings.TrimPrefix(word, "/"))

	cmd, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Unknown command: /%s\nType /help for available commands.", name), nil
	}
	return cmd.Handler(ctx, &Invocation{
		JID:  jid,
		Name: name,
		Args: strings.TrimSpace(args),
		Raw:  body,
	})
}
