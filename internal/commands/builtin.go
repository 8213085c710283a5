package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/processone/fluux-agent/internal/memory"
)

// Deps carries the state the built-in commands report on or mutate.
type Deps struct {
	Workspace       *memory.Workspace
	AgentName       string
	ModeDescription string
	LLMDescription  string
	StartTime       time.Time
}

// RegisterBuiltins installs the built-in command set: /ping, /help,
// /status, /new (alias /reset), /forget.
func RegisterBuiltins(r *Registry, deps *Deps) error {
	cmds := []*Command{
		{
			Name:        "ping",
			Description: "Check if the agent is alive",
			Handler: func(context.Context, *Invocation) (string, error) {
				return "pong", nil
			},
		},
		{
			Name:        "help",
			Description: "This message",
			Handler: func(_ context.Context, _ *Invocation) (string, error) {
				return helpText(r), nil
			},
		},
		{
			Name:        "status",
			Description: "Agent info, uptime, session stats",
			Handler: func(_ context.Context, inv *Invocation) (string, error) {
				return statusText(deps, inv.JID), nil
			},
		},
		{
			Name:        "new",
			Aliases:     []string{"reset"},
			Description: "Start a new conversation (archive current session)",
			Handler: func(_ context.Context, inv *Invocation) (string, error) {
				return deps.Workspace.NewSession(inv.JID)
			},
		},
		{
			Name:        "forget",
			Description: "Erase your history and context",
			Handler: func(_ context.Context, inv *Invocation) (string, error) {
				return deps.Workspace.Forget(inv.JID)
			},
		},
	}
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func helpText(r *Registry) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range r.List() {
		name := "/" + cmd.Name
		for _, alias := range cmd.Aliases {
			name += " | /" + alias
		}
		fmt.Fprintf(&b, "  %-14s %s\n", name, cmd.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusText(deps *Deps, jid string) string {
	uptime := time.Since(deps.StartTime)
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	hasContext := "none"
	if deps.Workspace.UserProfile(jid) != "" {
		hasContext = "yes"
	}

	return fmt.Sprintf(
		"%s — status\nUptime: %dh %dm\nMode: %s\nLLM: %s\nYour session: %d messages\nArchived sessions: %d\nUser context: %s",
		deps.AgentName,
		hours, minutes,
		deps.ModeDescription,
		deps.LLMDescription,
		deps.Workspace.MessageCount(jid),
		deps.Workspace.SessionCount(jid),
		hasContext,
	)
}
