package agent

import (
	"strings"
	"time"

	"github.com/processone/fluux-agent/internal/llm"
	"github.com/processone/fluux-agent/internal/memory"
)

// defaultIdentity is the built-in identity used when neither a global
// nor a per-peer identity.md exists.
const defaultIdentity = "You are %s, a personal AI assistant reachable over XMPP.\n" +
	"You are direct, helpful, and concise. You respond in the user's language.\n" +
	"You have memory of previous conversations with this user."

// buildSystemPrompt assembles the system prompt for one peer, in
// order: identity, personality, instructions (each resolved through
// the per-peer override chain), the user profile, the long-term notes,
// and a final line naming today's date for temporal awareness.
func buildSystemPrompt(ws *memory.Workspace, agentName, jid string, now time.Time) string {
	var sections []string

	identity := ws.ContextFile(jid, memory.FileIdentity)
	if identity == "" {
		identity = strings.Replace(defaultIdentity, "%s", agentName, 1)
	}
	sections = append(sections, identity)

	if personality := ws.ContextFile(jid, memory.FilePersonality); personality != "" {
		sections = append(sections, personality)
	}
	if instructions := ws.ContextFile(jid, memory.FileInstructions); instructions != "" {
		sections = append(sections, instructions)
	}
	if profile := ws.UserProfile(jid); profile != "" {
		sections = append(sections, "About this user:\n"+profile)
	}
	if notes := ws.UserMemory(jid); notes != "" {
		sections = append(sections, "Notes and memory:\n"+notes)
	}
	sections = append(sections, "Today's date is "+now.Format("Monday, January 2, 2006")+".")

	return strings.Join(sections, "\n\n")
}

// historyToMessages maps stored entries onto the transcript. Assistant
// entries pass through; user entries in rooms get a textual
// "{sender}: " prefix so participant attribution survives; structured
// metadata rides as compact JSON inside the display content. Runtime
// metadata (msg_id, ts) never reaches the model.
func historyToMessages(entries []memory.Entry, isRoom bool) []llm.Message {
	var out []llm.Message
	for _, e := range entries {
		display := e.DisplayContent()
		if display == "" {
			continue
		}
		if e.Role == "user" && isRoom && e.Sender != "" {
			display = e.Sender + ": " + display
		}
		role := e.Role
		if role != "assistant" {
			role = "user"
		}
		out = append(out, llm.TextMessage(role, display))
	}
	return out
}
