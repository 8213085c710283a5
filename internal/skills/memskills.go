package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MemoryStoreSkill persists knowledge entries in the conversation
// partner's workspace. Each entry has a unique key; storing the same
// key replaces the previous value. Storage is strictly per-JID.
type MemoryStoreSkill struct{}

// Name implements Skill.
func (MemoryStoreSkill) Name() string { return "memory_store" }

// Description implements Skill.
func (MemoryStoreSkill) Description() string {
	return "Store a piece of knowledge for later recall. Use this to remember important " +
		"facts, preferences, or context about the current conversation partner. Each entry " +
		"has a unique key; storing with the same key replaces the previous value. Good keys " +
		"look like 'preferred_language', 'project_name', 'timezone'."
}

// ParametersSchema implements Skill.
func (MemoryStoreSkill) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "A short descriptive key for this entry"},
			"content": {"type": "string", "description": "The knowledge content to store"}
		},
		"required": ["key", "content"]
	}`)
}

// Capabilities implements Skill.
func (MemoryStoreSkill) Capabilities() []string { return []string{"filesystem:knowledge:write"} }

// MaxExecutionTime implements Skill.
func (MemoryStoreSkill) MaxExecutionTime() time.Duration { return 10 * time.Second }

// Execute implements Skill.
func (MemoryStoreSkill) Execute(_ context.Context, params json.RawMessage, sc *Context) (string, error) {
	var p struct {
		Key     string `json:"key"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(p.Key) == "" {
		return "", fmt.Errorf("missing required parameter: key")
	}
	if strings.TrimSpace(p.Content) == "" {
		return "", fmt.Errorf("missing required parameter: content")
	}
	if err := sc.Workspace.KnowledgeStore(sc.JID, p.Key, p.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Stored knowledge entry: %q", p.Key), nil
}

// MemoryRecallSkill searches previously stored knowledge entries by
// keyword across keys and content.
type MemoryRecallSkill struct{}

// Name implements Skill.
func (MemoryRecallSkill) Name() string { return "memory_recall" }

// Description implements Skill.
func (MemoryRecallSkill) Description() string {
	return "Recall stored knowledge about the current conversation partner. Search by " +
		"keyword to find relevant entries, or use an empty query to list everything stored."
}

// ParametersSchema implements Skill.
func (MemoryRecallSkill) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Keyword to search for; empty lists all entries"}
		}
	}`)
}

// Capabilities implements Skill.
func (MemoryRecallSkill) Capabilities() []string { return []string{"filesystem:knowledge:read"} }

// MaxExecutionTime implements Skill.
func (MemoryRecallSkill) MaxExecutionTime() time.Duration { return 10 * time.Second }

// Execute implements Skill.
func (MemoryRecallSkill) Execute(_ context.Context, params json.RawMessage, sc *Context) (string, error) {
	var p struct {
		Query string `json:"query"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return "", fmt.Errorf("invalid parameters: %w", err)
		}
	}
	return sc.Workspace.KnowledgeSearch(sc.JID, p.Query), nil
}
