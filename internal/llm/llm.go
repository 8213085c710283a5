// Package llm abstracts the language-model backend behind an
// adapter-neutral content-block interface. The runtime only ever sees
// these types; each provider translates them to its own wire format.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/processone/fluux-agent/internal/config"
)

// Block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// StopReason explains why the model stopped producing blocks.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// ContentBlock is one unit of a message or response: plain text, a tool
// invocation request from the model, or a tool result fed back to it.
type ContentBlock struct {
	Type string

	// Text payload (BlockText).
	Text string

	// Tool invocation (BlockToolUse).
	ID    string
	Name  string
	Input json.RawMessage

	// Tool result (BlockToolResult). ID references the tool_use block.
	Content string
	IsError bool
}

// Message is one transcript record.
type Message struct {
	Role   string // "user" or "assistant"
	Blocks []ContentBlock
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Blocks: []ContentBlock{{Type: BlockText, Text: text}}}
}

// ToolResultMessage wraps a tool execution result for the next round.
// Tool results ride in user-role messages.
func ToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{Role: "user", Blocks: []ContentBlock{{
		Type:    BlockToolResult,
		ID:      toolUseID,
		Content: content,
		IsError: isError,
	}}}
}

// ToolDefinition is the adapter-neutral form of a skill exposed to the
// model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Response is a completed model turn.
type Response struct {
	Blocks       []ContentBlock
	StopReason   StopReason
	InputTokens  int64
	OutputTokens int64
}

// Text concatenates the text blocks of the response.
func (r *Response) Text() string {
	var parts []string
	for _, b := range r.Blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool invocation blocks of the response.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// Client is the capability set the runtime depends on.
type Client interface {
	// Complete sends a conversation to the model. A nil or empty tools
	// slice omits tool definitions entirely, forcing a text answer.
	Complete(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (*Response, error)

	// Description is the human-readable provider+model label used in
	// /status output.
	Description() string
}

// New builds the configured provider adapter.
func New(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	case "ollama":
		return NewOllamaClient(cfg), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
