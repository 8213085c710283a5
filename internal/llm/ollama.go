package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/processone/fluux-agent/internal/config"
)

const defaultOllamaBaseURL = "http://localhost:11434/v1"

// OllamaClient adapts an Ollama server through its OpenAI-compatible
// chat endpoint. Tool use is translated into {role:"tool"} records, and
// tool-call IDs are synthesized as tool_{index} when the backend omits
// them.
type OllamaClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewOllamaClient builds the adapter from the llm config section.
func NewOllamaClient(cfg config.LLMConfig) *OllamaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	// Ollama ignores the key, but the client requires one.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "ollama"
	}
	clientCfg := openai.DefaultConfig(apiKey)
	clientCfg.BaseURL = baseURL
	return &OllamaClient{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout(),
	}
}

// Description implements Client.
func (c *OllamaClient) Description() string {
	return "ollama (" + c.model + ")"
}

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  c.convertMessages(system, messages),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.InputSchema),
			},
		})
	}

	completion, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm: ollama: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("llm: ollama returned no choices")
	}
	choice := completion.Choices[0]

	resp := &Response{
		StopReason:   mapFinishReason(choice.FinishReason),
		InputTokens:  int64(completion.Usage.PromptTokens),
		OutputTokens: int64(completion.Usage.CompletionTokens),
	}
	if choice.Message.Content != "" {
		resp.Blocks = append(resp.Blocks, ContentBlock{Type: BlockText, Text: choice.Message.Content})
	}
	for i, call := range choice.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("tool_%d", i)
		}
		resp.Blocks = append(resp.Blocks, ContentBlock{
			Type:  BlockToolUse,
			ID:    id,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}
	if len(choice.Message.ToolCalls) > 0 && resp.StopReason == StopEndTurn {
		resp.StopReason = StopToolUse
	}
	return resp, nil
}

// convertMessages flattens the block model into OpenAI-shaped chat
// records: assistant tool_use blocks become tool_calls on an assistant
// record, and tool_result blocks become {role:"tool"} records keyed by
// tool_call_id.
func (c *OllamaClient) convertMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		var text string
		var toolCalls []openai.ToolCall
		for _, b := range m.Blocks {
			switch b.Type {
			case BlockText:
				if text != "" {
					text += "\n"
				}
				text += b.Text
			case BlockToolUse:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			case BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Content,
					ToolCallID: b.ID,
				})
			}
		}
		if text == "" && len(toolCalls) == 0 {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text,
			ToolCalls: toolCalls,
		})
	}
	return out
}

func mapFinishReason(reason openai.FinishReason) StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return StopEndTurn
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolUse
	case openai.FinishReasonLength:
		return StopMaxTokens
	default:
		return StopOther
	}
}
