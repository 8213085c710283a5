package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/processone/fluux-agent/internal/llm"
	"github.com/processone/fluux-agent/internal/skills"
)

// MaxRounds bounds the tool-use loop. The model, not the runtime,
// selects tools; this cap plus the forced final call guarantees
// termination with a text answer.
const MaxRounds = 10

// runToolLoop drives the agentic cycle: complete → execute tool_use
// blocks → feed tool_result blocks back → complete again, until the
// model stops asking for tools or the round budget runs out. Skill
// failures are relayed as tool results and never abort the loop.
func (r *Runtime) runToolLoop(ctx context.Context, peerJID, system string, transcript []llm.Message) (string, error) {
	tools := r.skills.ToolDefinitions()
	sc := &skills.Context{JID: peerJID, Workspace: r.workspace}

	var finalText string
	for round := 1; round <= MaxRounds; round++ {
		resp, err := r.llm.Complete(ctx, system, transcript, tools)
		if err != nil {
			return "", err
		}
		metricLLMCalls.Inc()
		if text := resp.Text(); text != "" {
			finalText = text
		}

		uses := resp.ToolUses()
		if resp.StopReason != llm.StopToolUse || len(uses) == 0 {
			if finalText == "" {
				break // force a text answer below
			}
			return finalText, nil
		}

		transcript = append(transcript, llm.Message{Role: "assistant", Blocks: resp.Blocks})
		for _, use := range uses {
			r.log.Debug("tool use", "round", round, "tool", use.Name, "peer", peerJID)
			result := r.skills.Execute(ctx, use.Name, use.Input, sc)
			metricToolCalls.Inc()
			transcript = append(transcript, llm.ToolResultMessage(use.ID, result, strings.HasPrefix(result, "error:")))
		}
	}

	// Round budget exhausted (or the model ended without text): one
	// last call with no tools forces a plain answer.
	resp, err := r.llm.Complete(ctx, system, transcript, nil)
	if err != nil {
		return "", err
	}
	metricLLMCalls.Inc()
	if text := resp.Text(); text != "" {
		return text, nil
	}
	if finalText != "" {
		return finalText, nil
	}
	return "", fmt.Errorf("model returned no text after %d rounds", MaxRounds)
}
