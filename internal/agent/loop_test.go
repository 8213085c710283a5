package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/processone/fluux-agent/internal/llm"
	"github.com/processone/fluux-agent/internal/memory"
	"github.com/processone/fluux-agent/internal/skills"
)

// stubLLM scripts the provider: it keeps requesting the web_search tool
// for the first toolRounds calls, then answers with text. It also counts
// the calls that arrived with an empty tool list.
type stubLLM struct {
	toolRounds    int
	calls         int
	callsNoTools  int
	lastToolCalls int
	finalText     string
	err           error
}

func (s *stubLLM) Description() string { return "stub (test)" }

func (s *stubLLM) Complete(_ context.Context, _ string, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls++
	if len(tools) == 0 {
		s.callsNoTools++
		return &llm.Response{
			Blocks:     []llm.ContentBlock{{Type: llm.BlockText, Text: s.finalText}},
			StopReason: llm.StopEndTurn,
		}, nil
	}
	if s.calls <= s.toolRounds {
		s.lastToolCalls = s.calls
		return &llm.Response{
			Blocks: []llm.ContentBlock{{
				Type:  llm.BlockToolUse,
				ID:    "toolu_1",
				Name:  "web_search",
				Input: json.RawMessage(`{"query":"status"}`),
			}},
			StopReason: llm.StopToolUse,
		}, nil
	}
	return &llm.Response{
		Blocks:     []llm.ContentBlock{{Type: llm.BlockText, Text: s.finalText}},
		StopReason: llm.StopEndTurn,
	}, nil
}

// countingSkill counts executions.
type countingSkill struct {
	name  string
	count int
}

func (c *countingSkill) Name() string                      { return c.name }
func (c *countingSkill) Description() string               { return "counting stub" }
func (c *countingSkill) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (c *countingSkill) Capabilities() []string            { return nil }
func (c *countingSkill) MaxExecutionTime() time.Duration   { return time.Second }
func (c *countingSkill) Execute(context.Context, json.RawMessage, *skills.Context) (string, error) {
	c.count++
	return "result " + c.name, nil
}

func testRuntime(t *testing.T, client llm.Client, sk ...skills.Skill) *Runtime {
	t.Helper()
	ws, err := memory.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := skills.NewRegistry(nil)
	for _, s := range sk {
		if err := reg.Register(s, nil); err != nil {
			t.Fatal(err)
		}
	}
	return &Runtime{
		llm:       client,
		workspace: ws,
		skills:    reg,
		log:       slog.Default(),
	}
}

func TestToolLoopSingleRound(t *testing.T) {
	stub := &stubLLM{toolRounds: 1, finalText: "done"}
	search := &countingSkill{name: "web_search"}
	r := testRuntime(t, stub, search)

	got, err := r.runToolLoop(context.Background(), "admin@example.com", "system",
		[]llm.Message{llm.TextMessage("user", "look it up")})
	if err != nil {
		t.Fatal(err)
	}
	if got != "done" {
		t.Errorf("reply = %q", got)
	}
	if search.count != 1 {
		t.Errorf("skill executed %d times", search.count)
	}
	if stub.callsNoTools != 0 {
		t.Error("forced call should not run when the loop converges")
	}
}

func TestToolLoopTerminatesAfterMaxRounds(t *testing.T) {
	// The model requests web_search on every round. After MaxRounds
	// the runtime must force a final call with an empty tool list and
	// still produce text.
	stub := &stubLLM{toolRounds: 1000, finalText: "sorry, I could not finish"}
	search := &countingSkill{name: "web_search"}
	r := testRuntime(t, stub, search)

	got, err := r.runToolLoop(context.Background(), "admin@example.com", "system",
		[]llm.Message{llm.TextMessage("user", "loop forever")})
	if err != nil {
		t.Fatal(err)
	}
	if got != "sorry, I could not finish" {
		t.Errorf("reply = %q", got)
	}
	if search.count != MaxRounds {
		t.Errorf("skill executed %d times, want %d", search.count, MaxRounds)
	}
	if stub.callsNoTools != 1 {
		t.Errorf("forced no-tools calls = %d, want 1", stub.callsNoTools)
	}
}

func TestToolLoopUnknownToolContinues(t *testing.T) {
	// No skill registered: the registry answers "error: unknown tool"
	// and the loop keeps going instead of aborting.
	stub := &stubLLM{toolRounds: 2, finalText: "recovered"}
	r := testRuntime(t, stub)

	got, err := r.runToolLoop(context.Background(), "admin@example.com", "system",
		[]llm.Message{llm.TextMessage("user", "hi")})
	if err != nil {
		t.Fatal(err)
	}
	if got != "recovered" {
		t.Errorf("reply = %q", got)
	}
}

func TestToolLoopPropagatesLLMFailure(t *testing.T) {
	stub := &stubLLM{err: context.DeadlineExceeded}
	r := testRuntime(t, stub)
	if _, err := r.runToolLoop(context.Background(), "a@b", "s",
		[]llm.Message{llm.TextMessage("user", "hi")}); err == nil {
		t.Error("LLM failure swallowed")
	}
}

// With toolRounds 0 the stub answers on the first call without requesting
// a tool.
func TestToolLoopPlainAnswer(t *testing.T) {
	stub := &stubLLM{toolRounds: 0, finalText: "plain answer"}
	r := testRuntime(t, stub)
	got, err := r.runToolLoop(context.Background(), "a@b", "s",
		[]llm.Message{llm.TextMessage("user", "hello")})
	if err != nil || got != "plain answer" {
		t.Errorf("got %q, %v", got, err)
	}
	if stub.calls != 1 {
		t.Errorf("calls = %d", stub.calls)
	}
}

func TestToolResultsCarryErrorFlag(t *testing.T) {
	if m := llm.ToolResultMessage("id1", "error: boom", true); !m.Blocks[0].IsError {
		t.Error("error flag lost")
	}
	if !strings.HasPrefix("error: boom", "error:") {
		t.Error("sanity")
	}
}
