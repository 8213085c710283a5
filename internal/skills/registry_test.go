package skills

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/processone/fluux-agent/internal/memory"
)

// fakeSkill is a configurable test double.
type fakeSkill struct {
	name    string
	schema  string
	caps    []string
	budget  time.Duration
	execute func(ctx context.Context, params json.RawMessage, sc *Context) (string, error)
}

func (f *fakeSkill) Name() string        { return f.name }
func (f *fakeSkill) Description() string { return "test skill" }
func (f *fakeSkill) ParametersSchema() json.RawMessage {
	if f.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(f.schema)
}
func (f *fakeSkill) Capabilities() []string          { return f.caps }
func (f *fakeSkill) MaxExecutionTime() time.Duration { return f.budget }
func (f *fakeSkill) Execute(ctx context.Context, params json.RawMessage, sc *Context) (string, error) {
	return f.execute(ctx, params, sc)
}

func testContext(t *testing.T) *Context {
	t.Helper()
	ws, err := memory.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Context{JID: "admin@example.com", Workspace: ws}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry(nil)
	got := reg.Execute(context.Background(), "nope", nil, testContext(t))
	if got != "error: unknown tool" {
		t.Errorf("unknown tool = %q", got)
	}
}

func TestExecuteStringifiesErrors(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeSkill{
		name: "failing",
		execute: func(context.Context, json.RawMessage, *Context) (string, error) {
			return "", errors.New("boom")
		},
	}, nil)
	got := reg.Execute(context.Background(), "failing", nil, testContext(t))
	if got != "error: boom" {
		t.Errorf("failure = %q", got)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeSkill{
		name: "panicky",
		execute: func(context.Context, json.RawMessage, *Context) (string, error) {
			panic("unexpected")
		},
	}, nil)
	got := reg.Execute(context.Background(), "panicky", nil, testContext(t))
	if !strings.HasPrefix(got, "error: panic:") {
		t.Errorf("panic result = %q", got)
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeSkill{
		name:   "slow",
		budget: 20 * time.Millisecond,
		execute: func(ctx context.Context, _ json.RawMessage, _ *Context) (string, error) {
			<-ctx.Done()
			time.Sleep(200 * time.Millisecond)
			return "late", nil
		},
	}, nil)
	got := reg.Execute(context.Background(), "slow", nil, testContext(t))
	if got != "error: timeout" {
		t.Errorf("timeout = %q", got)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry(nil)
	ok := &fakeSkill{name: "dup", execute: func(context.Context, json.RawMessage, *Context) (string, error) { return "", nil }}
	if err := reg.Register(ok, nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ok, nil); err == nil {
		t.Error("duplicate name accepted")
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	reg := NewRegistry(nil)
	bad := &fakeSkill{name: "bad", schema: `{"type": 42}`}
	if err := reg.Register(bad, nil); err == nil {
		t.Error("broken schema accepted")
	}
}

func TestRegisterValidatesCapabilities(t *testing.T) {
	reg := NewRegistry(nil)
	skill := &fakeSkill{name: "net", caps: []string{"network:api.example.com:443"}}

	if err := reg.Register(skill, []string{"filesystem:knowledge:read"}); err == nil {
		t.Error("undeclared capability accepted")
	}
	if err := reg.Register(skill, []string{"network:api.example.com:443"}); err != nil {
		t.Errorf("allowed capability rejected: %v", err)
	}
}

func TestRegisterCapabilityWildcard(t *testing.T) {
	reg := NewRegistry(nil)
	skill := &fakeSkill{name: "net", caps: []string{"network:api.example.com:443"}}
	if err := reg.Register(skill, []string{"*"}); err != nil {
		t.Errorf("wildcard allow list rejected: %v", err)
	}
}

func TestToolDefinitionsOneToOne(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&fakeSkill{name: "alpha"}, nil)
	reg.Register(&fakeSkill{name: "beta"}, nil)
	defs := reg.ToolDefinitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "beta" {
		t.Errorf("defs = %+v", defs)
	}
	if defs[0].Description == "" || defs[0].InputSchema == nil {
		t.Error("definition fields incomplete")
	}
}

func TestBuiltinSchemasCompile(t *testing.T) {
	reg := NewRegistry(nil)
	for _, s := range []Skill{MemoryStoreSkill{}, MemoryRecallSkill{}} {
		if err := reg.Register(s, nil); err != nil {
			t.Errorf("%s: %v", s.Name(), err)
		}
	}
}

func TestMemorySkillsRoundTrip(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(MemoryStoreSkill{}, nil)
	reg.Register(MemoryRecallSkill{}, nil)
	sc := testContext(t)

	got := reg.Execute(context.Background(), "memory_store",
		json.RawMessage(`{"key":"timezone","content":"Europe/Paris"}`), sc)
	if !strings.Contains(got, "timezone") {
		t.Errorf("store = %q", got)
	}
	got = reg.Execute(context.Background(), "memory_recall",
		json.RawMessage(`{"query":"paris"}`), sc)
	if !strings.Contains(got, "Europe/Paris") {
		t.Errorf("recall = %q", got)
	}
}

func TestMemoryStoreMissingParams(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(MemoryStoreSkill{}, nil)
	got := reg.Execute(context.Background(), "memory_store", json.RawMessage(`{"key":"x"}`), testContext(t))
	if !strings.HasPrefix(got, "error:") {
		t.Errorf("missing content = %q", got)
	}
}
