package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/processone/fluux-agent/internal/llm"
)

// defaultExecutionTime bounds a skill run when its manifest does not.
const defaultExecutionTime = 60 * time.Second

// Registry is the process-wide skill map. It is built once at startup
// and read-only afterwards.
type Registry struct {
	skills  map[string]Skill
	ordered []Skill
	log     *slog.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{skills: make(map[string]Skill), log: log}
}

// Register adds a skill after validating its name, schema, and declared
// capabilities. allowedCapabilities is the operator allow list; empty
// allows everything.
func (r *Registry) Register(s Skill, allowedCapabilities []string) error {
	name := s.Name()
	if name == "" || strings.ToLower(name) != name {
		return fmt.Errorf("skills: invalid skill name %q", name)
	}
	if _, exists := r.skills[name]; exists {
		return fmt.Errorf("skills: duplicate skill name %q", name)
	}

	// The schema must compile: a skill advertising a broken
	// input_schema would fail at the provider boundary at the worst
	// possible time.
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(string(s.ParametersSchema()))); err != nil {
		return fmt.Errorf("skills: schema for %q: %w", name, err)
	}
	if _, err := compiler.Compile(name + ".json"); err != nil {
		return fmt.Errorf("skills: schema for %q does not compile: %w", name, err)
	}

	if len(allowedCapabilities) > 0 {
		for _, cap := range s.Capabilities() {
			if !capabilityAllowed(cap, allowedCapabilities) {
				return fmt.Errorf("skills: %q requires capability %q not in the operator allow list", name, cap)
			}
		}
	}

	r.skills[name] = s
	r.ordered = append(r.ordered, s)
	r.log.Info("registered skill", "name", name, "capabilities", strings.Join(s.Capabilities(), ", "))
	return nil
}

func capabilityAllowed(cap string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == cap {
			return true
		}
	}
	return false
}

// Len returns the number of registered skills.
func (r *Registry) Len() int { return len(r.ordered) }

// ToolDefinitions translates the registry one-to-one into the
// provider-neutral tool schema.
func (r *Registry) ToolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.ordered))
	for _, s := range r.ordered {
		defs = append(defs, llm.ToolDefinition{
			Name:        s.Name(),
			Description: s.Description(),
			InputSchema: s.ParametersSchema(),
		})
	}
	return defs
}

// Execute runs a skill by name. Unknown names and execution failures
// come back as "error: ..." strings so the loop always continues; a
// skill overrunning its execution budget yields "error: timeout".
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage, sc *Context) string {
	s, ok := r.skills[name]
	if !ok {
		return "error: unknown tool"
	}

	budget := s.MaxExecutionTime()
	if budget <= 0 {
		budget = defaultExecutionTime
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		out, err := s.Execute(ctx, params, sc)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		r.log.Warn("skill timed out", "name", name)
		return "error: timeout"
	case res := <-done:
		if res.err != nil {
			r.log.Warn("skill failed", "name", name, "error", res.err)
			return "error: " + res.err.Error()
		}
		return res.out
	}
}
