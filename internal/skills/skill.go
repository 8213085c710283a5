// Package skills defines the tool layer the agentic loop drives: the
// Skill capability set, the process-wide registry, and the built-in
// skills (web search, URL fetch, knowledge store).
package skills

import (
	"context"
	"encoding/json"
	"time"

	"github.com/processone/fluux-agent/internal/memory"
)

// Context is the per-invocation execution scope. JID is the bare JID of
// the conversation partner so skills keep their state strictly
// per-peer.
type Context struct {
	JID       string
	Workspace *memory.Workspace
}

// Skill is a capability the LLM can invoke via tool_use.
type Skill interface {
	// Name is the stable identifier used in the provider's tools
	// array: lowercase alphanumerics plus underscores.
	Name() string

	// Description tells the model when to invoke the skill.
	Description() string

	// ParametersSchema is the JSON Schema of the accepted parameters,
	// exposed as the tool's input_schema.
	ParametersSchema() json.RawMessage

	// Capabilities declares the resources the skill needs, as strings
	// like "network:api.tavily.com:443" or "filesystem:knowledge:write".
	// Validated against the operator allow list before enabling.
	Capabilities() []string

	// MaxExecutionTime bounds one execution; 0 means the registry
	// default applies.
	MaxExecutionTime() time.Duration

	// Execute runs the skill. The returned string is relayed to the
	// model as a tool_result; errors are stringified by the registry
	// and never unwind past the loop.
	Execute(ctx context.Context, params json.RawMessage, sc *Context) (string, error)
}
