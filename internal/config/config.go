// Package config loads and validates the agent configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/processone/fluux-agent/internal/xmpp"
)

// Config is the full operator-facing configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Agent         AgentConfig         `yaml:"agent"`
	LLM           LLMConfig           `yaml:"llm"`
	Memory        MemoryConfig        `yaml:"memory"`
	Session       SessionConfig       `yaml:"session"`
	Rooms         []RoomConfig        `yaml:"rooms"`
	Skills        SkillsConfig        `yaml:"skills"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig exposes the process counters.
type ObservabilityConfig struct {
	// MetricsPort serves /metrics (Prometheus) and /healthz on this
	// local port. 0 disables the listener.
	MetricsPort int `yaml:"metrics_port"`
}

// ServerConfig selects the connection mode and transport parameters.
type ServerConfig struct {
	Mode      string `yaml:"mode"` // "component" or "client"
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TLSVerify *bool  `yaml:"tls_verify"`

	// Component mode (XEP-0114).
	ComponentDomain string `yaml:"component_domain"`
	ComponentSecret string `yaml:"component_secret"`

	// Client mode (C2S).
	JID      string `yaml:"jid"`
	Password string `yaml:"password"`
	Resource string `yaml:"resource"`
}

// AgentConfig names the agent and sets the admission policy.
type AgentConfig struct {
	Name string `yaml:"name"`
	// AllowedJIDs is the bare-JID allow list for direct messages and
	// auto presence subscription.
	AllowedJIDs []string `yaml:"allowed_jids"`
	// AllowedDomains is the sender domain allow list. Empty admits
	// only the agent's own domain; ["*"] admits all.
	AllowedDomains []string `yaml:"allowed_domains"`
}

// LLMConfig selects and parameterizes the provider adapter.
type LLMConfig struct {
	Provider    string `yaml:"provider"` // "anthropic" or "ollama"
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	MaxTokens   int    `yaml:"max_tokens"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Timeout returns the wall-clock limit for one LLM call.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// MemoryConfig locates the workspace tree.
type MemoryConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig tunes conversation session lifecycle.
type SessionConfig struct {
	// IdleTimeoutMins archives a session lazily once its history file
	// has been idle this long. 0 disables time-based archival.
	IdleTimeoutMins int `yaml:"idle_timeout_mins"`
	// HistoryLimit bounds how many trailing entries feed the LLM.
	HistoryLimit int `yaml:"history_limit"`
}

// RoomConfig is one MUC room to join on connect.
type RoomConfig struct {
	JID             string   `yaml:"jid"`
	Nick            string   `yaml:"nick"`
	MentionPatterns []string `yaml:"mention_patterns"`
}

// SkillsConfig enables built-in skills and scopes their capabilities.
type SkillsConfig struct {
	Enabled []string `yaml:"enabled"`
	// AllowedCapabilities is the operator allow list a skill's declared
	// capabilities are validated against. Empty allows everything.
	AllowedCapabilities []string `yaml:"allowed_capabilities"`

	WebSearch WebSearchConfig `yaml:"web_search"`
	URLFetch  URLFetchConfig  `yaml:"url_fetch"`
}

// WebSearchConfig parameterizes the web_search skill.
type WebSearchConfig struct {
	Provider   string `yaml:"provider"` // "tavily" or "perplexity"
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// URLFetchConfig parameterizes the url_fetch skill.
type URLFetchConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

const (
	defaultResource     = "fluux-agent"
	defaultNick         = "fluux-agent"
	defaultMemoryPath   = "./data/memory"
	defaultHistoryLimit = 20
)

// applyDefaults fills zero values after parse.
func (c *Config) applyDefaults() {
	if c.Server.Resource == "" {
		c.Server.Resource = defaultResource
	}
	if c.Agent.Name == "" {
		c.Agent.Name = "Fluux Agent"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.Memory.Path == "" {
		c.Memory.Path = defaultMemoryPath
	}
	if c.Session.HistoryLimit <= 0 {
		c.Session.HistoryLimit = defaultHistoryLimit
	}
	for i := range c.Rooms {
		if c.Rooms[i].Nick == "" {
			c.Rooms[i].Nick = defaultNick
		}
	}
}

// Validate rejects configurations the runtime cannot start from.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("config: server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch c.Server.Mode {
	case "component":
		if c.Server.ComponentDomain == "" || c.Server.ComponentSecret == "" {
			return fmt.Errorf("config: component mode requires component_domain and component_secret")
		}
	case "client":
		if c.Server.JID == "" || c.Server.Password == "" {
			return fmt.Errorf("config: client mode requires jid and password")
		}
	default:
		return fmt.Errorf("config: server.mode must be \"component\" or \"client\" (got %q)", c.Server.Mode)
	}
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("config: llm.api_key is required for the anthropic provider")
		}
	case "ollama":
	default:
		return fmt.Errorf("config: llm.provider must be \"anthropic\" or \"ollama\" (got %q)", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config: llm.model is required")
	}
	for _, r := range c.Rooms {
		if r.JID == "" {
			return fmt.Errorf("config: rooms entries require a jid")
		}
	}
	if c.Observability.MetricsPort < 0 || c.Observability.MetricsPort > 65535 {
		return fmt.Errorf("config: observability.metrics_port %d out of range", c.Observability.MetricsPort)
	}
	if c.Skills.Enabled != nil {
		seen := map[string]bool{}
		for _, name := range c.Skills.Enabled {
			if seen[name] {
				return fmt.Errorf("config: skill %q enabled twice", name)
			}
			seen[name] = true
		}
	}
	return nil
}

// XMPPOptions maps the file config onto the connection layer's options.
func (c *Config) XMPPOptions() *xmpp.Options {
	tlsVerify := true
	if c.Server.TLSVerify != nil {
		tlsVerify = *c.Server.TLSVerify
	}
	opts := &xmpp.Options{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		Mode:            xmpp.Mode(c.Server.Mode),
		ComponentDomain: c.Server.ComponentDomain,
		ComponentSecret: c.Server.ComponentSecret,
		JID:             c.Server.JID,
		Password:        c.Server.Password,
		Resource:        c.Server.Resource,
		TLSVerify:       tlsVerify,
		AllowedJIDs:     c.Agent.AllowedJIDs,
		AllowedDomains:  c.Agent.AllowedDomains,
	}
	for _, r := range c.Rooms {
		opts.Rooms = append(opts.Rooms, xmpp.RoomOptions{
			JID:             r.JID,
			Nick:            r.Nick,
			MentionPatterns: r.MentionPatterns,
		})
	}
	return opts
}
