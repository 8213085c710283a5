package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/processone/fluux-agent/internal/config"
)

// searchResult is one normalized hit, provider-agnostic.
type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

// searchResponse aggregates a provider's answer.
type searchResponse struct {
	Summary string
	Results []searchResult
}

// searchProvider abstracts the web search backends.
type searchProvider interface {
	search(ctx context.Context, query string) (*searchResponse, error)
	name() string
	capability() string
}

// WebSearchSkill gives the model access to current information from the
// web. The configured provider determines the backend.
type WebSearchSkill struct {
	provider searchProvider
}

// NewWebSearchSkill builds the skill from its config subsection.
func NewWebSearchSkill(cfg config.WebSearchConfig) (*WebSearchSkill, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	switch cfg.Provider {
	case "tavily":
		return &WebSearchSkill{provider: &tavilyProvider{client: client, apiKey: cfg.APIKey, maxResults: maxResults}}, nil
	case "perplexity":
		return &WebSearchSkill{provider: &perplexityProvider{client: client, apiKey: cfg.APIKey, model: "sonar"}}, nil
	default:
		return nil, fmt.Errorf("skills: unsupported web search provider %q (want \"tavily\" or \"perplexity\")", cfg.Provider)
	}
}

// Name implements Skill.
func (s *WebSearchSkill) Name() string { return "web_search" }

// Description implements Skill.
func (s *WebSearchSkill) Description() string {
	return "Search the web for current information. Use this when you need up-to-date facts, " +
		"recent events, or information you don't have. Returns a list of results with titles, " +
		"URLs and snippets."
}

// ParametersSchema implements Skill.
func (s *WebSearchSkill) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query"}
		},
		"required": ["query"]
	}`)
}

// Capabilities implements Skill.
func (s *WebSearchSkill) Capabilities() []string {
	return []string{s.provider.capability()}
}

// MaxExecutionTime implements Skill.
func (s *WebSearchSkill) MaxExecutionTime() time.Duration { return 45 * time.Second }

// Execute implements Skill.
func (s *WebSearchSkill) Execute(ctx context.Context, params json.RawMessage, _ *Context) (string, error) {
	var p struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(p.Query) == "" {
		return "", fmt.Errorf("missing required parameter: query")
	}
	resp, err := s.provider.search(ctx, p.Query)
	if err != nil {
		return "", fmt.Errorf("%s search: %w", s.provider.name(), err)
	}
	return formatSearchResults(p.Query, resp), nil
}

func formatSearchResults(query string, resp *searchResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Web search results for: %s\n", query)
	if resp.Summary != "" {
		fmt.Fprintf(&b, "\nSummary: %s\n", resp.Summary)
	}
	if len(resp.Results) == 0 {
		b.WriteString("\nNo results found.")
		return b.String()
	}
	fmt.Fprintf(&b, "\n%d results:\n", len(resp.Results))
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}

// ── Tavily ───────────────────────────────────────────────

type tavilyProvider struct {
	client     *http.Client
	apiKey     string
	maxResults int
}

func (t *tavilyProvider) name() string       { return "tavily" }
func (t *tavilyProvider) capability() string { return "network:api.tavily.com:443" }

func (t *tavilyProvider) search(ctx context.Context, query string) (*searchResponse, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":        t.apiKey,
		"query":          query,
		"max_results":    t.maxResults,
		"include_answer": true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, err
	}
	out := &searchResponse{Summary: parsed.Answer}
	for _, r := range parsed.Results {
		out.Results = append(out.Results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}

// ── Perplexity ───────────────────────────────────────────

type perplexityProvider struct {
	client *http.Client
	apiKey string
	model  string
}

func (p *perplexityProvider) name() string       { return "perplexity" }
func (p *perplexityProvider) capability() string { return "network:api.perplexity.ai:443" }

func (p *perplexityProvider) search(ctx context.Context, query string) (*searchResponse, error) {
	body, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": query},
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.perplexity.ai/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations []string `json:"citations"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, err
	}
	out := &searchResponse{}
	if len(parsed.Choices) > 0 {
		out.Summary = parsed.Choices[0].Message.Content
	}
	for i, u := range parsed.Citations {
		out.Results = append(out.Results, searchResult{
			Title: fmt.Sprintf("Citation %d", i+1),
			URL:   u,
		})
	}
	return out, nil
}
