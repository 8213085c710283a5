package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/processone/fluux-agent/internal/config"
)

const (
	// fetchMaxBody caps the raw response body.
	fetchMaxBody = 5 << 20
	// fetchMaxOutput caps the text handed back to the model.
	fetchMaxOutput = 20000
	fetchUserAgent = "FluuxAgent/1.0 (+https://github.com/processone/fluux-agent)"
)

// URLFetchSkill fetches a URL and extracts readable text. The model
// invokes it when it has a concrete URL to read.
type URLFetchSkill struct {
	client   *http.Client
	maxBytes int64
}

// NewURLFetchSkill builds the skill from its config subsection.
func NewURLFetchSkill(cfg config.URLFetchConfig) *URLFetchSkill {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = fetchMaxBody
	}
	return &URLFetchSkill{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		maxBytes: maxBytes,
	}
}

// Name implements Skill.
func (s *URLFetchSkill) Name() string { return "url_fetch" }

// Description implements Skill.
func (s *URLFetchSkill) Description() string {
	return "Fetch a URL and return its readable text content. Use this when you have a " +
		"specific URL and need to read the page. HTML is reduced to plain text and long " +
		"pages are truncated."
}

// ParametersSchema implements Skill.
func (s *URLFetchSkill) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "The http(s) URL to fetch"}
		},
		"required": ["url"]
	}`)
}

// Capabilities implements Skill.
func (s *URLFetchSkill) Capabilities() []string { return []string{"network:*:443"} }

// MaxExecutionTime implements Skill.
func (s *URLFetchSkill) MaxExecutionTime() time.Duration { return 45 * time.Second }

// Execute implements Skill.
func (s *URLFetchSkill) Execute(ctx context.Context, params json.RawMessage, _ *Context) (string, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
		return "", fmt.Errorf("unsupported URL scheme (want http or https): %s", p.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, p.URL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return "", err
	}

	text := extractText(resp.Header.Get("Content-Type"), body)
	return formatFetchResult(p.URL, text), nil
}

var (
	reScriptStyle = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	reTags        = regexp.MustCompile(`(?s)<[^>]*>`)
	reBlankLines  = regexp.MustCompile(`\n{3,}`)
)

// extractText reduces a response body to readable text based on its
// content type.
func extractText(contentType string, body []byte) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"), strings.Contains(ct, "application/xhtml"):
		return htmlToText(string(body))
	case strings.Contains(ct, "text/"), strings.Contains(ct, "application/json"), strings.Contains(ct, "application/xml"):
		return strings.TrimSpace(string(body))
	default:
		if strings.ContainsRune(string(body[:min(len(body), 200)]), 0) {
			return fmt.Sprintf("Cannot extract text from binary content (%s)", contentType)
		}
		return strings.TrimSpace(string(body))
	}
}

// htmlToText strips markup: script/style subtrees first, then all tags,
// then entity and whitespace cleanup.
func htmlToText(html string) string {
	text := reScriptStyle.ReplaceAllString(html, " ")
	text = reTags.ReplaceAllString(text, " ")
	for entity, repl := range map[string]string{
		"&amp;": "&", "&lt;": "<", "&gt;": ">", "&quot;": `"`, "&apos;": "'", "&#39;": "'", "&nbsp;": " ",
	} {
		text = strings.ReplaceAll(text, entity, repl)
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.Join(strings.Fields(line), " "); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return reBlankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}

func formatFetchResult(url, text string) string {
	out := "Content from: " + url + "\n\n"
	if text == "" {
		return out + "[No text content extracted]"
	}
	runes := []rune(text)
	if len(runes) > fetchMaxOutput {
		return out + string(runes[:fetchMaxOutput]) + "\n\n[Content truncated]"
	}
	return out + text
}
