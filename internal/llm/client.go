package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/haricheung/opsai/internal/config"
)

// Client is an OpenAI-compatible LLM client.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	label       string // component name used in debug log lines (e.g. "ORCH", "DEPLOY")
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw base URL so the path is never doubled when the client appends
// "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// New creates a Client from the llm section of the configuration document.
// label names the calling component in debug log lines.
func New(cfg config.LLMConfig, label string) *Client {
	if label == "" {
		label = "LLM"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:     normalizeBaseURL(cfg.BaseURL),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		label:       label,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Validate reports missing endpoint configuration. A client with missing
// fields fails here at startup instead of on the first request.
//
// Expectations:
//   - Returns nil when all three fields (baseURL, apiKey, model) are non-empty
//   - Returns error listing "base URL" when baseURL is empty
//   - Returns error listing "API key" when apiKey is empty
//   - Returns error listing "model" when model is empty
//   - Lists all missing fields comma-separated when several are empty
//   - Error message includes the component label
func (c *Client) Validate() error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm: [%s] missing configuration: %s", c.label, strings.Join(missing, ", "))
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends a system + user prompt and returns the assistant's text
// response and token usage.
func (c *Client) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	return c.ChatMessages(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

// Message is one turn of a chat transcript.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatMessages sends an ordered transcript and returns the assistant's text
// response and token usage.
func (c *Client) ChatMessages(ctx context.Context, messages []Message) (string, Usage, error) {
	msgs := make([]chatMsg, len(messages))
	for i, m := range messages {
		msgs[i] = chatMsg{Role: m.Role, Content: m.Content}
	}
	log.Printf("[%s] ── REQUEST (%d messages) ──", c.label, len(msgs))

	payload := chatRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", Usage{}, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("llm: no choices in response")
	}

	content := chatResp.Choices[0].Message.Content
	log.Printf("[%s] ── RESPONSE (tokens: prompt=%d completion=%d) ──\n%s\n── END RESPONSE ──",
		c.label, chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens, content)
	return content, chatResp.Usage, nil
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models emit these before or between JSON objects. The blocks
// are not part of structured output and must be stripped before parsing.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block — strip from opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes markdown code fences (```json ... ```) from LLM
// output, and also strips <think>...</think> reasoning blocks.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		// Remove opening fence line
		idx := strings.Index(s, "\n")
		if idx != -1 {
			s = s[idx+1:]
		}
		// Remove closing fence
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
