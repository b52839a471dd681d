package llm

import (
	"strings"
	"testing"

	"github.com/haricheung/opsai/internal/config"
)

func TestNormalizeBaseURL_StripsChatCompletionsSuffix(t *testing.T) {
	// Strips a trailing "/chat/completions" suffix
	got := normalizeBaseURL("https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions")
	want := "https://dashscope.aliyuncs.com/compatible-mode/v1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeBaseURL_StripTrailingSlash(t *testing.T) {
	// Strips a trailing slash without "/chat/completions"
	got := normalizeBaseURL("https://api.openai.com/v1/")
	want := "https://api.openai.com/v1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeBaseURL_StripSlashAndSuffix(t *testing.T) {
	// Strips trailing slash AND "/chat/completions" when both are present
	got := normalizeBaseURL("https://api.example.com/v1/chat/completions/")
	want := "https://api.example.com/v1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeBaseURL_NoSuffixUnchanged(t *testing.T) {
	// Returns the URL unchanged when neither suffix is present
	got := normalizeBaseURL("https://api.deepseek.com")
	want := "https://api.deepseek.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeBaseURL_EmptyInput(t *testing.T) {
	// Returns "" for empty input
	if got := normalizeBaseURL(""); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestNew_UsesConfigFields(t *testing.T) {
	// Client fields come from the llm config section
	c := New(config.LLMConfig{
		BaseURL: "https://api.deepseek.com/v1/",
		Model:   "deepseek-chat",
		APIKey:  "sk-test",
	}, "ORCH")
	if c.baseURL != "https://api.deepseek.com/v1" {
		t.Errorf("baseURL: got %q", c.baseURL)
	}
	if c.model != "deepseek-chat" {
		t.Errorf("model: got %q", c.model)
	}
	if c.apiKey != "sk-test" {
		t.Errorf("apiKey: got %q", c.apiKey)
	}
}

// --- StripThinkBlocks ---

func TestStripThinkBlocks_RemovesSingleBlock(t *testing.T) {
	// Removes a single <think>...</think> block
	got := StripThinkBlocks("<think>let me reason</think>\n{\"worker\": \"shell\"}")
	want := "{\"worker\": \"shell\"}"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripThinkBlocks_RemovesMultipleBlocks(t *testing.T) {
	// Removes multiple <think>...</think> blocks
	got := StripThinkBlocks("<think>first</think>{\"a\":1}<think>second</think>{\"b\":2}")
	if strings.Contains(got, "<think>") || strings.Contains(got, "</think>") {
		t.Errorf("expected all think blocks removed, got %q", got)
	}
}

func TestStripThinkBlocks_UnclosedBlockStrippedToEnd(t *testing.T) {
	// Strips an unclosed <think> block from its start to end of string
	got := StripThinkBlocks("{\"worker\": \"shell\"}<think>orphaned reasoning")
	want := "{\"worker\": \"shell\"}"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStripThinkBlocks_NoTagReturnedUnchanged(t *testing.T) {
	// Returns s unchanged when no <think> tag is present
	input := "{\"worker\": \"shell\", \"action\": \"execute_command\"}"
	got := StripThinkBlocks(input)
	if got != input {
		t.Errorf("expected unchanged, got %q", got)
	}
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_NilWhenAllFieldsPresent(t *testing.T) {
	// Returns nil when all three fields (baseURL, apiKey, model) are non-empty
	c := &Client{baseURL: "https://api.example.com", apiKey: "sk-key", model: "gpt-4o", label: "TEST"}
	if err := c.Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidate_ErrorListsBaseURL(t *testing.T) {
	// Returns error listing "base URL" when baseURL is empty
	c := &Client{baseURL: "", apiKey: "sk-key", model: "gpt-4o", label: "TEST"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "base URL") {
		t.Errorf("expected 'base URL' in error, got %q", err.Error())
	}
}

func TestValidate_ErrorListsAPIKey(t *testing.T) {
	// Returns error listing "API key" when apiKey is empty
	c := &Client{baseURL: "https://api.example.com", apiKey: "", model: "gpt-4o", label: "TEST"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "API key") {
		t.Errorf("expected 'API key' in error, got %q", err.Error())
	}
}

func TestValidate_ErrorListsAllMissingFieldsCommaSeparated(t *testing.T) {
	// Returns error listing all missing fields comma-separated when multiple are empty
	c := &Client{baseURL: "", apiKey: "", model: "", label: "TEST"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "base URL") || !strings.Contains(msg, "API key") || !strings.Contains(msg, "model") {
		t.Errorf("expected all three fields listed, got %q", msg)
	}
	if !strings.Contains(msg, ", ") {
		t.Errorf("expected comma-separated list, got %q", msg)
	}
}

func TestValidate_ErrorIncludesLabel(t *testing.T) {
	// Error message includes the component label
	c := &Client{baseURL: "", apiKey: "sk-key", model: "gpt-4o", label: "DEPLOY"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "DEPLOY") {
		t.Errorf("expected label 'DEPLOY' in error, got %q", err.Error())
	}
}
