// Package provider implements the one concrete contracts.LLM binding this
// repository ships: a streaming Anthropic Messages API client built
// directly on net/http and encoding/json rather than a heavier SDK.
// contracts.go documents LLM as an "out-of-scope collaborator" — the core
// agent loop only depends on the interface — so this package exists
// purely to make the composition root runnable, not because the domain
// requires a specific provider. Grounded on
// vanducng-goclaw/internal/providers/anthropic.go, which already
// implements the same direct-HTTP SSE-streaming approach (no vendor SDK);
// adapted here from that repo's ChatRequest/ChatResponse/StreamChunk
// shapes to contracts.ChatMessage/contracts.Update.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dethon/agentrt/internal/contracts"
)

const (
	defaultModel        = "claude-sonnet-4-20250514"
	defaultAPIBase      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// Config configures an Anthropic-backed LLM.
type Config struct {
	APIKey    string // falls back to ANTHROPIC_API_KEY
	BaseURL   string // falls back to defaultAPIBase
	Model     string // falls back to defaultModel
	MaxTokens int    // falls back to 4096
}

// Anthropic implements contracts.LLM against the Anthropic Messages API.
type Anthropic struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

// New constructs an Anthropic-backed contracts.LLM.
func New(cfg Config) (*Anthropic, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider: ANTHROPIC_API_KEY not set")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAPIBase
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &Anthropic{
		apiKey:    apiKey,
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Prompt streams one assistant turn for messages, with tools made
// available for the model to call.
func (a *Anthropic) Prompt(ctx context.Context, messages []contracts.ChatMessage, tools []contracts.ToolSpec, temperature float64) (contracts.UpdateStream, error) {
	body := a.buildRequestBody(messages, tools, temperature)

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("provider: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("provider: anthropic returned %d: %s", resp.StatusCode, string(respBody))
	}

	stream := newUpdateStream(resp.Body)
	go stream.pump()
	return stream, nil
}

func (a *Anthropic) buildRequestBody(messages []contracts.ChatMessage, tools []contracts.ToolSpec, temperature float64) map[string]any {
	var system strings.Builder
	var wireMessages []map[string]any

	for _, msg := range messages {
		switch msg.Role {
		case contracts.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(msg.Content)
		case contracts.RoleTool:
			wireMessages = append(wireMessages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": msg.ToolCallID,
					"content":     msg.Content,
				}},
			})
		case contracts.RoleAssistant:
			wireMessages = append(wireMessages, assistantWireMessage(msg))
		default:
			wireMessages = append(wireMessages, map[string]any{
				"role":    "user",
				"content": msg.Content,
			})
		}
	}

	body := map[string]any{
		"model":       a.model,
		"max_tokens":  a.maxTokens,
		"temperature": temperature,
		"messages":    wireMessages,
		"stream":      true,
	}
	if system.Len() > 0 {
		body["system"] = system.String()
	}
	if len(tools) > 0 {
		wireTools := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			var schema any = json.RawMessage(t.ParametersSchema)
			if len(t.ParametersSchema) == 0 {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			wireTools = append(wireTools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schema,
			})
		}
		body["tools"] = wireTools
	}
	return body
}

func assistantWireMessage(msg contracts.ChatMessage) map[string]any {
	var blocks []map[string]any
	if msg.Content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": json.RawMessage(tc.Arguments),
		})
	}
	return map[string]any{"role": "assistant", "content": blocks}
}
