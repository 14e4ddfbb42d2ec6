package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dethon/agentrt/internal/contracts"
)

const sampleSSE = "" +
	"data: {\"type\":\"message_start\"}\n\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
	"data: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"tu_1\",\"name\":\"search\"}}\n\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"q\\\":\\\"go\\\"}\"}}\n\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":1}\n\n" +
	"data: {\"type\":\"message_delta\"}\n\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func TestPromptStreamsTextAndToolCall(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sampleSSE))
	}))
	defer srv.Close()

	p, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	stream, err := p.Prompt(context.Background(), []contracts.ChatMessage{
		{Role: contracts.RoleUser, Content: "hi"},
	}, nil, 0.5)
	require.NoError(t, err)
	defer stream.Close()

	var text string
	var toolCalls []contracts.ToolCall
	var sawTerminal bool
	for {
		u, ok := stream.Next(context.Background())
		if !ok {
			break
		}
		text += u.Content
		toolCalls = append(toolCalls, u.ToolCalls...)
		if u.Terminal {
			sawTerminal = true
		}
	}

	require.NoError(t, stream.Err())
	assert.Equal(t, "Hello", text)
	assert.True(t, sawTerminal)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "search", toolCalls[0].Name)
	assert.Equal(t, `{"q":"go"}`, toolCalls[0].Arguments)
	assert.Equal(t, "sk-test", gotAuth)
	assert.Equal(t, anthropicAPIVersion, gotVersion)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
