package resume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/streambuf"
)

// TestResumeAfterDisconnect is spec.md §8 scenario S3.
func TestResumeAfterDisconnect(t *testing.T) {
	state := streambuf.State{
		BufferedChunks: []contracts.Chunk{
			{MessageID: "m1", Content: "abc"},
			{MessageID: "m1", Content: "def", Terminal: true},
			{MessageID: "m2", Content: "xy"},
		},
	}
	history := []contracts.ChatMessage{
		{Role: contracts.RoleUser, Content: "q"},
		{Role: contracts.RoleAssistant, Content: "abc", ProviderMsg: "m1"},
	}

	result := Reconcile(state, history, "", "")

	require.Len(t, result.Messages, 2)
	assert.Equal(t, "q", result.Messages[0].Content)
	assert.Equal(t, "abcdef", result.Messages[1].Content)
	assert.Equal(t, "m1", result.Messages[1].ProviderMsg)

	assert.Equal(t, "m2", result.Streaming.MessageID)
	assert.Equal(t, "xy", result.Streaming.Content)
}

func TestEmptyBufferPreservesHistory(t *testing.T) {
	history := []contracts.ChatMessage{
		{Role: contracts.RoleUser, Content: "hi"},
		{Role: contracts.RoleAssistant, Content: "hello", ProviderMsg: "m1"},
	}
	result := Reconcile(streambuf.State{}, history, "", "")
	assert.Equal(t, history, result.Messages)
	assert.Empty(t, result.Streaming.Content)
}

func TestSingleInProgressTurnWithNoIDsIsStreamingOnly(t *testing.T) {
	state := streambuf.State{
		BufferedChunks: []contracts.Chunk{
			{Content: "par"},
			{Content: "tial"},
		},
	}
	result := Reconcile(state, nil, "", "")
	assert.Empty(t, result.Messages)
	assert.Equal(t, "partial", result.Streaming.Content)
}

func TestToolCallOnlyChunkDoesNotFinalizeAssistantMessage(t *testing.T) {
	state := streambuf.State{
		BufferedChunks: []contracts.Chunk{
			{MessageID: "m1", Content: "text"},
			{MessageID: "m1", ToolCallDelta: "search:{}"},
		},
	}
	result := Reconcile(state, nil, "", "")
	assert.Empty(t, result.Messages, "group with no terminal chunk stays the streaming tail")
	assert.Equal(t, "text", result.Streaming.Content)
	assert.Equal(t, "search:{}", result.Streaming.ToolCallText)
}

func TestLeadingAndFollowingNewTurnsAroundAnchor(t *testing.T) {
	state := streambuf.State{
		BufferedChunks: []contracts.Chunk{
			{MessageID: "m0", Content: "lead", Terminal: true},
			{MessageID: "m1", Content: "anchor-body", Terminal: true},
			{MessageID: "m2", Content: "follow", Terminal: true},
			{MessageID: "m3", Content: "tail"},
		},
	}
	history := []contracts.ChatMessage{
		{Role: contracts.RoleUser, Content: "q"},
		{Role: contracts.RoleAssistant, Content: "anchor-body", ProviderMsg: "m1"},
	}

	result := Reconcile(state, history, "", "")

	require.Len(t, result.Messages, 4)
	assert.Equal(t, "m0", result.Messages[0].ProviderMsg)
	assert.Equal(t, "q", result.Messages[1].Content)
	assert.Equal(t, "m1", result.Messages[2].ProviderMsg)
	assert.Equal(t, "m2", result.Messages[3].ProviderMsg)
	assert.Equal(t, "tail", result.Streaming.Content)
}

func TestDuplicateStreamingContentIsCleared(t *testing.T) {
	history := []contracts.ChatMessage{
		{Role: contracts.RoleAssistant, Content: "hello world", ProviderMsg: "m1"},
	}
	streaming := StreamingContent{MessageID: "m1", Content: "hello"}
	out := stripDuplicateContent(streaming, history)
	assert.Empty(t, out.Content)
}

func TestKnownPrefixIsStrippedFromStreamingContent(t *testing.T) {
	history := []contracts.ChatMessage{
		{Role: contracts.RoleAssistant, Content: "hello ", ProviderMsg: "m1"},
	}
	streaming := StreamingContent{MessageID: "m1", Content: "hello world"}
	out := stripDuplicateContent(streaming, history)
	assert.Equal(t, "world", out.Content)
}

func TestCurrentPromptAppendedUnlessAlreadyPresent(t *testing.T) {
	history := []contracts.ChatMessage{{Role: contracts.RoleUser, Content: "hi"}}

	out := appendCurrentPrompt(history, "hi", "u1")
	assert.Len(t, out, 1, "identical prompt text already present: no duplicate appended")

	out = appendCurrentPrompt(history, "new one", "u1")
	require.Len(t, out, 2)
	assert.Equal(t, "new one", out[1].Content)
}

// TestRebuildIsIdempotent covers the round-trip law in spec.md §8: feeding a
// merged result's messages back through rebuild (as client history, with an
// empty buffer) leaves them unchanged.
func TestRebuildIsIdempotent(t *testing.T) {
	state := streambuf.State{
		BufferedChunks: []contracts.Chunk{
			{MessageID: "m1", Content: "abc"},
			{MessageID: "m1", Content: "def", Terminal: true},
		},
	}
	first := Reconcile(state, nil, "", "")
	second := Reconcile(streambuf.State{}, first.Messages, "", "")
	assert.Equal(t, first.Messages, second.Messages)
}
