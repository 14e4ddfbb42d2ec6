package clientpipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dethon/agentrt/internal/clientstore"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/streambuf"
)

func newTestPipeline(fetch StreamStateFetcher) (*Pipeline, *clientstore.Slice[clientstore.MessagesState], *clientstore.Slice[clientstore.StreamingState]) {
	messages := clientstore.NewSlice(clientstore.NewMessagesState(), clientstore.MessagesReducer)
	streaming := clientstore.NewSlice(clientstore.NewStreamingState(), clientstore.StreamingReducer)
	return New(messages, streaming, fetch), messages, streaming
}

func TestTagOutboundThenEchoIsRecognizedOnce(t *testing.T) {
	p, _, _ := newTestPipeline(nil)
	id := p.TagOutbound()

	assert.True(t, p.IsOwnEcho(id))
	assert.False(t, p.IsOwnEcho(id), "a second echo of the same id is not recognized")
}

func TestUnknownCorrelationIsNotAnEcho(t *testing.T) {
	p, _, _ := newTestPipeline(nil)
	assert.False(t, p.IsOwnEcho("never-sent"))
}

func TestContentChunksAccumulateIntoStreamingBuffer(t *testing.T) {
	p, _, streaming := newTestPipeline(nil)

	p.HandleChunk("t1", contracts.Chunk{MessageID: "m1", Content: "Hi"})
	p.HandleChunk("t1", contracts.Chunk{MessageID: "m1", Content: " there"})

	content := streaming.State().StreamingByTopic["t1"]
	assert.Equal(t, "Hi there", content.Content)
}

func TestTerminalChunkFinalizesAssistantMessage(t *testing.T) {
	p, messages, streaming := newTestPipeline(nil)

	p.HandleChunk("t1", contracts.Chunk{MessageID: "m1", Content: "Hi"})
	p.HandleChunk("t1", contracts.Chunk{MessageID: "m1", Content: " there", Terminal: true})

	msgs := messages.State().MessagesByTopic["t1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi there", msgs[0].Content)
	assert.Equal(t, contracts.RoleAssistant, msgs[0].Role)

	_, stillStreaming := streaming.State().StreamingTopics["t1"]
	assert.False(t, stillStreaming)
}

func TestToolCallOnlyChunkDoesNotSplitAssistantMessage(t *testing.T) {
	p, messages, streaming := newTestPipeline(nil)

	p.HandleChunk("t1", contracts.Chunk{MessageID: "m1", Content: "checking"})
	p.HandleChunk("t1", contracts.Chunk{MessageID: "m2", ToolCallDelta: "search:{}"})

	// m2 carries no content, so it must not finalize m1's buffer.
	assert.Empty(t, messages.State().MessagesByTopic["t1"])
	content := streaming.State().StreamingByTopic["t1"]
	assert.Equal(t, "checking", content.Content)
	assert.Equal(t, "search:{}", content.ToolCallText)
}

func TestNewMessageIDWithContentFinalizesPriorMessage(t *testing.T) {
	p, messages, streaming := newTestPipeline(nil)

	p.HandleChunk("t1", contracts.Chunk{MessageID: "m1", Content: "first"})
	p.HandleChunk("t1", contracts.Chunk{MessageID: "m2", Content: "second"})

	msgs := messages.State().MessagesByTopic["t1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)

	content := streaming.State().StreamingByTopic["t1"]
	assert.Equal(t, "second", content.Content)
	assert.Equal(t, "m2", content.MessageID)
}

func TestResumeFetchesReconcilesAndAppliesBeforeLiveResubscribe(t *testing.T) {
	fetch := func(ctx context.Context, topicID string) (streambuf.State, error) {
		return streambuf.State{
			BufferedChunks: []contracts.Chunk{
				{MessageID: "m1", Content: "abc"},
				{MessageID: "m1", Content: "def", Terminal: true},
			},
		}, nil
	}
	p, messages, streaming := newTestPipeline(fetch)

	err := p.Resume(context.Background(), "t1", "", "", nil)
	require.NoError(t, err)

	msgs := messages.State().MessagesByTopic["t1"]
	require.Len(t, msgs, 1)
	assert.Equal(t, "abcdef", msgs[0].Content)

	_, resuming := streaming.State().ResumingTopics["t1"]
	assert.False(t, resuming, "resume completes by clearing the resuming flag")
}

func TestDedupSkipsDeltaAlreadyKnownFromResume(t *testing.T) {
	fetch := func(ctx context.Context, topicID string) (streambuf.State, error) {
		return streambuf.State{}, nil
	}
	p, _, streaming := newTestPipeline(fetch)

	history := []contracts.ChatMessage{
		{Role: contracts.RoleAssistant, Content: "hello world", ProviderMsg: "m1"},
	}
	require.NoError(t, p.Resume(context.Background(), "t1", "", "", history))

	p.HandleChunk("t1", contracts.Chunk{MessageID: "m2", Content: "hello"})
	content := streaming.State().StreamingByTopic["t1"]
	assert.Empty(t, content.Content, "delta already present in known history is dropped")
}
