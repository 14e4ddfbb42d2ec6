// Package clientpipeline implements the client pipeline (spec.md §4.9):
// correlation-id tagging for echo deduplication, per-topic chunk assembly
// into the Messages/Streaming slices, and resume-then-resubscribe
// reconnection handling. Grounded on go-opencode's SSE client loop
// (cmd/opencode/commands headless runner + internal/server/sse.go), which
// already does "accumulate deltas, detect message-id changes, hand off to
// a renderer" — generalized here from a single local process to arbitrary
// per-topic state feeding the reactive store in internal/clientstore.
package clientpipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dethon/agentrt/internal/clientstore"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/resume"
	"github.com/dethon/agentrt/internal/streambuf"
)

// StreamStateFetcher retrieves the server's current StreamState for a
// topic, the resume endpoint in spec.md §6.
type StreamStateFetcher func(ctx context.Context, topicID string) (streambuf.State, error)

// Pipeline assembles inbound chunks into the Messages and Streaming slices
// and tags outbound prompts for echo deduplication.
type Pipeline struct {
	messages   *clientstore.Slice[clientstore.MessagesState]
	streaming  *clientstore.Slice[clientstore.StreamingState]
	fetchState StreamStateFetcher

	mu          sync.Mutex
	originated  map[string]bool // correlationId -> this client sent it
	accumulated map[string]string // topicId -> full known assistant text, for resume dedup
}

// New creates a Pipeline writing into messages/streaming and using
// fetchState to retrieve server StreamState on reconnect.
func New(messages *clientstore.Slice[clientstore.MessagesState], streaming *clientstore.Slice[clientstore.StreamingState], fetchState StreamStateFetcher) *Pipeline {
	return &Pipeline{
		messages:    messages,
		streaming:   streaming,
		fetchState:  fetchState,
		originated:  make(map[string]bool),
		accumulated: make(map[string]string),
	}
}

// TagOutbound generates a fresh correlation id for a user message the
// client is about to send, and records that this client originated it.
func (p *Pipeline) TagOutbound() string {
	id := uuid.NewString()
	p.mu.Lock()
	p.originated[id] = true
	p.mu.Unlock()
	return id
}

// IsOwnEcho reports whether correlationID was generated by this client's
// own TagOutbound call, consuming the record so a second echo of the same
// id is no longer recognized as an echo (only one broadcast copy of a
// given send is expected back).
func (p *Pipeline) IsOwnEcho(correlationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.originated[correlationID] {
		delete(p.originated, correlationID)
		return true
	}
	return false
}

// HandleChunk assembles one inbound chunk into the topic's streaming
// buffer, finalizing the prior assistant message when a content-bearing
// chunk introduces a new messageId (spec.md §4.9: "tool-call-only chunks
// do not split the assistant message").
func (p *Pipeline) HandleChunk(topicID string, chunk contracts.Chunk) {
	st := p.streaming.State()
	current, streamingNow := st.StreamingByTopic[topicID]

	if !streamingNow {
		current = resume.StreamingContent{MessageID: chunk.MessageID}
		p.streaming.Dispatch(clientstore.StreamStarted{TopicID: topicID})
	} else if chunk.MessageID != "" && chunk.MessageID != current.MessageID && chunk.Content != "" {
		p.finalize(topicID, current)
		current = resume.StreamingContent{MessageID: chunk.MessageID}
	}

	if chunk.Content != "" {
		current.Content += dedupedDelta(p.knownText(topicID), chunk.Content)
	}
	if chunk.Reasoning != "" {
		current.Reasoning += dedupedDelta(p.knownText(topicID), chunk.Reasoning)
	}
	if chunk.ToolCallDelta != "" {
		current.ToolCallText += chunk.ToolCallDelta
	}

	if chunk.Terminal {
		p.finalize(topicID, current)
		p.streaming.Dispatch(clientstore.StreamCompleted{TopicID: topicID})
		return
	}
	if chunk.Error != "" {
		p.streaming.Dispatch(clientstore.StreamError{TopicID: topicID, Err: chunk.Error})
		return
	}

	p.streaming.Dispatch(clientstore.StreamChunk{TopicID: topicID, Content: current})
}

// finalize commits the assembled streaming content to the Messages slice
// as one assistant message.
func (p *Pipeline) finalize(topicID string, content resume.StreamingContent) {
	if content.Content == "" && content.Reasoning == "" && content.ToolCallText == "" {
		return
	}
	p.messages.Dispatch(clientstore.AddMessage{
		TopicID: topicID,
		Message: contracts.ChatMessage{
			Role:         contracts.RoleAssistant,
			Content:      content.Content,
			Reasoning:    content.Reasoning,
			ToolCallText: content.ToolCallText,
			ProviderMsg:  content.MessageID,
		},
	})
	p.mu.Lock()
	p.accumulated[topicID] = ""
	p.mu.Unlock()
}

// knownText returns the text this pipeline has already folded into history
// for topicID, used to deduplicate overlapping deltas during resume.
func (p *Pipeline) knownText(topicID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accumulated[topicID]
}

// dedupedDelta drops delta entirely if it is already a substring of known
// (spec.md §4.9 "deduplication on resume"); otherwise returns delta
// unchanged.
func dedupedDelta(known, delta string) string {
	if known != "" && strings.Contains(known, delta) {
		return ""
	}
	return delta
}

// Resume fetches the server's StreamState for topicID, reconciles it
// against the client's known history and pending prompt text, applies the
// merged result to the Messages/Streaming slices, and only then is it safe
// for the caller to resume subscribing to the live chunk stream (spec.md
// §4.9: "only then resumes subscribing to live chunks").
func (p *Pipeline) Resume(ctx context.Context, topicID, pendingPromptText, senderID string, history []contracts.ChatMessage) error {
	p.streaming.Dispatch(clientstore.StartResuming{TopicID: topicID})

	state, err := p.fetchState(ctx, topicID)
	if err != nil {
		p.streaming.Dispatch(clientstore.StopResuming{TopicID: topicID})
		return err
	}

	result := resume.Reconcile(state, history, pendingPromptText, senderID)

	p.messages.Dispatch(clientstore.MessagesLoaded{TopicID: topicID, Messages: result.Messages})

	p.mu.Lock()
	var known string
	for _, m := range result.Messages {
		if m.Role == contracts.RoleAssistant {
			known += m.Content
		}
	}
	p.accumulated[topicID] = known
	p.mu.Unlock()

	if result.Streaming.Content != "" || result.Streaming.Reasoning != "" || result.Streaming.ToolCallText != "" {
		p.streaming.Dispatch(clientstore.StreamChunk{TopicID: topicID, Content: result.Streaming})
	}

	p.streaming.Dispatch(clientstore.StopResuming{TopicID: topicID})
	return nil
}
