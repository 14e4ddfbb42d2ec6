// Package resume implements the resume reconciler (spec.md §4.6): merging a
// reconnecting client's known message history with the server's in-flight
// stream buffer, without duplicating or dropping content. go-opencode's
// own SSE client has no equivalent (it simply replays from scratch on
// reconnect); this is grounded instead on the stream-buffer grouping
// logic in internal/streambuf and the chunk shape in internal/contracts,
// generalized into the history/tail merge algorithm below.
package resume

import (
	"strings"

	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/streambuf"
)

// StreamingContent is the not-yet-finalized tail of the buffer: the chunk
// group with no terminal marker and no successor group.
type StreamingContent struct {
	MessageID    string
	Content      string
	Reasoning    string
	ToolCallText string
}

// Result is the reconciler's output: the client's merged history plus the
// remaining in-progress streaming content, ready for live-chunk resumption.
type Result struct {
	Messages  []contracts.ChatMessage
	Streaming StreamingContent
}

// turnGroup accumulates the deltas belonging to one messageId while walking
// the buffer in sequence order.
type turnGroup struct {
	messageID string
	content   strings.Builder
	reasoning strings.Builder
	toolCall  strings.Builder
	terminal  bool
}

func (g *turnGroup) toMessage() contracts.ChatMessage {
	return contracts.ChatMessage{
		Role:         contracts.RoleAssistant,
		Content:      g.content.String(),
		Reasoning:    g.reasoning.String(),
		ToolCallText: g.toolCall.String(),
		ProviderMsg:  g.messageID,
	}
}

func (g *turnGroup) toStreaming() StreamingContent {
	return StreamingContent{
		MessageID:    g.messageID,
		Content:      g.content.String(),
		Reasoning:    g.reasoning.String(),
		ToolCallText: g.toolCall.String(),
	}
}

// rebuild walks buffered chunks in sequence order and groups them by
// messageId. A group is "completed" when terminated by a terminal chunk or
// followed by a chunk carrying a different messageId; the remaining,
// unterminated tail group is the streaming message (spec.md §4.6 step 1).
func rebuild(chunks []contracts.Chunk) (completed []contracts.ChatMessage, tail StreamingContent) {
	var current *turnGroup

	flush := func() {
		if current != nil {
			completed = append(completed, current.toMessage())
			current = nil
		}
	}

	for _, c := range chunks {
		id := c.MessageID
		switch {
		case current == nil:
			current = &turnGroup{messageID: id}
		case id != "" && id != current.messageID:
			flush()
			current = &turnGroup{messageID: id}
		}

		// Error and terminal chunks never contribute content; they only
		// close out the group they terminate.
		if c.Error == "" {
			current.content.WriteString(c.Content)
			current.reasoning.WriteString(c.Reasoning)
			current.toolCall.WriteString(c.ToolCallDelta)
		}

		if c.Terminal {
			current.terminal = true
			flush()
		}
	}

	if current != nil {
		tail = current.toStreaming()
	}
	return completed, tail
}

// Reconcile merges the server's buffered state with the client's known
// history and current prompt, per spec.md §4.6.
func Reconcile(state streambuf.State, history []contracts.ChatMessage, currentPromptText, senderID string) Result {
	completedTurns, streaming := rebuild(state.BufferedChunks)

	merged := mergeCompletedTurns(history, completedTurns)
	streaming = stripDuplicateContent(streaming, merged)
	merged = appendCurrentPrompt(merged, currentPromptText, senderID)

	return Result{Messages: merged, Streaming: streaming}
}

// mergeCompletedTurns classifies each completed turn as an anchor (its
// messageId already appears in history) or new, then walks history in
// order inserting new turns at anchor boundaries (spec.md §4.6 steps 2-3).
func mergeCompletedTurns(history, completedTurns []contracts.ChatMessage) []contracts.ChatMessage {
	historyIDs := make(map[string]int, len(history)) // messageId -> history index
	for i, m := range history {
		if m.ProviderMsg != "" {
			historyIDs[m.ProviderMsg] = i
		}
	}

	// Bucket completed turns: before the first anchor ("leading new"), or
	// keyed to the anchor they follow ("following").
	var leadingNew []contracts.ChatMessage
	following := make(map[string][]contracts.ChatMessage) // anchor id -> turns
	enrichment := make(map[string]contracts.ChatMessage)   // anchor id -> buffer copy

	lastAnchor := ""
	for _, turn := range completedTurns {
		if _, isAnchor := historyIDs[turn.ProviderMsg]; isAnchor && turn.ProviderMsg != "" {
			lastAnchor = turn.ProviderMsg
			enrichment[lastAnchor] = turn
			continue
		}
		if lastAnchor == "" {
			leadingNew = append(leadingNew, turn)
		} else {
			following[lastAnchor] = append(following[lastAnchor], turn)
		}
	}

	merged := make([]contracts.ChatMessage, 0, len(history)+len(completedTurns)+len(leadingNew))
	merged = append(merged, leadingNew...)

	for _, m := range history {
		if m.ProviderMsg != "" {
			if buf, ok := enrichment[m.ProviderMsg]; ok {
				m = enrichAnchor(m, buf)
			}
		}
		merged = append(merged, m)
		if m.ProviderMsg != "" {
			merged = append(merged, following[m.ProviderMsg]...)
		}
	}
	return merged
}

// enrichAnchor reconciles an anchor with the buffer's reconstruction of the
// same messageId. The buffer holds the complete turn (every chunk from
// start to its terminal marker), so its content supersedes whatever partial
// copy the client saw before disconnecting; reasoning/tool-call text only
// fills in what the client's copy is missing.
func enrichAnchor(known, fromBuffer contracts.ChatMessage) contracts.ChatMessage {
	if fromBuffer.Content != "" {
		known.Content = fromBuffer.Content
	}
	if known.Reasoning == "" {
		known.Reasoning = fromBuffer.Reasoning
	}
	if known.ToolCallText == "" {
		known.ToolCallText = fromBuffer.ToolCallText
	}
	return known
}

// stripDuplicateContent clears streaming content the client has already
// rendered (spec.md §4.6 step 4): full-duplicate content is cleared
// entirely; a known prefix is stripped, leaving only the unseen tail.
func stripDuplicateContent(s StreamingContent, merged []contracts.ChatMessage) StreamingContent {
	if s.Content == "" {
		return s
	}

	for _, m := range merged {
		if m.Role != contracts.RoleAssistant || m.Content == "" {
			continue
		}
		if strings.Contains(m.Content, s.Content) {
			s.Content = ""
			return s
		}
		if m.ProviderMsg == s.MessageID && strings.HasPrefix(s.Content, m.Content) {
			s.Content = s.Content[len(m.Content):]
			return s
		}
	}
	return s
}

// appendCurrentPrompt adds the client's pending prompt as a user message
// unless an identical one already exists in history (spec.md §4.6 step 5).
func appendCurrentPrompt(merged []contracts.ChatMessage, promptText, senderID string) []contracts.ChatMessage {
	if promptText == "" {
		return merged
	}
	for _, m := range merged {
		if m.Role == contracts.RoleUser && m.Content == promptText {
			return merged
		}
	}
	return append(merged, contracts.ChatMessage{Role: contracts.RoleUser, Content: promptText, SenderID: senderID})
}
