package contracts

import (
	"context"
	"time"

	"github.com/dethon/agentrt/internal/chatkey"
)

// Source identifies the transport that originated a prompt. It is pinned on
// the prompt envelope when it first enters the system and carried onto
// every chunk emitted for that turn.
type Source string

const (
	SourceWebUI      Source = "webUi"
	SourceServiceBus Source = "serviceBus"
	SourceTelegram   Source = "telegram"
	SourceCLI        Source = "cli"
)

// Prompt is an inbound envelope from any transport.
type Prompt struct {
	Text     string
	Key      chatkey.Key // may be the zero value; receivers allocate if absent
	HasKey   bool
	Sequence int64
	SenderID string
	Source   Source
}

// Chunk is one streamed partial-response unit. At most one of
// Content/Reasoning/ToolCallDelta/Terminal/Error/Approval is meaningfully
// populated, matching spec.md §3.
type Chunk struct {
	Sequence       int64
	MessageID      string
	Content        string
	Reasoning      string
	ToolCallDelta  string
	Terminal       bool
	Error          string
	Approval       *ApprovalRequest
	Source         Source
}

// ApprovalRequest is carried on a Chunk when a turn is suspended pending
// human approval of a tool call.
type ApprovalRequest struct {
	ApprovalID string
	Calls      []PendingToolCall
}

// PendingToolCall names one call awaiting approval.
type PendingToolCall struct {
	ToolName  string
	Arguments string
}

// RoutedChunk pairs a chunk with the session key and source it belongs to,
// the unit the composite transport fans out.
type RoutedChunk struct {
	Key    chatkey.Key
	Chunk  Chunk
	Source Source
}

// MessengerClient is the transport contract (spec.md §6 IChatMessengerClient).
type MessengerClient interface {
	Source() Source
	ReadPrompts(ctx context.Context, timeout time.Duration) (<-chan Prompt, error)
	ProcessResponseStream(ctx context.Context, chunks <-chan RoutedChunk) error
	CreateTopicIfNeeded(ctx context.Context, source Source, conversationID, threadID *int64, agentID, name *string) (chatkey.Key, error)
	CreateThread(ctx context.Context, conversationID int64, name string, agentID *string) (int64, error)
	DoesThreadExist(ctx context.Context, conversationID, threadID int64, agentID *string) (bool, error)
	SupportsScheduledNotifications() bool
}
