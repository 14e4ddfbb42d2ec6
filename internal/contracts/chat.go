// Package contracts defines the external interfaces the runtime depends on:
// the LLM, tool, persistence, and transport collaborators described in
// spec.md section 6. Concrete providers, tools, and persistence drivers are
// out of scope; this package only fixes the shape the core code against.
package contracts

import (
	"context"
	"errors"
	"time"
)

// ErrThreadStateNotFound is returned by ThreadStateStore.Get when key has
// no stored state, regardless of which concrete backend is in use.
var ErrThreadStateNotFound = errors.New("contracts: thread state not found")

// ErrScheduleNotFound is returned by ScheduleStore.Get when id has no
// stored schedule, regardless of which concrete backend is in use.
var ErrScheduleNotFound = errors.New("contracts: schedule not found")

// Role is the speaker of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the assistant.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded arguments
}

// ChatMessage is one immutable entry in a session's conversation log.
type ChatMessage struct {
	Role        Role
	Content     string
	ToolCalls    []ToolCall // set on assistant messages that invoke tools
	ToolCallID   string     // set on tool-result messages
	Reasoning    string     // optional assistant reasoning text
	ToolCallText string     // raw tool-call delta text, reconstructed from a buffered stream
	ProviderMsg  string     // optional provider-assigned message id
	Timestamp    time.Time
	SenderID     string
}

// Update is one streamed fragment of an LLM response.
type Update struct {
	Role            Role
	Content         string
	Reasoning       string
	ToolCalls       []ToolCall
	Terminal        bool
	ProviderMessage string // changes mid-stream signal a new assistant turn
	Sequence        int64
}

// UpdateStream is returned by LLM.Prompt; callers range over Next until it
// returns ok=false, then call Err and Close.
type UpdateStream interface {
	Next(ctx context.Context) (Update, bool)
	Err() error
	Close() error
}

// ToolSpec describes a tool made available to the LLM for a single call.
type ToolSpec struct {
	Name              string
	Description       string
	ParametersSchema  []byte // JSON Schema
}

// LLM is the out-of-scope collaborator that drives one streaming turn.
type LLM interface {
	Prompt(ctx context.Context, messages []ChatMessage, tools []ToolSpec, temperature float64) (UpdateStream, error)
}

// ToolResult is the sum-typed outcome of a tool invocation: either a text
// payload, a structured JSON payload, or an error marker. Exactly one of
// Text/JSON is meaningful; IsError distinguishes a tool-reported failure
// from a successful structured result.
type ToolResult struct {
	Text    string
	JSON    []byte
	IsError bool
}

// Tool is the out-of-scope collaborator that executes one tool call.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() []byte
	Invoke(ctx context.Context, arguments []byte) (ToolResult, error)
}

// ThreadState is the durable metadata the persistence contract stores
// per conversation key.
type ThreadState struct {
	ConversationID int64
	ThreadID       int64
	AgentID        string
	Title          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ThreadStateStore is the optional, pluggable durable-metadata contract.
type ThreadStateStore interface {
	Get(ctx context.Context, key string) (ThreadState, error)
	Put(ctx context.Context, key string, state ThreadState) error
	Delete(ctx context.Context, key string) error
	// Fork copies a thread's metadata into newKey. atMessageID is accepted
	// but not recorded, since ThreadState carries no message position, and
	// no transport calls Fork. It does not copy the conversation log;
	// callers do that via the session's own log.
	Fork(ctx context.Context, key string, atMessageID string, newKey string) error
}

// Schedule is a single due-date-driven wake-up registered against a thread.
type Schedule struct {
	ID        string
	Key       string // conversation key string this schedule wakes
	CronExpr  string
	NextRun   time.Time
	Payload   string
}

// ScheduleStore is the optional, pluggable schedule persistence contract.
type ScheduleStore interface {
	Create(ctx context.Context, s Schedule) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Schedule, error)
	GetDue(ctx context.Context, asOf time.Time) ([]Schedule, error)
	MarkRun(ctx context.Context, id string, next time.Time) error
}

// CorrelationStore is the reverse map from conversation key to the inbound
// transport correlation id, with a 30-day TTL as specified in spec.md §6.
type CorrelationStore interface {
	Put(ctx context.Context, key string, correlationID string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// CorrelationTTL is the retention window for correlation store entries.
const CorrelationTTL = 30 * 24 * time.Hour
