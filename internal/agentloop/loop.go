// Package agentloop implements the agent loop (spec.md §4.3): the LLM turn
// loop with tool dispatch, depth limiting, and streaming chunk emission.
// Grounded on internal/session/loop.go's runLoop, generalized from a
// storage-backed single-provider loop to one driven purely by the
// contracts.LLM/contracts.Tool interfaces, with tool dispatch made
// concurrent per spec.md §4.3 ("Concurrent, one task per requested call")
// and approval gating folded in via internal/approval.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/dethon/agentrt/internal/approval"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/registry"
	"github.com/dethon/agentrt/internal/streambuf"
)

// maxTransientRetries bounds the exponential-backoff retries a transient
// provider error gets before the turn gives up: two retries after the first
// attempt, spaced by backoff.NewExponentialBackOff's default intervals
// (about 0.5s, then about 0.75s, each randomized by up to 50%).
const maxTransientRetries = 2

// ErrAgentLoopLimit is returned when the loop exhausts maxDepth without the
// LLM producing a non-tool-call terminal response (spec.md §4.3 step 3).
var ErrAgentLoopLimit = errors.New("agentloop: maximum turn depth exceeded")

// DefaultMaxDepth mirrors go-opencode's session.MaxSteps.
const DefaultMaxDepth = 50

// EmitFunc is called for every chunk the loop produces; implementations
// typically forward it through streambuf.Buffer.Append and onto the
// composite transport fan-out channel.
type EmitFunc func(contracts.Chunk)

// Loop drives one conversation's turns against an LLM and a tool set.
type Loop struct {
	LLM          contracts.LLM
	Tools        map[string]contracts.Tool
	Gate         *approval.Gate
	MaxDepth     int
	Temperature  float64
	Logger       zerolog.Logger
}

// New creates a Loop with DefaultMaxDepth.
func New(llm contracts.LLM, tools map[string]contracts.Tool, gate *approval.Gate, logger zerolog.Logger) *Loop {
	return &Loop{LLM: llm, Tools: tools, Gate: gate, MaxDepth: DefaultMaxDepth, Logger: logger}
}

// toolSpecs returns the ToolSpec view of the available tools in map
// iteration order, which is not stable from one call to the next.
func (l *Loop) toolSpecs() []contracts.ToolSpec {
	specs := make([]contracts.ToolSpec, 0, len(l.Tools))
	for _, t := range l.Tools {
		specs = append(specs, contracts.ToolSpec{
			Name:             t.Name(),
			Description:      t.Description(),
			ParametersSchema: t.ParametersSchema(),
		})
	}
	return specs
}

// RunTurn executes one turn: appends prompt to the session log, then loops
// up to MaxDepth LLM calls, dispatching requested tool calls concurrently
// between calls, until the assistant produces a turn with no tool calls.
func (l *Loop) RunTurn(ctx context.Context, sess *registry.Session, buf *streambuf.Buffer, prompt contracts.Prompt, emit EmitFunc) error {
	if err := sess.StartTurn(); err != nil {
		return err
	}
	defer sess.FinishTurn()

	buf.StartTurn(prompt.Text, prompt.SenderID)
	sess.AppendMessage(contracts.ChatMessage{Role: contracts.RoleUser, Content: prompt.Text, SenderID: prompt.SenderID})

	for depth := 0; depth < l.MaxDepth; depth++ {
		select {
		case <-ctx.Done():
			emit(buf.Append(contracts.Chunk{Terminal: true}))
			sess.Cancel()
			return ctx.Err()
		default:
		}

		assistantMsgID := ulid.Make().String()
		assistantMsg, terminated, err := l.runOneCompletion(ctx, sess, buf, assistantMsgID, emit)
		if err != nil {
			if isTransient(err) {
				return err // transient cancellation: turn interrupted, no error chunk
			}
			sess.Fault()
			emit(buf.Append(contracts.Chunk{Terminal: true, Error: err.Error()}))
			return fmt.Errorf("agentloop: completion failed: %w", err)
		}
		if terminated {
			return nil
		}

		sess.AppendMessage(*assistantMsg)

		if len(assistantMsg.ToolCalls) == 0 {
			emit(buf.Append(contracts.Chunk{Terminal: true, MessageID: assistantMsgID}))
			return nil
		}

		results, err := l.dispatchToolCalls(ctx, sess, buf, assistantMsgID, assistantMsg.ToolCalls, emit)
		if err != nil {
			return err // cancellation or approval-discard: turn ends without a terminal chunk
		}
		for _, r := range results {
			sess.AppendMessage(r)
		}
	}

	emit(buf.Append(contracts.Chunk{Terminal: true, Error: ErrAgentLoopLimit.Error()}))
	return ErrAgentLoopLimit
}

// runOneCompletion retries attemptCompletion through transient provider
// errors with exponential backoff, up to maxTransientRetries times, before
// giving up. A non-transient error is permanent: it aborts the retry loop
// immediately and propagates to RunTurn as a failed turn. A transient error
// that outlasts the retries ends the turn silently in RunTurn.
func (l *Loop) runOneCompletion(
	ctx context.Context,
	sess *registry.Session,
	buf *streambuf.Buffer,
	msgID string,
	emit EmitFunc,
) (*contracts.ChatMessage, bool, error) {
	var msg *contracts.ChatMessage
	var terminated bool

	attempt := 0
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxTransientRetries), ctx)
	err := backoff.Retry(func() error {
		attempt++
		m, term, err := l.attemptCompletion(ctx, sess, buf, msgID, emit)
		if err != nil {
			if !isTransient(err) {
				return backoff.Permanent(err)
			}
			l.Logger.Warn().Str("session", sess.Key.String()).Int("attempt", attempt).Err(err).
				Msg("transient provider error, retrying")
			return err
		}
		msg, terminated = m, term
		return nil
	}, bo)
	if err != nil {
		return nil, false, err
	}

	return msg, terminated, nil
}

// attemptCompletion streams one LLM call to completion, emitting a chunk per
// update. It returns the assembled assistant message; its terminated result
// is always false, and a failed or cancelled stream is reported through err.
func (l *Loop) attemptCompletion(
	ctx context.Context,
	sess *registry.Session,
	buf *streambuf.Buffer,
	msgID string,
	emit EmitFunc,
) (*contracts.ChatMessage, bool, error) {
	stream, err := l.LLM.Prompt(ctx, sess.Log(), l.toolSpecs(), l.Temperature)
	if err != nil {
		return nil, false, err
	}
	defer stream.Close()

	msg := &contracts.ChatMessage{Role: contracts.RoleAssistant}
	currentMsgID := msgID

	for {
		update, ok := stream.Next(ctx)
		if !ok {
			break
		}

		// A provider may change message id mid-stream; spec.md §6 treats
		// this as the start of a new assistant turn.
		if update.ProviderMessage != "" && update.ProviderMessage != currentMsgID {
			currentMsgID = update.ProviderMessage
		}

		if update.Content != "" {
			msg.Content += update.Content
			emit(buf.Append(contracts.Chunk{MessageID: currentMsgID, Content: update.Content}))
		}
		if update.Reasoning != "" {
			msg.Reasoning += update.Reasoning
			emit(buf.Append(contracts.Chunk{MessageID: currentMsgID, Reasoning: update.Reasoning}))
		}
		if len(update.ToolCalls) > 0 {
			msg.ToolCalls = append(msg.ToolCalls, update.ToolCalls...)
			for _, tc := range update.ToolCalls {
				emit(buf.Append(contracts.Chunk{MessageID: currentMsgID, ToolCallDelta: tc.Name + ":" + tc.Arguments}))
			}
		}
		if update.Terminal {
			break
		}
	}

	if err := stream.Err(); err != nil {
		return nil, false, err
	}

	return msg, false, nil
}

// transientPatterns is the case-insensitive match set spec.md §4.6 and §7
// treat as silent cancellation rather than a failed turn.
var transientPatterns = []string{
	"operationcanceled",
	"taskcanceled",
	"operation was canceled",
	"context canceled",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
