package agentloop

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dethon/agentrt/internal/approval"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/registry"
	"github.com/dethon/agentrt/internal/streambuf"
)

// dispatchToolCalls runs every requested tool call concurrently (spec.md
// §4.3: "Concurrent, one task per requested call"), gating non-whitelisted
// calls through the approval gate, and returns one tool-result ChatMessage
// per call in request order. Tool failures never abort the turn: they
// become an error-status result (spec.md §7).
func (l *Loop) dispatchToolCalls(
	ctx context.Context,
	sess *registry.Session,
	buf *streambuf.Buffer,
	messageID string,
	calls []contracts.ToolCall,
	emit EmitFunc,
) ([]contracts.ChatMessage, error) {
	results := make([]contracts.ChatMessage, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			result, err := l.dispatchOne(ctx, sess, buf, messageID, call, emit)
			results[i] = result
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err // cancellation or approval-wait cancelled: propagate to end the turn
	}
	return results, nil
}

// dispatchOne executes a single tool call, consulting the whitelist and
// approval gate first.
func (l *Loop) dispatchOne(
	ctx context.Context,
	sess *registry.Session,
	buf *streambuf.Buffer,
	messageID string,
	call contracts.ToolCall,
	emit EmitFunc,
) (contracts.ChatMessage, error) {
	pending := contracts.PendingToolCall{ToolName: call.Name, Arguments: call.Arguments}

	if !l.Gate.IsWhitelisted(sess.Key.String(), pending) {
		outcome, err := l.awaitApproval(ctx, sess, buf, messageID, pending, emit)
		if err != nil {
			return contracts.ChatMessage{}, err
		}
		if outcome == approval.Rejected {
			return contracts.ChatMessage{
				Role:       contracts.RoleTool,
				Content:    "rejected",
				ToolCallID: call.ID,
			}, nil
		}
	}

	t, ok := l.Tools[call.Name]
	if !ok {
		return contracts.ChatMessage{
			Role:       contracts.RoleTool,
			Content:    fmt.Sprintf("error: unknown tool %q", call.Name),
			ToolCallID: call.ID,
		}, nil
	}

	result, err := t.Invoke(ctx, []byte(call.Arguments))
	if err != nil {
		return contracts.ChatMessage{
			Role:       contracts.RoleTool,
			Content:    "error: " + err.Error(),
			ToolCallID: call.ID,
		}, nil
	}
	if result.IsError {
		return contracts.ChatMessage{Role: contracts.RoleTool, Content: "error: " + result.Text, ToolCallID: call.ID}, nil
	}
	content := result.Text
	if content == "" && len(result.JSON) > 0 {
		content = string(result.JSON)
	}
	return contracts.ChatMessage{Role: contracts.RoleTool, Content: content, ToolCallID: call.ID}, nil
}

// awaitApproval emits the approvalRequest chunk and blocks for resolution.
func (l *Loop) awaitApproval(
	ctx context.Context,
	sess *registry.Session,
	buf *streambuf.Buffer,
	messageID string,
	call contracts.PendingToolCall,
	emit EmitFunc,
) (approval.Outcome, error) {
	req := l.Gate.Request(sess.Key.String(), []contracts.PendingToolCall{call})
	emit(buf.Append(contracts.Chunk{
		MessageID: messageID,
		Approval: &contracts.ApprovalRequest{
			ApprovalID: req.ApprovalID,
			Calls:      req.Calls,
		},
	}))

	outcome, err := l.Gate.Await(ctx, req)
	if err != nil {
		return "", err
	}
	return outcome, nil
}
