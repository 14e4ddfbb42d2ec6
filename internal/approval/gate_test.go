package approval

import (
	"context"
	"testing"
	"time"

	"github.com/dethon/agentrt/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitBlocksUntilResolve(t *testing.T) {
	g := New()
	req := g.Request("s1", []contracts.PendingToolCall{{ToolName: "deleteAll"}})

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, g.Resolve(req.ApprovalID, Rejected))
	}()

	outcome, err := g.Await(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Rejected, outcome)
}

func TestApprovedAndRememberWhitelistsFutureCalls(t *testing.T) {
	g := New()
	call := contracts.PendingToolCall{ToolName: "webfetch", Arguments: `{"url":"http://x"}`}
	req := g.Request("s1", []contracts.PendingToolCall{call})

	go func() { require.NoError(t, g.Resolve(req.ApprovalID, ApprovedAndRemember)) }()

	outcome, err := g.Await(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ApprovedAndRemember, outcome)

	assert.True(t, g.IsWhitelisted("s1", call))
	assert.False(t, g.IsWhitelisted("s2", call), "whitelist is per session")
}

func TestCancellationDiscardsRequest(t *testing.T) {
	g := New()
	req := g.Request("s1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Await(ctx, req)
	assert.Error(t, err)

	// The request id is gone; a late resolve fails.
	assert.ErrorIs(t, g.Resolve(req.ApprovalID, Approved), ErrUnknownApproval)
}

func TestSecondResolveLosesRace(t *testing.T) {
	g := New()
	req := g.Request("s1", nil)

	require.NoError(t, g.Resolve(req.ApprovalID, Approved))
	assert.ErrorIs(t, g.Resolve(req.ApprovalID, Rejected), ErrUnknownApproval)
}

func TestDoomLoopOverridesWhitelist(t *testing.T) {
	g := New()
	call := contracts.PendingToolCall{ToolName: "bash", Arguments: "rm -rf /tmp/x"}
	g.whitelistFor("s1").AddPattern("*")

	assert.True(t, g.IsWhitelisted("s1", call))
	assert.True(t, g.IsWhitelisted("s1", call))
	assert.False(t, g.IsWhitelisted("s1", call), "third identical call in a row trips the doom-loop check")
}

func TestWildcardPatterns(t *testing.T) {
	w := NewWhitelist()
	w.AddPattern("bash git *")
	assert.True(t, w.Matches("bash", "git commit -m x"))
	assert.False(t, w.Matches("bash", "rm -rf /"))

	w.AddPattern("read *")
	assert.True(t, w.Matches("read", `{"path":"a.go"}`))
}
