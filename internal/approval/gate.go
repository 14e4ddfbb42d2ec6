// Package approval implements the tool-call approval gate (spec.md §4.4):
// interception of non-whitelisted tool calls, per-request suspension, and
// out-of-band resolution. Grounded on internal/permission/checker.go,
// generalized from a boolean allow/ask/deny configuration to a
// four-outcome resolution protocol (rejected/approved/approvedAndRemember/
// autoApproved) and from "session approved this permission type" to
// "session whitelist grew a new tool+argument pattern".
package approval

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dethon/agentrt/internal/contracts"
)

// Outcome is the resolution of a suspended approval request.
type Outcome string

const (
	Rejected          Outcome = "rejected"
	Approved          Outcome = "approved"
	ApprovedAndRemember Outcome = "approvedAndRemember"
	AutoApproved      Outcome = "autoApproved"
)

// Request mirrors the approvalRequest chunk payload: a fresh id and the
// ordered list of calls awaiting a decision.
type Request struct {
	ApprovalID string
	SessionKey string
	Calls      []contracts.PendingToolCall
}

// pending tracks one outstanding request.
type pending struct {
	resolved  chan Outcome
	delivered bool
}

// Gate suspends a turn's tool call until resolveApproval arrives, tracking
// a per-session whitelist of tool+argument patterns.
type Gate struct {
	mu        sync.Mutex
	whitelist map[string]*Whitelist // sessionKey -> whitelist
	pending   map[string]*pending   // approvalID -> waiter

	doomLoop *DoomLoopDetector
}

// New creates an empty Gate.
func New() *Gate {
	return &Gate{
		whitelist: make(map[string]*Whitelist),
		pending:   make(map[string]*pending),
		doomLoop:  NewDoomLoopDetector(),
	}
}

// whitelistFor returns (creating if absent) the whitelist for a session.
func (g *Gate) whitelistFor(sessionKey string) *Whitelist {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.whitelist[sessionKey]
	if !ok {
		w = NewWhitelist()
		g.whitelist[sessionKey] = w
	}
	return w
}

// IsWhitelisted reports whether call executes directly without gating:
// it must match the session's whitelist pattern set and must not be
// flagged as a repeated doom-loop call.
func (g *Gate) IsWhitelisted(sessionKey string, call contracts.PendingToolCall) bool {
	if g.doomLoop.Check(sessionKey, call.ToolName, call.Arguments) {
		return false
	}
	return g.whitelistFor(sessionKey).Matches(call.ToolName, call.Arguments)
}

// Request suspends the turn: it registers a waiter, returns the Request the
// caller should attach to an approvalRequest chunk, and blocks in Await
// until Resolve is called or ctx is cancelled.
func (g *Gate) Request(sessionKey string, calls []contracts.PendingToolCall) Request {
	id := uuid.NewString()
	g.mu.Lock()
	g.pending[id] = &pending{resolved: make(chan Outcome, 1)}
	g.mu.Unlock()
	return Request{ApprovalID: id, SessionKey: sessionKey, Calls: calls}
}

// Await blocks for the resolution of req, or returns ctx.Err() if
// cancellation fires first (spec.md §4.4: "discarded ... turn terminates").
// On approvedAndRemember it also widens the session's whitelist so later
// identical calls in the same session auto-execute.
func (g *Gate) Await(ctx context.Context, req Request) (Outcome, error) {
	g.mu.Lock()
	p, ok := g.pending[req.ApprovalID]
	g.mu.Unlock()
	if !ok {
		return "", ErrUnknownApproval
	}
	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ApprovalID)
		g.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case outcome := <-p.resolved:
		if outcome == ApprovedAndRemember {
			w := g.whitelistFor(req.SessionKey)
			for _, c := range req.Calls {
				w.Add(c.ToolName, c.Arguments)
			}
		}
		return outcome, nil
	}
}

// ErrUnknownApproval is returned by Resolve for an id with no matching
// pending request (spec.md §6: "404 when the approvalId is unknown or
// already resolved").
var ErrUnknownApproval = unknownApprovalError{}

type unknownApprovalError struct{}

func (unknownApprovalError) Error() string { return "approval: unknown or already-resolved id" }

// Resolve delivers outcome to the waiter for approvalID. First writer wins:
// a second Resolve call for an already-delivered id returns
// ErrUnknownApproval (spec.md §9 open question).
func (g *Gate) Resolve(approvalID string, outcome Outcome) error {
	g.mu.Lock()
	p, ok := g.pending[approvalID]
	if ok && p.delivered {
		ok = false
	}
	if ok {
		// The entry stays until Await returns, so an Await that starts
		// after this call still receives the buffered outcome.
		p.delivered = true
	}
	g.mu.Unlock()
	if !ok {
		return ErrUnknownApproval
	}
	p.resolved <- outcome
	return nil
}

// AllowTool whitelists every call to toolName for a session regardless of
// arguments, e.g. for tools a deployment pre-authorizes entirely.
func (g *Gate) AllowTool(sessionKey, toolName string) {
	g.whitelistFor(sessionKey).AddPattern(toolName + " *")
}

// ClearSession drops the whitelist built up for a session (used when a
// session is disposed).
func (g *Gate) ClearSession(sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.whitelist, sessionKey)
	g.doomLoop.Clear(sessionKey)
}
