// Package streambuf implements the server-side stream buffer (spec.md §4.5):
// a per-session, sequence-ordered record of outgoing chunks plus the
// "current prompt" / "current messageId" metadata resume needs. It is
// grounded on go-opencode's internal/session stream-state bookkeeping
// (session/stream.go), generalized from a single assistant-message buffer
// to the full per-thread StreamState the resume endpoint returns.
package streambuf

import (
	"sync"
	"time"

	"github.com/dethon/agentrt/internal/contracts"
)

// DefaultGraceWindow is how long a buffer survives after its terminal chunk
// before eviction, to tolerate immediate client reconnections. spec.md §9
// leaves the exact value unspecified and implies 5-30s from resume tests;
// go-opencode's SSE heartbeat cadence (30s) is the nearest concrete anchor
// in the pack, so the grace window is set just under it.
const DefaultGraceWindow = 20 * time.Second

// State is the snapshot returned by Snapshot / the resume endpoint.
type State struct {
	IsProcessing    bool
	BufferedChunks  []contracts.Chunk
	CurrentPrompt   string
	CurrentSenderID string
	CurrentMsgID    string
}

// Buffer is the single-writer, multi-reader per-session chunk log.
type Buffer struct {
	mu sync.Mutex

	graceWindow time.Duration

	isProcessing  bool
	currentPrompt string
	currentSender string
	currentMsgID  string
	chunks        []contracts.Chunk
	nextSeq       int64

	evictTimer *time.Timer
}

// New creates an empty buffer. graceWindow <= 0 selects DefaultGraceWindow.
func New(graceWindow time.Duration) *Buffer {
	if graceWindow <= 0 {
		graceWindow = DefaultGraceWindow
	}
	return &Buffer{graceWindow: graceWindow}
}

// StartTurn marks the buffer as processing a new prompt, clearing any
// previous scheduled eviction (a reconnect arrived before the grace window
// expired, or a brand new turn began).
func (b *Buffer) StartTurn(prompt, senderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.evictTimer != nil {
		b.evictTimer.Stop()
		b.evictTimer = nil
	}
	b.isProcessing = true
	b.currentPrompt = prompt
	b.currentSender = senderID
	b.currentMsgID = ""
	b.chunks = nil
	b.nextSeq = 0
}

// Append assigns the next sequence number to chunk and records it. It is
// safe for concurrent use, though a session has a single writer per the
// shared-resource policy in spec.md §5.
func (b *Buffer) Append(chunk contracts.Chunk) contracts.Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	chunk.Sequence = b.nextSeq
	if chunk.MessageID != "" {
		b.currentMsgID = chunk.MessageID
	}
	b.chunks = append(b.chunks, chunk)
	return chunk
}

// Snapshot returns an immutable copy of the current state.
func (b *Buffer) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	chunks := make([]contracts.Chunk, len(b.chunks))
	copy(chunks, b.chunks)
	return State{
		IsProcessing:    b.isProcessing,
		BufferedChunks:  chunks,
		CurrentPrompt:   b.currentPrompt,
		CurrentSenderID: b.currentSender,
		CurrentMsgID:    b.currentMsgID,
	}
}

// CompleteTurn marks the turn done (after a terminal chunk's fan-out has
// completed) and schedules the buffer for eviction after the grace window,
// calling onEvict if the window elapses without a new StartTurn.
func (b *Buffer) CompleteTurn(onEvict func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isProcessing = false
	if b.evictTimer != nil {
		b.evictTimer.Stop()
	}
	b.evictTimer = time.AfterFunc(b.graceWindow, func() {
		b.Clear()
		if onEvict != nil {
			onEvict()
		}
	})
}

// Clear empties the buffer immediately (used by CompleteTurn's timer, and
// directly by callers that want synchronous eviction, e.g. tests).
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.currentPrompt = ""
	b.currentSender = ""
	b.currentMsgID = ""
	b.nextSeq = 0
}
