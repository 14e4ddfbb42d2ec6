package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DoomLoopThreshold is the number of identical consecutive tool calls
// before a session is forced through the approval gate even if whitelisted.
// Matches internal/permission/doom_loop.go's threshold.
const DoomLoopThreshold = 3

// DoomLoopDetector flags a tool call as a repeat-loop when the same
// tool+arguments signature occurs DoomLoopThreshold times in a row for a
// session, supplementing the whitelist gate per SPEC_FULL.md §C.
type DoomLoopDetector struct {
	mu      sync.Mutex
	history map[string][]string // sessionKey -> recent call hashes, oldest first
}

// NewDoomLoopDetector creates an empty detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{history: make(map[string][]string)}
}

// Check records the call and reports whether the last DoomLoopThreshold
// calls (including this one) are identical.
func (d *DoomLoopDetector) Check(sessionKey, toolName, arguments string) bool {
	hash := hashCall(toolName, arguments)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.history[sessionKey], hash)
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	d.history[sessionKey] = history

	if len(history) < DoomLoopThreshold {
		return false
	}
	tail := history[len(history)-DoomLoopThreshold:]
	for _, h := range tail {
		if h != hash {
			return false
		}
	}
	return true
}

// Clear drops the history kept for a session.
func (d *DoomLoopDetector) Clear(sessionKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionKey)
}

func hashCall(toolName, arguments string) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write([]byte(arguments))
	return hex.EncodeToString(h.Sum(nil))
}
