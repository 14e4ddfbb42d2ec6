// Package chatkey defines the conversation key that identifies a session.
package chatkey

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is the triple (conversationId, threadId, agentId) that uniquely
// identifies a session. It is opaque to the core: transports assign the
// ids, the core only uses Key as a map key and log field.
type Key struct {
	ConversationID int64
	ThreadID       int64
	AgentID        string
}

// String renders the key for logging and as a map/cache key.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%s", k.ConversationID, k.ThreadID, k.AgentID)
}

// Parse reverses String, for callers (the scheduler's dispatcher) that only
// have a schedule's stored key string to work from.
func Parse(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("chatkey: malformed key %q", s)
	}
	conversationID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("chatkey: malformed conversation id in %q: %w", s, err)
	}
	threadID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("chatkey: malformed thread id in %q: %w", s, err)
	}
	return Key{ConversationID: conversationID, ThreadID: threadID, AgentID: parts[2]}, nil
}
