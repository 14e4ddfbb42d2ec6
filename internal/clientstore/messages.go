package clientstore

import "github.com/dethon/agentrt/internal/contracts"

// MessagesState is the Messages slice: per-topic ordered message lists,
// with loadedTopics distinguishing "confirmed empty" from "never fetched"
// (spec.md §3 data model table).
type MessagesState struct {
	MessagesByTopic map[string][]contracts.ChatMessage
	LoadedTopics    map[string]bool
}

// NewMessagesState returns the zero-value Messages slice state.
func NewMessagesState() *MessagesState {
	return &MessagesState{
		MessagesByTopic: make(map[string][]contracts.ChatMessage),
		LoadedTopics:    make(map[string]bool),
	}
}

type (
	LoadMessages   struct{ TopicID string }
	MessagesLoaded struct {
		TopicID  string
		Messages []contracts.ChatMessage
	}
	AddMessage struct {
		TopicID string
		Message contracts.ChatMessage
	}
	UpdateMessage struct {
		TopicID string
		Index   int
		Message contracts.ChatMessage
	}
	RemoveMessage struct {
		TopicID string
		Index   int
	}
	ClearMessages struct{ TopicID string }
)

// MessagesReducer implements the Messages slice transition.
func MessagesReducer(prev *MessagesState, action Action) *MessagesState {
	switch a := action.(type) {
	case LoadMessages:
		return prev // loading state lives in the UI layer, not this slice

	case MessagesLoaded:
		next := cloneMessagesState(prev)
		next.MessagesByTopic[a.TopicID] = append([]contracts.ChatMessage(nil), a.Messages...)
		next.LoadedTopics[a.TopicID] = true
		return next

	case AddMessage:
		next := cloneMessagesState(prev)
		msgs := next.MessagesByTopic[a.TopicID]
		next.MessagesByTopic[a.TopicID] = append(append([]contracts.ChatMessage(nil), msgs...), a.Message)
		return next

	case UpdateMessage:
		msgs := prev.MessagesByTopic[a.TopicID]
		if a.Index < 0 || a.Index >= len(msgs) {
			return prev
		}
		next := cloneMessagesState(prev)
		updated := append([]contracts.ChatMessage(nil), msgs...)
		updated[a.Index] = a.Message
		next.MessagesByTopic[a.TopicID] = updated
		return next

	case RemoveMessage:
		msgs := prev.MessagesByTopic[a.TopicID]
		if a.Index < 0 || a.Index >= len(msgs) {
			return prev
		}
		next := cloneMessagesState(prev)
		if len(msgs) == 1 {
			delete(next.MessagesByTopic, a.TopicID)
			return next
		}
		updated := make([]contracts.ChatMessage, 0, len(msgs)-1)
		updated = append(updated, msgs[:a.Index]...)
		updated = append(updated, msgs[a.Index+1:]...)
		next.MessagesByTopic[a.TopicID] = updated
		return next

	case ClearMessages:
		next := cloneMessagesState(prev)
		delete(next.MessagesByTopic, a.TopicID)
		delete(next.LoadedTopics, a.TopicID)
		return next

	default:
		return prev
	}
}

// cloneMessagesState shallow-copies the two maps so in-place edits to the
// copy never mutate a state reference still held by an observer.
func cloneMessagesState(prev *MessagesState) *MessagesState {
	next := &MessagesState{
		MessagesByTopic: make(map[string][]contracts.ChatMessage, len(prev.MessagesByTopic)),
		LoadedTopics:    make(map[string]bool, len(prev.LoadedTopics)),
	}
	for k, v := range prev.MessagesByTopic {
		next.MessagesByTopic[k] = v
	}
	for k, v := range prev.LoadedTopics {
		next.LoadedTopics[k] = v
	}
	return next
}
