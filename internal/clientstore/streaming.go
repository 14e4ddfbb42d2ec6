package clientstore

import "github.com/dethon/agentrt/internal/resume"

// StreamingContent is one topic's in-progress assistant turn, assembled
// chunk by chunk by the client pipeline (C9) before being committed to the
// Messages slice on completion. It is the same shape the resume reconciler
// (C6) produces for its streaming tail, so a reconciled StreamingContent
// can be stored here without translation.
type StreamingContent = resume.StreamingContent

// StreamingState is the Streaming slice. streamingTopics and resumingTopics
// are disjoint in steady state (spec.md §3): a topic is either actively
// streaming live chunks or catching up via the resume reconciler, never
// both.
type StreamingState struct {
	StreamingByTopic map[string]StreamingContent
	StreamingTopics  map[string]bool
	ResumingTopics   map[string]bool
}

// NewStreamingState returns the zero-value Streaming slice state.
func NewStreamingState() *StreamingState {
	return &StreamingState{
		StreamingByTopic: make(map[string]StreamingContent),
		StreamingTopics:  make(map[string]bool),
		ResumingTopics:   make(map[string]bool),
	}
}

type (
	StreamStarted struct{ TopicID string }
	StreamChunk   struct {
		TopicID string
		Content StreamingContent
	}
	StreamCompleted struct{ TopicID string }
	StreamCancelled struct{ TopicID string }
	StreamError     struct {
		TopicID string
		Err     string
	}
	StartResuming struct{ TopicID string }
	StopResuming  struct{ TopicID string }
)

// StreamingReducer implements the Streaming slice transition.
func StreamingReducer(prev *StreamingState, action Action) *StreamingState {
	switch a := action.(type) {
	case StreamStarted:
		next := cloneStreamingState(prev)
		next.StreamingTopics[a.TopicID] = true
		delete(next.ResumingTopics, a.TopicID)
		next.StreamingByTopic[a.TopicID] = StreamingContent{}
		return next

	case StreamChunk:
		next := cloneStreamingState(prev)
		next.StreamingByTopic[a.TopicID] = a.Content
		return next

	case StreamCompleted, StreamCancelled:
		topicID := topicIDOf(action)
		next := cloneStreamingState(prev)
		delete(next.StreamingTopics, topicID)
		delete(next.ResumingTopics, topicID)
		delete(next.StreamingByTopic, topicID)
		return next

	case StreamError:
		next := cloneStreamingState(prev)
		delete(next.StreamingTopics, a.TopicID)
		delete(next.ResumingTopics, a.TopicID)
		delete(next.StreamingByTopic, a.TopicID)
		return next

	case StartResuming:
		next := cloneStreamingState(prev)
		next.ResumingTopics[a.TopicID] = true
		delete(next.StreamingTopics, a.TopicID)
		return next

	case StopResuming:
		if !prev.ResumingTopics[a.TopicID] {
			return prev
		}
		next := cloneStreamingState(prev)
		delete(next.ResumingTopics, a.TopicID)
		return next

	default:
		return prev
	}
}

func topicIDOf(action Action) string {
	switch a := action.(type) {
	case StreamCompleted:
		return a.TopicID
	case StreamCancelled:
		return a.TopicID
	default:
		return ""
	}
}

func cloneStreamingState(prev *StreamingState) *StreamingState {
	next := &StreamingState{
		StreamingByTopic: make(map[string]StreamingContent, len(prev.StreamingByTopic)),
		StreamingTopics:  make(map[string]bool, len(prev.StreamingTopics)),
		ResumingTopics:   make(map[string]bool, len(prev.ResumingTopics)),
	}
	for k, v := range prev.StreamingByTopic {
		next.StreamingByTopic[k] = v
	}
	for k, v := range prev.StreamingTopics {
		next.StreamingTopics[k] = v
	}
	for k, v := range prev.ResumingTopics {
		next.ResumingTopics[k] = v
	}
	return next
}
