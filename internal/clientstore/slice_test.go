package clientstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dethon/agentrt/internal/contracts"
)

func TestObserveDeliversCurrentValueImmediately(t *testing.T) {
	s := NewSlice(&TopicsState{}, TopicsReducer)
	ch, unsub := s.Observe()
	defer unsub()

	select {
	case v := <-ch:
		assert.Same(t, s.State(), v)
	default:
		t.Fatal("expected immediate delivery of current value")
	}
}

func TestDispatchSkipsNotifyWhenReferenceUnchanged(t *testing.T) {
	s := NewSlice(&TopicsState{SelectedTopicID: "t1"}, TopicsReducer)
	ch, unsub := s.Observe()
	defer unsub()
	<-ch // drain the immediate value

	before := s.State()
	s.Dispatch(SelectTopic{TopicID: "t1"}) // identical to current selection
	assert.Same(t, before, s.State(), "no-op action must return the same reference")

	select {
	case <-ch:
		t.Fatal("observer should not be notified when state reference is unchanged")
	default:
	}
}

func TestSelectTopicIdempotentOnRepeat(t *testing.T) {
	s := NewSlice(&TopicsState{}, TopicsReducer)
	s.Dispatch(SelectTopic{TopicID: "x"})
	first := s.State()
	s.Dispatch(SelectTopic{TopicID: "x"})
	assert.Same(t, first, s.State(), "SelectTopic(x) twice yields the identical state reference")
}

func TestRemovingSelectedTopicClearsSelection(t *testing.T) {
	s := NewSlice(&TopicsState{}, TopicsReducer)
	s.Dispatch(AddTopic{Topic: Topic{ID: "t1", Title: "one"}})
	s.Dispatch(SelectTopic{TopicID: "t1"})
	require.Equal(t, "t1", s.State().SelectedTopicID)

	s.Dispatch(RemoveTopic{TopicID: "t1"})
	assert.Empty(t, s.State().SelectedTopicID)
}

func TestAddThenRemoveMessageRestoresPriorState(t *testing.T) {
	s := NewSlice(NewMessagesState(), MessagesReducer)
	beforeTopic := append([]contracts.ChatMessage(nil), s.State().MessagesByTopic["t1"]...)

	s.Dispatch(AddMessage{TopicID: "t1", Message: newUserMessage("hi")})
	after := s.State()
	require.Len(t, after.MessagesByTopic["t1"], 1)

	s.Dispatch(RemoveMessage{TopicID: "t1", Index: 0})
	assert.Equal(t, beforeTopic, s.State().MessagesByTopic["t1"])
}

func TestConnectionConnectedZeroesAttemptsAndClearsError(t *testing.T) {
	s := NewSlice(&ConnectionState{ReconnectAttempts: 3, Error: "boom"}, ConnectionReducer)
	s.Dispatch(ConnectionConnected{At: time.Now()})
	assert.Equal(t, 0, s.State().ReconnectAttempts)
	assert.Empty(t, s.State().Error)
	assert.Equal(t, Connected, s.State().Status)
}

func TestApprovalCurrentRequestAndTopicNullTogether(t *testing.T) {
	s := NewSlice(&ApprovalState{}, ApprovalReducer)
	s.Dispatch(ClearApproval{})
	assert.Nil(t, s.State().CurrentRequest)
	assert.Empty(t, s.State().TopicID)
}

func TestDisposeClosesObserverChannels(t *testing.T) {
	s := NewSlice(&TopicsState{}, TopicsReducer)
	ch, _ := s.Observe()
	<-ch
	s.Dispose()

	_, ok := <-ch
	assert.False(t, ok, "observer channel is closed on dispose")

	before := s.State()
	s.Dispatch(SelectTopic{TopicID: "x"})
	assert.Same(t, before, s.State(), "dispatch after dispose is a no-op")
}

func newUserMessage(text string) contracts.ChatMessage {
	return contracts.ChatMessage{Role: contracts.RoleUser, Content: text}
}
