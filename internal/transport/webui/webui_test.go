package webui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dethon/agentrt/internal/approval"
	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/streambuf"
)

func TestHandlePromptEnqueuesOnPromptChannel(t *testing.T) {
	tr := New(zerolog.Nop(), approval.New(), nil)
	router := tr.Router()

	body, _ := json.Marshal(promptRequest{ConversationID: 1, ThreadID: 2, AgentID: "a", Text: "hi", SenderID: "u1"})
	req := httptest.NewRequest(http.MethodPost, "/prompt", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	prompts, err := tr.ReadPrompts(context.Background(), time.Second)
	require.NoError(t, err)
	select {
	case p := <-prompts:
		assert.Equal(t, "hi", p.Text)
		assert.Equal(t, contracts.SourceWebUI, p.Source)
		assert.Equal(t, chatkey.Key{ConversationID: 1, ThreadID: 2, AgentID: "a"}, p.Key)
	case <-time.After(time.Second):
		t.Fatal("prompt not delivered to channel")
	}
}

func TestResolveApprovalEndpointRoutesToGate(t *testing.T) {
	gate := approval.New()
	tr := New(zerolog.Nop(), gate, nil)
	router := tr.Router()

	req := gate.Request("s1", nil)

	go func() {
		time.Sleep(5 * time.Millisecond)
		body, _ := json.Marshal(map[string]string{"outcome": string(approval.Rejected)})
		httpReq := httptest.NewRequest(http.MethodPost, "/approvals/"+req.ApprovalID, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httpReq)
	}()

	outcome, err := gate.Await(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, approval.Rejected, outcome)
}

func TestResolveUnknownApprovalReturns404(t *testing.T) {
	tr := New(zerolog.Nop(), approval.New(), nil)
	router := tr.Router()

	body, _ := json.Marshal(map[string]string{"outcome": string(approval.Approved)})
	req := httptest.NewRequest(http.MethodPost, "/approvals/missing", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResumeReturnsState(t *testing.T) {
	key := chatkey.Key{ConversationID: 1, ThreadID: 2, AgentID: "a"}
	fetcher := func(k chatkey.Key) (streambuf.State, bool) {
		if k != key {
			return streambuf.State{}, false
		}
		return streambuf.State{IsProcessing: true, CurrentPrompt: "hi"}, true
	}
	tr := New(zerolog.Nop(), approval.New(), fetcher)
	router := tr.Router()

	req := httptest.NewRequest(http.MethodGet, "/resume/1/2/a", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var state streambuf.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.IsProcessing)
	assert.Equal(t, "hi", state.CurrentPrompt)
}

func TestHandleResumeUnknownKeyReturns404(t *testing.T) {
	tr := New(zerolog.Nop(), approval.New(), nil)
	router := tr.Router()

	req := httptest.NewRequest(http.MethodGet, "/resume/9/9/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBroadcastDeliversOnlyToSubscribedKey(t *testing.T) {
	tr := New(zerolog.Nop(), approval.New(), nil)
	key1 := chatkey.Key{ConversationID: 1, ThreadID: 1, AgentID: "a"}
	key2 := chatkey.Key{ConversationID: 2, ThreadID: 1, AgentID: "a"}

	ch1, unsub1 := tr.subscribe(key1)
	defer unsub1()
	ch2, unsub2 := tr.subscribe(key2)
	defer unsub2()

	tr.broadcast(key1, contracts.Chunk{Content: "hi"})

	select {
	case c := <-ch1:
		assert.Equal(t, "hi", c.Content)
	case <-time.After(time.Second):
		t.Fatal("expected chunk on key1 subscriber")
	}

	select {
	case <-ch2:
		t.Fatal("key2 subscriber should not receive key1's chunk")
	case <-time.After(50 * time.Millisecond):
	}
}
