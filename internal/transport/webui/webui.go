// Package webui implements the webUi transport (spec.md §4.2/§6): the
// universal-observer client that always receives fan-out chunks regardless
// of a prompt's originating source. It exposes prompt intake and resume
// lookup over chi-routed HTTP, SSE streaming grounded on go-opencode's
// custom ResponseController-based writer (internal/server/sse.go), and a
// gorilla/websocket endpoint for the approval-resolution round trip the
// teacher's SSE-only design has no equivalent for.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dethon/agentrt/internal/approval"
	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/streambuf"
)

// StateFetcher looks up the live stream buffer snapshot for key, for the
// resume endpoint. The composition root wires this to the session
// registry's per-session streambuf.Buffer.
type StateFetcher func(key chatkey.Key) (streambuf.State, bool)

// HeartbeatInterval mirrors go-opencode's SSE heartbeat cadence
// (internal/server/sse.go SSEHeartbeatInterval).
const HeartbeatInterval = 30 * time.Second

// Transport is the webUi contracts.MessengerClient implementation: an HTTP
// surface that both ingests prompts and fans response chunks back out over
// SSE.
type Transport struct {
	logger zerolog.Logger
	gate   *approval.Gate
	state  StateFetcher

	mu          sync.Mutex
	subscribers map[chatkey.Key]map[uint64]chan contracts.Chunk
	nextSubID   uint64

	prompts chan contracts.Prompt

	upgrader websocket.Upgrader
}

// New creates a webUi Transport. gate resolves approval-response websocket
// messages. state is optional; when nil the resume endpoint reports 404 for
// every key.
func New(logger zerolog.Logger, gate *approval.Gate, state StateFetcher) *Transport {
	return &Transport{
		logger:      logger.With().Str("transport", "webui").Logger(),
		gate:        gate,
		state:       state,
		subscribers: make(map[chatkey.Key]map[uint64]chan contracts.Chunk),
		prompts:     make(chan contracts.Prompt, 64),
		upgrader:    websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Source identifies this transport as the universal observer.
func (t *Transport) Source() contracts.Source { return contracts.SourceWebUI }

// SupportsScheduledNotifications: the web UI has no push channel for
// schedule wake-ups independent of an open stream.
func (t *Transport) SupportsScheduledNotifications() bool { return false }

// Router builds the chi mux exposing this transport's HTTP surface.
func (t *Transport) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Post("/prompt", t.handlePrompt)
	r.Get("/stream/{conversationId}/{threadId}/{agentId}", t.handleStream)
	r.Get("/resume/{conversationId}/{threadId}/{agentId}", t.handleResume)
	r.Post("/approvals/{approvalId}", t.handleResolveApproval)
	r.Get("/ws", t.handleWebsocket)

	return r
}

// handleResume returns the current streambuf.State for a session key, so a
// reconnecting client can splice buffered chunks ahead of resubscribing to
// /stream (spec.md §4.5/§9's resume protocol).
func (t *Transport) handleResume(w http.ResponseWriter, r *http.Request) {
	key := keyFromParams(r)

	if t.state == nil {
		http.Error(w, "resume not available", http.StatusNotFound)
		return
	}
	snapshot, ok := t.state(key)
	if !ok {
		http.Error(w, "no active or buffered stream for key", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

func keyFromParams(r *http.Request) chatkey.Key {
	conversationID, _ := strconv.ParseInt(chi.URLParam(r, "conversationId"), 10, 64)
	threadID, _ := strconv.ParseInt(chi.URLParam(r, "threadId"), 10, 64)
	return chatkey.Key{
		ConversationID: conversationID,
		ThreadID:       threadID,
		AgentID:        chi.URLParam(r, "agentId"),
	}
}

type promptRequest struct {
	ConversationID int64  `json:"conversationId"`
	ThreadID       int64  `json:"threadId"`
	AgentID        string `json:"agentId"`
	Text           string `json:"text"`
	SenderID       string `json:"senderId"`
}

func (t *Transport) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := contracts.Prompt{
		Text:     req.Text,
		SenderID: req.SenderID,
		Source:   contracts.SourceWebUI,
		HasKey:   true,
		Key:      chatkey.Key{ConversationID: req.ConversationID, ThreadID: req.ThreadID, AgentID: req.AgentID},
	}

	select {
	case t.prompts <- p:
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
	default:
		http.Error(w, "prompt queue full", http.StatusServiceUnavailable)
	}
}

func (t *Transport) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "approvalId")
	var body struct {
		Outcome approval.Outcome `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := t.gate.Resolve(id, body.Outcome); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleWebsocket accepts a gorilla/websocket connection used purely for
// the approval-resolution round trip: a dashboard-style client can push
// {"approvalId":..., "outcome":...} frames without polling HTTP.
func (t *Transport) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var msg struct {
			ApprovalID string           `json:"approvalId"`
			Outcome    approval.Outcome `json:"outcome"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if err := t.gate.Resolve(msg.ApprovalID, msg.Outcome); err != nil {
			conn.WriteJSON(map[string]string{"error": err.Error()})
			continue
		}
		conn.WriteJSON(map[string]string{"status": "ok"})
	}
}

// ReadPrompts returns the channel of prompts submitted via handlePrompt.
func (t *Transport) ReadPrompts(ctx context.Context, timeout time.Duration) (<-chan contracts.Prompt, error) {
	return t.prompts, nil
}

// ProcessResponseStream fans chunks out to every SSE subscriber bound to
// each chunk's session key.
func (t *Transport) ProcessResponseStream(ctx context.Context, chunks <-chan contracts.RoutedChunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rc, ok := <-chunks:
			if !ok {
				return nil
			}
			t.broadcast(rc.Key, rc.Chunk)
		}
	}
}

func (t *Transport) broadcast(key chatkey.Key, chunk contracts.Chunk) {
	t.mu.Lock()
	subs := make([]chan contracts.Chunk, 0, len(t.subscribers[key]))
	for _, ch := range t.subscribers[key] {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- chunk:
		default:
			t.logger.Warn().Str("key", key.String()).Msg("sse subscriber channel full, dropping chunk")
		}
	}
}

func (t *Transport) subscribe(key chatkey.Key) (<-chan contracts.Chunk, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan contracts.Chunk, 32)
	if t.subscribers[key] == nil {
		t.subscribers[key] = make(map[uint64]chan contracts.Chunk)
	}
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[key][id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers[key], id)
		if len(t.subscribers[key]) == 0 {
			delete(t.subscribers, key)
		}
	}
}

// handleStream opens an SSE connection for one session key, grounded on
// internal/server/sse.go's ResponseController-based writer and heartbeat
// ticker.
func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	key := keyFromParams(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	rc := http.NewResponseController(w)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks, unsub := t.subscribe(key)
	defer unsub()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case c := <-chunks:
			data, err := json.Marshal(c)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				flusher.Flush()
			}
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// CreateTopicIfNeeded, CreateThread, and DoesThreadExist are owned by the
// persistence layer in this deployment; the web UI transport allocates
// keys directly from client-supplied ids and never needs to synthesize
// them, so these are no-ops returning the caller's own input.
func (t *Transport) CreateTopicIfNeeded(ctx context.Context, source contracts.Source, conversationID, threadID *int64, agentID, name *string) (chatkey.Key, error) {
	key := chatkey.Key{}
	if conversationID != nil {
		key.ConversationID = *conversationID
	}
	if threadID != nil {
		key.ThreadID = *threadID
	}
	if agentID != nil {
		key.AgentID = *agentID
	}
	return key, nil
}

func (t *Transport) CreateThread(ctx context.Context, conversationID int64, name string, agentID *string) (int64, error) {
	return time.Now().UnixNano(), nil
}

func (t *Transport) DoesThreadExist(ctx context.Context, conversationID, threadID int64, agentID *string) (bool, error) {
	return true, nil
}
