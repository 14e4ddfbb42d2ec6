package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/dethon/agentrt/internal/contracts"
)

// updateStream adapts the Anthropic Messages SSE response body into a
// contracts.UpdateStream, pumping parsed events onto a buffered channel on
// a background goroutine so Next can be a clean pull-based call. Grounded
// on vanducng-goclaw/internal/providers/anthropic.go's ChatStream, which
// runs the same bufio.Scanner-over-"data: " loop and switches on the SSE
// event's "type" field; here the per-event switch feeds a channel instead
// of invoking a caller callback.
type updateStream struct {
	body io.ReadCloser
	ch   chan contracts.Update

	mu       sync.Mutex
	err      error
	toolByIx map[int]*contracts.ToolCall
	seq      int64
}

func newUpdateStream(body io.ReadCloser) *updateStream {
	return &updateStream{
		body:     body,
		ch:       make(chan contracts.Update, 16),
		toolByIx: map[int]*contracts.ToolCall{},
	}
}

func (s *updateStream) Next(ctx context.Context) (contracts.Update, bool) {
	select {
	case <-ctx.Done():
		return contracts.Update{}, false
	case u, ok := <-s.ch:
		return u, ok
	}
}

func (s *updateStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *updateStream) Close() error {
	return s.body.Close()
}

func (s *updateStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// pump scans the SSE body and emits one contracts.Update per content delta,
// closing the channel when the stream ends or errors.
func (s *updateStream) pump() {
	defer close(s.ch)
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var currentToolIx = -1

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var event rawEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			s.setErr(err)
			return
		}

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentToolIx = event.Index
				s.toolByIx[currentToolIx] = &contracts.ToolCall{
					ID:   event.ContentBlock.ID,
					Name: event.ContentBlock.Name,
				}
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				s.seq++
				s.ch <- contracts.Update{Role: contracts.RoleAssistant, Content: event.Delta.Text, Sequence: s.seq}
			case "thinking_delta":
				s.seq++
				s.ch <- contracts.Update{Role: contracts.RoleAssistant, Reasoning: event.Delta.Thinking, Sequence: s.seq}
			case "input_json_delta":
				if tc, ok := s.toolByIx[event.Index]; ok {
					tc.Arguments += event.Delta.PartialJSON
				}
			}
		case "content_block_stop":
			if tc, ok := s.toolByIx[event.Index]; ok {
				s.seq++
				s.ch <- contracts.Update{Role: contracts.RoleAssistant, ToolCalls: []contracts.ToolCall{*tc}, Sequence: s.seq}
				delete(s.toolByIx, event.Index)
			}
		case "message_delta", "message_start":
			// token accounting only; no content to surface
		case "message_stop":
			s.seq++
			s.ch <- contracts.Update{Role: contracts.RoleAssistant, Terminal: true, Sequence: s.seq}
			return
		case "error":
			if event.Error != nil {
				s.setErr(&apiError{Type: event.Error.Type, Message: event.Error.Message})
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.setErr(err)
	}
}

type rawEvent struct {
	Type         string           `json:"type"`
	Index        int              `json:"index"`
	ContentBlock *rawContentBlock `json:"content_block,omitempty"`
	Delta        *rawDelta        `json:"delta,omitempty"`
	Error        *rawError        `json:"error,omitempty"`
}

type rawContentBlock struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type rawDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type rawError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type apiError struct {
	Type    string
	Message string
}

func (e *apiError) Error() string {
	return "provider: anthropic api error (" + e.Type + "): " + e.Message
}
