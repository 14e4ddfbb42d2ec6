// Command agentrt-client is a thin terminal client for the webUi transport:
// it submits prompts over HTTP, consumes the SSE response stream, resumes
// a dropped connection via the resume endpoint, and renders everything
// through the reactive client store (internal/clientstore) and pipeline
// (internal/clientpipeline), sampled for display by internal/render.
// Modeled on the go-opencode headless runner (cmd/opencode/commands),
// which already drives one REPL loop against a single conversation.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/clientpipeline"
	"github.com/dethon/agentrt/internal/clientstore"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/render"
	"github.com/dethon/agentrt/internal/streambuf"
)

func main() {
	var (
		server         string
		conversationID int64
		threadID       int64
		agentID        string
		senderID       string
	)

	root := &cobra.Command{
		Use:   "agentrt-client",
		Short: "Terminal client for an agentrtd webui transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(server, conversationID, threadID, agentID, senderID)
		},
	}
	flags := root.Flags()
	flags.StringVar(&server, "server", "http://localhost:8080", "agentrtd webui base URL")
	flags.Int64Var(&conversationID, "conversation", 1, "conversation id")
	flags.Int64Var(&threadID, "thread", 1, "thread id")
	flags.StringVar(&agentID, "agent", "default", "agent profile id")
	flags.StringVar(&senderID, "sender", "local", "sender id attached to outbound prompts")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agentrt-client: %v\n", err)
		os.Exit(1)
	}
}

func run(server string, conversationID, threadID int64, agentID, senderID string) error {
	key := chatkey.Key{ConversationID: conversationID, ThreadID: threadID, AgentID: agentID}
	topicID := key.String()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	messages := clientstore.NewSlice(clientstore.NewMessagesState(), clientstore.MessagesReducer)
	streaming := clientstore.NewSlice(clientstore.NewStreamingState(), clientstore.StreamingReducer)
	connection := clientstore.NewSlice(&clientstore.ConnectionState{}, clientstore.ConnectionReducer)

	pipeline := clientpipeline.New(messages, streaming, fetchState(server))

	rl, err := readline.NewEx(&readline.Config{Prompt: "> "})
	if err != nil {
		return err
	}
	defer rl.Close()

	connect(ctx, server, key, topicID, pipeline, streaming, connection)
	go renderStreaming(ctx, streaming)

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := sendPrompt(ctx, server, key, senderID, line, pipeline, messages); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}

// fetchState adapts the webui resume endpoint to clientpipeline.StreamStateFetcher.
func fetchState(base string) clientpipeline.StreamStateFetcher {
	return func(ctx context.Context, topicID string) (streambuf.State, error) {
		key, err := chatkey.Parse(topicID)
		if err != nil {
			return streambuf.State{}, err
		}
		url := fmt.Sprintf("%s/resume/%d/%d/%s", base, key.ConversationID, key.ThreadID, key.AgentID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return streambuf.State{}, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return streambuf.State{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return streambuf.State{}, nil // nothing buffered server-side; resume with empty history
		}
		if resp.StatusCode != http.StatusOK {
			return streambuf.State{}, fmt.Errorf("resume: unexpected status %d", resp.StatusCode)
		}
		var state streambuf.State
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return streambuf.State{}, err
		}
		return state, nil
	}
}

// connect resumes history for topicID then opens the SSE subscription,
// reconnecting with backoff if the stream drops.
func connect(ctx context.Context, base string, key chatkey.Key, topicID string, pipeline *clientpipeline.Pipeline, streaming *clientstore.Slice[clientstore.StreamingState], connection *clientstore.Slice[clientstore.ConnectionState]) {
	go func() {
		attempt := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			connection.Dispatch(clientstore.ConnectionReconnecting{})
			if err := pipeline.Resume(ctx, topicID, "", "", nil); err != nil {
				connection.Dispatch(clientstore.ConnectionError{Err: err.Error()})
			}

			err := streamOnce(ctx, base, key, pipeline, topicID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				connection.Dispatch(clientstore.ConnectionError{Err: err.Error()})
			}

			attempt++
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

// streamOnce opens one SSE connection and feeds every chunk into the
// pipeline until the stream ends or ctx is cancelled.
func streamOnce(ctx context.Context, base string, key chatkey.Key, pipeline *clientpipeline.Pipeline, topicID string) error {
	url := fmt.Sprintf("%s/stream/%d/%d/%s", base, key.ConversationID, key.ThreadID, key.AgentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := []byte(strings.TrimPrefix(line, "data: "))
		if bytes.HasPrefix(bytes.TrimSpace(payload), []byte("heartbeat")) {
			continue
		}
		var chunk contracts.Chunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			continue
		}
		pipeline.HandleChunk(topicID, chunk)
	}
	return scanner.Err()
}

// sendPrompt registers a correlation id with the pipeline's echo tracking,
// records the prompt locally so the terminal shows it immediately, and
// posts it. The correlation id is not included in the posted body.
func sendPrompt(ctx context.Context, base string, key chatkey.Key, senderID, text string, pipeline *clientpipeline.Pipeline, messages *clientstore.Slice[clientstore.MessagesState]) error {
	pipeline.TagOutbound()
	messages.Dispatch(clientstore.AddMessage{
		TopicID: key.String(),
		Message: contracts.ChatMessage{Role: contracts.RoleUser, Content: text, SenderID: senderID, Timestamp: time.Now()},
	})

	body, err := json.Marshal(map[string]any{
		"conversationId": key.ConversationID,
		"threadId":       key.ThreadID,
		"agentId":        key.AgentID,
		"text":           text,
		"senderId":       senderID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/prompt", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("prompt rejected: status %d", resp.StatusCode)
	}
	return nil
}

// renderStreaming samples the Streaming slice at a fixed cadence and prints
// the in-progress assistant text to stdout, the terminal-client analogue of
// the web UI's throttled SSE writer.
func renderStreaming(ctx context.Context, streaming *clientstore.Slice[clientstore.StreamingState]) {
	ch, unsub := streaming.Observe()
	defer unsub()

	sampled := render.Coordinate(ctx, 200*time.Millisecond, ch)
	var lastLen int
	for state := range sampled {
		for _, content := range state.StreamingByTopic {
			if len(content.Content) > lastLen {
				fmt.Print(content.Content[lastLen:])
				lastLen = len(content.Content)
			}
		}
	}
}
