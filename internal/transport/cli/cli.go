// Package cli implements the cli transport (spec.md §4.2/§6): a single
// local terminal session reading prompts interactively and printing
// streamed response chunks back to stdout. Grounded on go-opencode's
// headless runner (cmd/opencode/commands/headless.go, internal/headless),
// which already drives one prompt/response cycle against stdout from the
// command line; generalized here into a persistent chzyer/readline REPL
// that keeps submitting prompts under one fixed chatkey for the life of
// the process, matching spec.md's "one conversation per local session"
// framing for this transport.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
)

// Transport is the cli contracts.MessengerClient implementation: one
// readline-driven REPL bound to a single chatkey for its process lifetime.
type Transport struct {
	logger   zerolog.Logger
	instance *readline.Instance
	key      chatkey.Key
	senderID string
}

// New creates a Transport that reads prompts from an interactive readline
// session and prints streamed chunks to its stdout. key identifies the
// single conversation this process represents.
func New(logger zerolog.Logger, key chatkey.Key, senderID string) (*Transport, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline instance: %w", err)
	}
	return &Transport{
		logger:   logger.With().Str("transport", "cli").Logger(),
		instance: rl,
		key:      key,
		senderID: senderID,
	}, nil
}

func (t *Transport) Source() contracts.Source { return contracts.SourceCLI }

func (t *Transport) SupportsScheduledNotifications() bool { return false }

// Close releases the underlying terminal.
func (t *Transport) Close() error {
	return t.instance.Close()
}

// ReadPrompts reads one line at a time from the terminal; EOF ends the
// stream, while an interrupt discards the current line and reading goes on.
func (t *Transport) ReadPrompts(ctx context.Context, timeout time.Duration) (<-chan contracts.Prompt, error) {
	out := make(chan contracts.Prompt)
	go func() {
		defer close(out)
		for {
			line, err := t.instance.Readline()
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				t.logger.Warn().Err(err).Msg("readline error")
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			select {
			case out <- contracts.Prompt{
				Text:     line,
				SenderID: t.senderID,
				Source:   contracts.SourceCLI,
				HasKey:   true,
				Key:      t.key,
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ProcessResponseStream writes each chunk's content to the terminal as it
// arrives, printing a newline once a turn terminates or errors.
func (t *Transport) ProcessResponseStream(ctx context.Context, chunks <-chan contracts.RoutedChunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rc, ok := <-chunks:
			if !ok {
				return nil
			}
			if rc.Key != t.key {
				continue
			}
			switch {
			case rc.Chunk.Content != "":
				fmt.Fprint(t.instance.Stdout(), rc.Chunk.Content)
			case rc.Chunk.Error != "":
				fmt.Fprintf(t.instance.Stdout(), "\n[error] %s\n", rc.Chunk.Error)
			}
			if rc.Chunk.Terminal {
				fmt.Fprintln(t.instance.Stdout())
			}
		}
	}
}

// CreateTopicIfNeeded, CreateThread, and DoesThreadExist are no-ops: a cli
// Transport represents exactly one conversation fixed at construction time.
func (t *Transport) CreateTopicIfNeeded(ctx context.Context, source contracts.Source, conversationID, threadID *int64, agentID, name *string) (chatkey.Key, error) {
	return t.key, nil
}

func (t *Transport) CreateThread(ctx context.Context, conversationID int64, name string, agentID *string) (int64, error) {
	return t.key.ThreadID, nil
}

func (t *Transport) DoesThreadExist(ctx context.Context, conversationID, threadID int64, agentID *string) (bool, error) {
	return true, nil
}
