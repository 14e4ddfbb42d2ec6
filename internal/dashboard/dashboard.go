// Package dashboard implements the operator mirror sink referenced in
// spec.md: a passive observer of the outbound fan-out that posts each
// turn's completed response into a Slack channel for visibility, without
// itself being a registered MessengerClient (it never reads prompts back
// from Slack). The client shape and interface-seam-for-testing are
// grounded on haasonsaas-nexus/internal/channels/slack (adapter.go's
// slack.New/PostMessageContext usage, testable.go's SlackAPIClient seam).
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
)

// Poster sends a plain-text message to a channel, seamed out so tests can
// inject a fake instead of hitting the Slack API.
type Poster interface {
	PostMessage(ctx context.Context, channelID, text string) (string, error)
}

// slackClient adapts *slack.Client to Poster.
type slackClient struct {
	client *slack.Client
}

func (c *slackClient) PostMessage(ctx context.Context, channelID, text string) (string, error) {
	_, ts, err := c.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return ts, err
}

// Sink mirrors completed turns into a Slack channel. It accumulates chunk
// content per key and posts once the turn reaches its terminal chunk,
// mirroring the accumulate-then-flush shape of internal/transport/queue's
// outbound envelope handling.
type Sink struct {
	logger    zerolog.Logger
	client    Poster
	channelID string

	mu      sync.Mutex
	pending map[chatkey.Key]*strings.Builder
}

// New constructs a Sink posting to channelID using a real Slack client
// authenticated with botToken.
func New(logger zerolog.Logger, botToken, channelID string) *Sink {
	return NewWithClient(logger, &slackClient{client: slack.New(botToken)}, channelID)
}

// NewWithClient constructs a Sink against an arbitrary Poster, for testing.
func NewWithClient(logger zerolog.Logger, client Poster, channelID string) *Sink {
	return &Sink{
		logger:    logger.With().Str("component", "dashboard").Logger(),
		client:    client,
		channelID: channelID,
		pending:   map[chatkey.Key]*strings.Builder{},
	}
}

// Observe consumes routed chunks from the fan-out and mirrors completed
// turns to Slack. It never writes back to the source channel; callers run
// it alongside the real transports, not in place of one.
func (s *Sink) Observe(ctx context.Context, chunks <-chan contracts.RoutedChunk) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rc, ok := <-chunks:
			if !ok {
				return nil
			}
			s.handle(ctx, rc)
		}
	}
}

func (s *Sink) handle(ctx context.Context, rc contracts.RoutedChunk) {
	s.mu.Lock()
	builder, ok := s.pending[rc.Key]
	if !ok {
		builder = &strings.Builder{}
		s.pending[rc.Key] = builder
	}
	if rc.Chunk.Content != "" {
		builder.WriteString(rc.Chunk.Content)
	}
	terminal := rc.Chunk.Terminal
	text := builder.String()
	if terminal {
		delete(s.pending, rc.Key)
	}
	s.mu.Unlock()

	if !terminal || text == "" {
		return
	}

	header := fmt.Sprintf("*%s* (%s)\n", rc.Key.String(), rc.Source)
	_, err := s.client.PostMessage(ctx, s.channelID, header+text)
	if err != nil {
		s.logger.Error().Err(err).Str("key", rc.Key.String()).Msg("failed to mirror turn to slack")
	}
}
