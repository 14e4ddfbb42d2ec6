package dashboard

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
)

type fakePoster struct {
	channelID string
	posted    []string
}

func (f *fakePoster) PostMessage(ctx context.Context, channelID, text string) (string, error) {
	f.channelID = channelID
	f.posted = append(f.posted, text)
	return "1700000000.000100", nil
}

func TestObserveMirrorsOnlyOnTerminalChunk(t *testing.T) {
	poster := &fakePoster{}
	sink := NewWithClient(zerolog.Nop(), poster, "C123")

	key := chatkey.Key{ConversationID: 1, ThreadID: 2}
	chunks := make(chan contracts.RoutedChunk, 4)
	chunks <- contracts.RoutedChunk{Key: key, Source: contracts.SourceWebUI, Chunk: contracts.Chunk{Content: "Hel"}}
	chunks <- contracts.RoutedChunk{Key: key, Source: contracts.SourceWebUI, Chunk: contracts.Chunk{Content: "lo"}}
	chunks <- contracts.RoutedChunk{Key: key, Source: contracts.SourceWebUI, Chunk: contracts.Chunk{Terminal: true}}
	close(chunks)

	require.NoError(t, sink.Observe(context.Background(), chunks))
	require.Len(t, poster.posted, 1)
	assert.True(t, strings.Contains(poster.posted[0], "Hello"))
	assert.Equal(t, "C123", poster.channelID)
}

func TestObserveKeepsSeparateBuildersPerKey(t *testing.T) {
	poster := &fakePoster{}
	sink := NewWithClient(zerolog.Nop(), poster, "C123")

	keyA := chatkey.Key{ConversationID: 1, ThreadID: 1}
	keyB := chatkey.Key{ConversationID: 2, ThreadID: 1}
	chunks := make(chan contracts.RoutedChunk, 4)
	chunks <- contracts.RoutedChunk{Key: keyA, Chunk: contracts.Chunk{Content: "A"}}
	chunks <- contracts.RoutedChunk{Key: keyB, Chunk: contracts.Chunk{Content: "B"}}
	chunks <- contracts.RoutedChunk{Key: keyA, Chunk: contracts.Chunk{Terminal: true}}
	chunks <- contracts.RoutedChunk{Key: keyB, Chunk: contracts.Chunk{Terminal: true}}
	close(chunks)

	require.NoError(t, sink.Observe(context.Background(), chunks))
	require.Len(t, poster.posted, 2)
	assert.True(t, strings.Contains(poster.posted[0], "A") || strings.Contains(poster.posted[1], "A"))
	assert.True(t, strings.Contains(poster.posted[0], "B") || strings.Contains(poster.posted[1], "B"))
}

func TestObserveSkipsEmptyTerminalTurns(t *testing.T) {
	poster := &fakePoster{}
	sink := NewWithClient(zerolog.Nop(), poster, "C123")

	key := chatkey.Key{ConversationID: 5, ThreadID: 1}
	chunks := make(chan contracts.RoutedChunk, 1)
	chunks <- contracts.RoutedChunk{Key: key, Chunk: contracts.Chunk{Terminal: true}}
	close(chunks)

	require.NoError(t, sink.Observe(context.Background(), chunks))
	assert.Empty(t, poster.posted)
}
