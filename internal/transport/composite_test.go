package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	source  contracts.Source
	prompts chan contracts.Prompt

	mu       sync.Mutex
	received []contracts.RoutedChunk
}

func newFakeClient(source contracts.Source) *fakeClient {
	return &fakeClient{source: source, prompts: make(chan contracts.Prompt, 4)}
}

func (f *fakeClient) Source() contracts.Source { return f.source }

func (f *fakeClient) ReadPrompts(ctx context.Context, timeout time.Duration) (<-chan contracts.Prompt, error) {
	return f.prompts, nil
}

func (f *fakeClient) ProcessResponseStream(ctx context.Context, chunks <-chan contracts.RoutedChunk) error {
	for rc := range chunks {
		f.mu.Lock()
		f.received = append(f.received, rc)
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeClient) CreateTopicIfNeeded(ctx context.Context, source contracts.Source, conversationID, threadID *int64, agentID, name *string) (chatkey.Key, error) {
	return chatkey.Key{}, nil
}
func (f *fakeClient) CreateThread(ctx context.Context, conversationID int64, name string, agentID *string) (int64, error) {
	return 0, nil
}
func (f *fakeClient) DoesThreadExist(ctx context.Context, conversationID, threadID int64, agentID *string) (bool, error) {
	return true, nil
}
func (f *fakeClient) SupportsScheduledNotifications() bool { return false }

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestRoutingPolicyTable(t *testing.T) {
	cases := map[contracts.Source][]contracts.Source{
		contracts.SourceWebUI:      {contracts.SourceWebUI},
		contracts.SourceServiceBus: {contracts.SourceWebUI, contracts.SourceServiceBus},
		contracts.SourceTelegram:   {contracts.SourceWebUI, contracts.SourceTelegram},
		contracts.SourceCLI:        {contracts.SourceWebUI, contracts.SourceCLI},
	}
	for source, expected := range cases {
		targets := RoutingPolicy(source)
		assert.Len(t, targets, len(expected))
		for _, e := range expected {
			assert.True(t, targets[e], "source %s should route to %s", source, e)
		}
	}
}

func TestWriteChunksDeliversOnlyToObserverAndOwnSource(t *testing.T) {
	webui := newFakeClient(contracts.SourceWebUI)
	bus := newFakeClient(contracts.SourceServiceBus)
	tg := newFakeClient(contracts.SourceTelegram)

	c := New(zerolog.Nop())
	c.Add(webui)
	c.Add(bus)
	c.Add(tg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routed := make(chan contracts.RoutedChunk, 1)
	done := make(chan struct{})
	go func() {
		c.WriteChunks(ctx, routed)
		close(done)
	}()

	key := chatkey.Key{ConversationID: 1, ThreadID: 1, AgentID: "a"}
	routed <- contracts.RoutedChunk{Key: key, Source: contracts.SourceServiceBus, Chunk: contracts.Chunk{Content: "pong"}}
	close(routed)
	<-done

	require.Eventually(t, func() bool { return webui.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return bus.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, tg.count())
}

func TestUnknownSourceReachesOnlyWebUI(t *testing.T) {
	webui := newFakeClient(contracts.SourceWebUI)
	tg := newFakeClient(contracts.SourceTelegram)

	c := New(zerolog.Nop())
	c.Add(webui)
	c.Add(tg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routed := make(chan contracts.RoutedChunk, 1)
	done := make(chan struct{})
	go func() {
		c.WriteChunks(ctx, routed)
		close(done)
	}()

	key := chatkey.Key{ConversationID: 9, ThreadID: 9, AgentID: "a"}
	routed <- contracts.RoutedChunk{Key: key, Chunk: contracts.Chunk{Content: "orphan"}}
	close(routed)
	<-done

	require.Eventually(t, func() bool { return webui.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, tg.count())
}
