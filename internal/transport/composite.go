// Package transport implements the composite transport and router
// (spec.md §4.2): fan-in of prompts from N concrete transports and fan-out
// of chunks by the routing policy. Grounded on go-opencode's multi-
// transport wiring style (cmd/opencode-server main.go merges HTTP + TUI)
// generalized into an explicit, testable routing table instead of ad hoc
// per-handler wiring.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/rs/zerolog"
)

// RoutingPolicy maps a prompt's source to the set of transports that
// receive chunks emitted for it. webUi is always included as the universal
// observer (spec.md §4.2 table).
func RoutingPolicy(source contracts.Source) map[contracts.Source]bool {
	targets := map[contracts.Source]bool{contracts.SourceWebUI: true}
	if source != contracts.SourceWebUI {
		targets[source] = true
	}
	return targets
}

// Composite merges 1..N concrete transports into one prompt stream and fans
// response chunks out per RoutingPolicy.
type Composite struct {
	logger zerolog.Logger

	mu         sync.RWMutex
	clients    map[contracts.Source]contracts.MessengerClient
	sourceOf   map[chatkey.Key]contracts.Source // remembers which source owns a key, for fan-out of chunks whose prompt already left the queue
}

// New creates an empty Composite. Register clients with Add.
func New(logger zerolog.Logger) *Composite {
	return &Composite{
		logger:   logger,
		clients:  make(map[contracts.Source]contracts.MessengerClient),
		sourceOf: make(map[chatkey.Key]contracts.Source),
	}
}

// Add registers a concrete transport client under its own source tag.
func (c *Composite) Add(client contracts.MessengerClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[client.Source()] = client
}

// SupportsScheduled reports whether the named transport supports scheduled
// notifications; false if the transport is not registered.
func (c *Composite) SupportsScheduled(source contracts.Source) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, ok := c.clients[source]
	if !ok {
		return false
	}
	return client.SupportsScheduledNotifications()
}

// ReadPrompts merges the prompt streams of every registered transport into
// one channel, tagging each prompt's source as it is first observed.
func (c *Composite) ReadPrompts(ctx context.Context, timeout time.Duration) <-chan contracts.Prompt {
	out := make(chan contracts.Prompt)

	c.mu.RLock()
	clients := make([]contracts.MessengerClient, 0, len(c.clients))
	for _, cl := range c.clients {
		clients = append(clients, cl)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(client contracts.MessengerClient) {
			defer wg.Done()
			prompts, err := client.ReadPrompts(ctx, timeout)
			if err != nil {
				c.logger.Error().Err(err).Str("source", string(client.Source())).Msg("transport read failed")
				return
			}
			for p := range prompts {
				p.Source = client.Source()
				if p.HasKey {
					c.mu.Lock()
					c.sourceOf[p.Key] = p.Source
					c.mu.Unlock()
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}(client)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// BindKey records that key originated from source, for chunks emitted
// without going through ReadPrompts directly (e.g. a resumed turn).
func (c *Composite) BindKey(key chatkey.Key, source contracts.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sourceOf[key] = source
}

// SourceFor returns the remembered source for key, if any.
func (c *Composite) SourceFor(key chatkey.Key) (contracts.Source, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sourceOf[key]
	return s, ok
}

// WriteChunks fans response chunks out to the transports selected by
// RoutingPolicy. A chunk for a key with no known source is delivered only
// to the webUi observer (spec.md §4.2: "silently dropped by non-observer
// transports").
func (c *Composite) WriteChunks(ctx context.Context, routed <-chan contracts.RoutedChunk) {
	perTransport := make(map[contracts.Source]chan contracts.RoutedChunk)

	c.mu.RLock()
	for src, client := range c.clients {
		ch := make(chan contracts.RoutedChunk, 64)
		perTransport[src] = ch
		go func(client contracts.MessengerClient, ch chan contracts.RoutedChunk) {
			if err := client.ProcessResponseStream(ctx, ch); err != nil {
				c.logger.Error().Err(err).Str("source", string(client.Source())).Msg("transport write failed")
			}
		}(client, ch)
	}
	c.mu.RUnlock()

	defer func() {
		for _, ch := range perTransport {
			close(ch)
		}
	}()

	for rc := range routed {
		source := rc.Source
		if source == "" {
			if s, ok := c.SourceFor(rc.Key); ok {
				source = s
			}
		}

		targets := RoutingPolicy(source)
		for src, ch := range perTransport {
			if !targets[src] {
				continue
			}
			select {
			case ch <- rc:
			case <-ctx.Done():
				return
			}
		}
	}
}
