// Package queue implements the serviceBus transport (spec.md §4.2/§6): a
// message-bus-backed MessengerClient built on watermill's Publisher/
// Subscriber interfaces so any backend watermill supports (amqp, kafka,
// gochannel for tests) can sit underneath without code changes here.
// Grounded on go-opencode's internal/event/bus.go, which already drives a
// typed pub/sub surface on top of watermill/gochannel; generalized from
// "broadcast typed in-process events" to "exchange JSON prompt/response
// envelopes with an external broker, with dead-lettering on malformed
// input".
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
)

// DeadLetterReason classifies why an inbound message could not be routed
// (spec.md §6, bit-exact envelope validation).
type DeadLetterReason string

const (
	ReasonMissingField         DeadLetterReason = "MissingField"
	ReasonInvalidAgentID       DeadLetterReason = "InvalidAgentId"
	ReasonDeserializationError DeadLetterReason = "DeserializationError"
)

// inboundEnvelope is the bit-exact wire shape for an inbound bus message.
type inboundEnvelope struct {
	CorrelationID string `json:"correlationId"`
	AgentID       string `json:"agentId"`
	Prompt        string `json:"prompt"`
	Sender        string `json:"sender"`
}

// outboundEnvelope is the bit-exact wire shape for the response queue.
type outboundEnvelope struct {
	CorrelationID string `json:"correlationId"`
	AgentID       string `json:"agentId"`
	Response      string `json:"response"`
	CompletedAt   string `json:"completedAt"` // RFC 3339 UTC
}

// KnownAgentIDs validates the agentId field of an inbound envelope.
type KnownAgentIDs func(agentID string) bool

// Transport is the serviceBus contracts.MessengerClient implementation.
type Transport struct {
	logger zerolog.Logger

	publisher  wmessage.Publisher
	subscriber wmessage.Subscriber

	requestTopic  string
	responseTopic string
	deadLetter    string

	knownAgent KnownAgentIDs

	correlations contracts.CorrelationStore
}

// Config wires a Transport to a watermill broker and the topics it reads
// prompts from / writes responses and dead letters to.
type Config struct {
	Publisher     wmessage.Publisher
	Subscriber    wmessage.Subscriber
	RequestTopic  string
	ResponseTopic string
	DeadLetter    string
	KnownAgent    KnownAgentIDs
	Correlations  contracts.CorrelationStore
}

// New creates a serviceBus Transport from cfg.
func New(logger zerolog.Logger, cfg Config) *Transport {
	return &Transport{
		logger:        logger.With().Str("transport", "serviceBus").Logger(),
		publisher:     cfg.Publisher,
		subscriber:    cfg.Subscriber,
		requestTopic:  cfg.RequestTopic,
		responseTopic: cfg.ResponseTopic,
		deadLetter:    cfg.DeadLetter,
		knownAgent:    cfg.KnownAgent,
		correlations:  cfg.Correlations,
	}
}

func (t *Transport) Source() contracts.Source { return contracts.SourceServiceBus }

func (t *Transport) SupportsScheduledNotifications() bool { return true }

// ReadPrompts subscribes to the request topic and decodes/validates each
// message, dead-lettering malformed or unroutable envelopes rather than
// enqueuing a prompt for them (spec.md §6).
func (t *Transport) ReadPrompts(ctx context.Context, timeout time.Duration) (<-chan contracts.Prompt, error) {
	messages, err := t.subscriber.Subscribe(ctx, t.requestTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan contracts.Prompt)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				t.handleInbound(ctx, msg, out)
			}
		}
	}()
	return out, nil
}

func (t *Transport) handleInbound(ctx context.Context, msg *wmessage.Message, out chan<- contracts.Prompt) {
	var env inboundEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		t.deadLetterMsg(ctx, msg, ReasonDeserializationError)
		msg.Ack()
		return
	}
	if env.CorrelationID == "" || env.AgentID == "" || env.Prompt == "" || env.Sender == "" {
		t.deadLetterMsg(ctx, msg, ReasonMissingField)
		msg.Ack()
		return
	}
	if t.knownAgent != nil && !t.knownAgent(env.AgentID) {
		t.deadLetterMsg(ctx, msg, ReasonInvalidAgentID)
		msg.Ack()
		return
	}

	key := chatkey.Key{AgentID: env.AgentID}
	if t.correlations != nil {
		_ = t.correlations.Put(ctx, key.String(), env.CorrelationID)
	}

	out <- contracts.Prompt{
		Text:     env.Prompt,
		SenderID: env.Sender,
		Source:   contracts.SourceServiceBus,
		HasKey:   true,
		Key:      key,
	}
	msg.Ack()
}

func (t *Transport) deadLetterMsg(ctx context.Context, msg *wmessage.Message, reason DeadLetterReason) {
	t.logger.Warn().Str("reason", string(reason)).Msg("dead-lettering inbound service bus message")
	if t.deadLetter == "" || t.publisher == nil {
		return
	}
	dl := wmessage.NewMessage(watermill.NewUUID(), msg.Payload)
	dl.Metadata.Set("reason", string(reason))
	_ = t.publisher.Publish(t.deadLetter, dl)
}

// ProcessResponseStream writes the final content of each completed turn to
// the response topic, retrying transient publish failures with exponential
// backoff (spec.md §7: "3 attempts: ~2, ~4, ~8 seconds").
func (t *Transport) ProcessResponseStream(ctx context.Context, chunks <-chan contracts.RoutedChunk) error {
	pending := make(map[chatkey.Key]*outboundEnvelope)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rc, ok := <-chunks:
			if !ok {
				return nil
			}
			env := pending[rc.Key]
			if env == nil {
				correlationID := ""
				if t.correlations != nil {
					if id, found, _ := t.correlations.Get(ctx, rc.Key.String()); found {
						correlationID = id
					}
				}
				env = &outboundEnvelope{CorrelationID: correlationID, AgentID: rc.Key.AgentID}
				pending[rc.Key] = env
			}
			env.Response += rc.Chunk.Content
			if rc.Chunk.Terminal {
				env.CompletedAt = time.Now().UTC().Format(time.RFC3339)
				t.publishResponse(ctx, *env)
				delete(pending, rc.Key)
			}
		}
	}
}

func (t *Transport) publishResponse(ctx context.Context, env outboundEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to encode outbound envelope")
		return
	}

	op := func() error {
		msg := wmessage.NewMessage(watermill.NewUUID(), payload)
		return t.publisher.Publish(t.responseTopic, msg)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0 // the three retries wait close to 2s/4s/8s, per spec.md §7
	bo := backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		t.logger.Error().Err(err).Str("correlationId", env.CorrelationID).
			Msg("response publish retries exhausted, dropping")
	}
}

func (t *Transport) CreateTopicIfNeeded(ctx context.Context, source contracts.Source, conversationID, threadID *int64, agentID, name *string) (chatkey.Key, error) {
	key := chatkey.Key{}
	if agentID != nil {
		key.AgentID = *agentID
	}
	if conversationID != nil {
		key.ConversationID = *conversationID
	}
	if threadID != nil {
		key.ThreadID = *threadID
	}
	return key, nil
}

func (t *Transport) CreateThread(ctx context.Context, conversationID int64, name string, agentID *string) (int64, error) {
	return time.Now().UnixNano(), nil
}

func (t *Transport) DoesThreadExist(ctx context.Context, conversationID, threadID int64, agentID *string) (bool, error) {
	return true, nil
}
