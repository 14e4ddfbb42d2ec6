// Package telegram implements the telegram transport (spec.md §4.2/§6):
// long-polling prompt intake and chat-scoped response delivery via
// mymmrac/telego. Grounded on vanducng-goclaw's
// internal/channels/telegram, which already wraps telego's
// bot + UpdatesViaLongPolling + tu.Message send helpers; generalized here
// from that repo's pairing/allowlist channel model to spec.md's plain
// chatkey-scoped MessengerClient, with in-place message edits driving the
// sampled streaming render instead of a "thinking..." placeholder.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/render"
)

// EditInterval bounds how often an in-flight assistant message is edited
// in place as chunks accumulate, sampled through internal/render.Coordinate.
const EditInterval = 700 * time.Millisecond

// Transport is the telegram contracts.MessengerClient implementation.
type Transport struct {
	logger zerolog.Logger
	bot    *telego.Bot

	mu       sync.Mutex
	inFlight map[chatkey.Key]*telego.Message // chatId:threadId:agentId -> bot message being edited
	texts    map[chatkey.Key]string
}

// New creates a Transport wrapping an already-constructed telego bot.
func New(logger zerolog.Logger, bot *telego.Bot) *Transport {
	return &Transport{
		logger:   logger.With().Str("transport", "telegram").Logger(),
		bot:      bot,
		inFlight: make(map[chatkey.Key]*telego.Message),
		texts:    make(map[chatkey.Key]string),
	}
}

func (t *Transport) Source() contracts.Source { return contracts.SourceTelegram }

func (t *Transport) SupportsScheduledNotifications() bool { return true }

// ReadPrompts starts long polling and translates telegram messages into
// prompts keyed by chat id (conversation) and forum topic id (thread).
func (t *Transport) ReadPrompts(ctx context.Context, timeout time.Duration) (<-chan contracts.Prompt, error) {
	updates, err := t.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, fmt.Errorf("start telegram long polling: %w", err)
	}

	out := make(chan contracts.Prompt)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || update.Message.Text == "" {
					continue
				}
				msg := update.Message
				threadID := int64(0)
				if msg.MessageThreadID != 0 {
					threadID = int64(msg.MessageThreadID)
				}
				out <- contracts.Prompt{
					Text:     msg.Text,
					SenderID: senderID(msg),
					Source:   contracts.SourceTelegram,
					HasKey:   true,
					Key: chatkey.Key{
						ConversationID: msg.Chat.ID,
						ThreadID:       threadID,
					},
				}
			}
		}
	}()
	return out, nil
}

func senderID(msg *telego.Message) string {
	if msg.From == nil {
		return ""
	}
	if msg.From.Username != "" {
		return msg.From.Username
	}
	return fmt.Sprintf("%d", msg.From.ID)
}

// ProcessResponseStream samples each chat's chunk stream through
// render.Coordinate and edits one in-flight Telegram message per turn,
// avoiding telegram's strict per-chat edit rate limit.
func (t *Transport) ProcessResponseStream(ctx context.Context, chunks <-chan contracts.RoutedChunk) error {
	perKey := make(map[chatkey.Key]chan contracts.Chunk)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rc, ok := <-chunks:
			if !ok {
				return nil
			}
			ch, exists := perKey[rc.Key]
			if !exists {
				ch = make(chan contracts.Chunk, 64)
				perKey[rc.Key] = ch
				sampled := render.Coordinate(ctx, EditInterval, ch)
				go t.drive(ctx, rc.Key, sampled)
			}
			select {
			case ch <- rc.Chunk:
			default:
				t.logger.Warn().Str("key", rc.Key.String()).Msg("telegram chunk channel full, dropping")
			}
			if rc.Chunk.Terminal || rc.Chunk.Error != "" {
				close(ch)
				delete(perKey, rc.Key)
			}
		}
	}
}

func (t *Transport) drive(ctx context.Context, key chatkey.Key, sampled <-chan contracts.Chunk) {
	for chunk := range sampled {
		t.appendAndEdit(ctx, key, chunk)
	}
	t.mu.Lock()
	delete(t.inFlight, key)
	delete(t.texts, key)
	t.mu.Unlock()
}

func (t *Transport) appendAndEdit(ctx context.Context, key chatkey.Key, chunk contracts.Chunk) {
	t.mu.Lock()
	t.texts[key] += chunk.Content
	text := t.texts[key]
	msg := t.inFlight[key]
	t.mu.Unlock()

	if text == "" {
		return
	}

	chatID := tu.ID(key.ConversationID)
	if msg == nil {
		sendParams := tu.Message(chatID, text)
		if key.ThreadID != 0 {
			sendParams.MessageThreadID = int(key.ThreadID)
		}
		sent, err := t.bot.SendMessage(ctx, sendParams)
		if err != nil {
			t.logger.Warn().Err(err).Msg("failed to send telegram message")
			return
		}
		t.mu.Lock()
		t.inFlight[key] = sent
		t.mu.Unlock()
		return
	}

	_, err := t.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Text:      text,
	})
	if err != nil {
		t.logger.Debug().Err(err).Msg("telegram edit failed (likely identical content, ignored)")
	}
}

// CreateTopicIfNeeded maps a forum topic id onto a chatkey.Key thread id;
// telegram topics are created by users, not by this transport.
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
	result, err := t.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: tu.ID(conversationID),
		Name:   name,
	})
	if err != nil {
		return 0, fmt.Errorf("create telegram forum topic: %w", err)
	}
	return int64(result.MessageThreadID), nil
}

func (t *Transport) DoesThreadExist(ctx context.Context, conversationID, threadID int64, agentID *string) (bool, error) {
	return true, nil
}
