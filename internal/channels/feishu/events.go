package feishu

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Event types the dispatcher recognizes. Read receipts and reaction
// deletions are registered but intentionally ignored.
const (
	EventMessageReceive    = "im.message.receive_v1"
	EventMessageRead       = "im.message.message_read_v1"
	EventBotAdded          = "im.chat.member.bot.added_v1"
	EventBotDeleted        = "im.chat.member.bot.deleted_v1"
	EventReactionCreated   = "im.message.reaction.created_v1"
	EventReactionDeleted   = "im.message.reaction.deleted_v1"
	EventCardActionTrigger = "card.action.trigger"
)

// Envelope is the common event wrapper of the Lark event stream (schema 2.0).
type Envelope struct {
	Schema string `json:"schema"`
	Header struct {
		EventID    string `json:"event_id"`
		EventType  string `json:"event_type"`
		CreateTime string `json:"create_time"`
		Token      string `json:"token"`
	} `json:"header"`
	Event json.RawMessage `json:"event"`
}

// MessageEvent is the im.message.receive_v1 payload.
type MessageEvent struct {
	Sender struct {
		SenderID struct {
			OpenID string `json:"open_id"`
		} `json:"sender_id"`
	} `json:"sender"`
	Message struct {
		MessageID   string `json:"message_id"`
		RootID      string `json:"root_id"`
		ParentID    string `json:"parent_id"`
		ChatID      string `json:"chat_id"`
		ChatType    string `json:"chat_type"` // p2p | group
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
		Mentions    []struct {
			Key string `json:"key"`
			ID  struct {
				OpenID string `json:"open_id"`
			} `json:"id"`
			Name string `json:"name"`
		} `json:"mentions"`
	} `json:"message"`
}

// ReactionEvent is the im.message.reaction.created_v1 payload.
type ReactionEvent struct {
	MessageID    string `json:"message_id"`
	OperatorType string `json:"operator_type"`
	UserID       struct {
		OpenID string `json:"open_id"`
	} `json:"user_id"`
	ReactionType struct {
		EmojiType string `json:"emoji_type"`
	} `json:"reaction_type"`
}

// suppressedEmojis are status emojis the bot itself toggles; echoing them
// back as user events would loop.
var suppressedEmojis = map[string]bool{
	"Typing": true,
}

// ParseText extracts the plain text from a message content payload and
// strips @_user_N mention placeholders.
func (e *MessageEvent) ParseText() string {
	switch e.Message.MessageType {
	case "text":
		var content struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(e.Message.Content), &content); err != nil {
			return ""
		}
		text := content.Text
		for _, m := range e.Message.Mentions {
			text = strings.ReplaceAll(text, m.Key, "")
		}
		return strings.TrimSpace(text)
	case "post":
		return extractPostText([]byte(e.Message.Content))
	default:
		return ""
	}
}

// MentionsBot reports whether the bot's open_id appears in the mentions.
func (e *MessageEvent) MentionsBot(botOpenID string) bool {
	if botOpenID == "" {
		return false
	}
	for _, m := range e.Message.Mentions {
		if m.ID.OpenID == botOpenID {
			return true
		}
	}
	return false
}

// FilterReaction decides whether a reaction event becomes a user-visible
// event. It must target one of the bot's own messages and not carry a
// suppressed status emoji. When the bot's open_id is not resolved yet the
// event is logged and dropped; buffering for re-evaluation is not done.
func FilterReaction(ev *ReactionEvent, botOpenID string, isOwnMessage func(messageID string) bool, logger *slog.Logger) bool {
	if suppressedEmojis[ev.ReactionType.EmojiType] {
		return false
	}
	if ev.OperatorType == "app" {
		return false
	}
	if botOpenID == "" {
		logger.Debug("reaction dropped: bot open_id not resolved yet", "message_id", ev.MessageID)
		return false
	}
	if ev.UserID.OpenID == botOpenID {
		return false
	}
	if isOwnMessage != nil && !isOwnMessage(ev.MessageID) {
		return false
	}
	return true
}

// extractPostText flattens a rich-text post into plain text.
func extractPostText(raw []byte) string {
	var post struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag  string `json:"tag"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &post); err != nil {
		return ""
	}
	var b strings.Builder
	if post.Title != "" {
		b.WriteString(post.Title)
		b.WriteString("\n")
	}
	for _, line := range post.Content {
		for _, el := range line {
			if el.Tag == "text" {
				b.WriteString(el.Text)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
