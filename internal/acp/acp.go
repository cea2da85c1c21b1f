// Package acp turns a child agent's event stream into chat send/edit
// actions. One coordinator runs per active turn; it owns the
// toolCallId→messageId edit cache, repeat suppression, and final-only text
// buffering for its (account, conversation) pair.
package acp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Event kinds.
const (
	KindText = "text"
	KindTool = "tool"
	KindMeta = "meta"
)

// Meta tags hidden by default.
const (
	TagUsageUpdate             = "usage_update"
	TagAvailableCommandsUpdate = "available_commands_update"
)

// Delivery modes.
const (
	ModeFinalOnly = "final_only"
	ModeStreaming = "streaming"
)

// Event is one projected agent event.
type Event struct {
	Kind       string // text | tool | meta
	ToolCallID string
	AllowEdit  bool
	Status     string
	Tag        string // meta tag, e.g. "usage_update"
	Text       string
	Terminal   bool // last event of the turn
}

// Sender delivers to the chat surface. Implementations wrap a channel
// plugin's send/edit for one account.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) (messageID string, err error)
	Edit(ctx context.Context, conversationID, messageID, text string) error
}

// Options configure a Coordinator.
type Options struct {
	AccountID      string
	ConversationID string
	Mode           string // default final_only
	// MessageGone classifies edit errors that mean the target message no
	// longer exists (deleted, withdrawn). The gateway wires the provider's
	// classifier, e.g. Feishu codes 230011/231003.
	MessageGone func(error) bool
	// HiddenTags overrides the default hidden meta tags.
	HiddenTags map[string]bool
	// Limiter paces sends/edits. Nil uses a 2/s limiter with small burst.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Coordinator serializes delivery for one turn. All event handling goes
// through one mutex, so no two sends for the same (account, conversation,
// toolCallId) ever race; order follows projection order.
type Coordinator struct {
	sender       Sender
	account      string
	conversation string
	mode         string
	messageGone  func(error) bool
	hiddenTags   map[string]bool
	limiter      *rate.Limiter
	logger       *slog.Logger

	mu         sync.Mutex
	messageIDs map[string]string // toolCallId → last chat message id
	lastHash   map[string]string // suppression key → payload hash
	textBuf    strings.Builder
	flushed    bool
}

func NewCoordinator(sender Sender, opts Options) *Coordinator {
	mode := opts.Mode
	if mode == "" {
		mode = ModeFinalOnly
	}
	hidden := opts.HiddenTags
	if hidden == nil {
		hidden = map[string]bool{TagUsageUpdate: true, TagAvailableCommandsUpdate: true}
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(2), 3)
	}
	gone := opts.MessageGone
	if gone == nil {
		gone = func(error) bool { return false }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sender:       sender,
		account:      opts.AccountID,
		conversation: opts.ConversationID,
		mode:         mode,
		messageGone:  gone,
		hiddenTags:   hidden,
		limiter:      limiter,
		logger:       logger,
		messageIDs:   make(map[string]string),
		lastHash:     make(map[string]string),
	}
}

// HandleEvent processes one projected event. Repeated payloads for the same
// key are dropped; tool updates edit in place where allowed.
func (c *Coordinator) HandleEvent(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case KindMeta:
		if c.hiddenTags[ev.Tag] {
			break
		}
		if ev.Text != "" && !c.suppressed("meta:"+ev.Tag, ev.Text) {
			if _, err := c.send(ctx, ev.Text); err != nil {
				return err
			}
		}
	case KindText:
		if c.mode == ModeFinalOnly {
			c.textBuf.WriteString(ev.Text)
			break
		}
		if ev.Text != "" && !c.suppressed("text", ev.Text) {
			if _, err := c.send(ctx, ev.Text); err != nil {
				return err
			}
		}
	case KindTool:
		if err := c.handleTool(ctx, ev); err != nil {
			return err
		}
	}

	if ev.Terminal {
		return c.flushLocked(ctx)
	}
	return nil
}

// handleTool keeps the one-message-per-toolCallId invariant: the first
// delivery creates the message, later updates edit it, and a gone target
// causes exactly one replacement send whose id takes over the cache slot.
func (c *Coordinator) handleTool(ctx context.Context, ev Event) error {
	if ev.ToolCallID == "" || ev.Text == "" {
		return nil
	}
	if c.suppressed("tool:"+ev.ToolCallID, ev.Text) {
		return nil
	}

	if msgID, ok := c.messageIDs[ev.ToolCallID]; ok && ev.AllowEdit {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.sender.Edit(ctx, c.conversation, msgID, ev.Text)
		if err == nil {
			return nil
		}
		if !c.messageGone(err) {
			return fmt.Errorf("edit tool message %s: %w", msgID, err)
		}
		c.logger.Debug("edit target gone, sending replacement",
			"conversation", c.conversation, "toolCall", ev.ToolCallID, "message", msgID)
	} else if ok {
		// Edits not allowed for this event; the message exists, drop the
		// update rather than create a duplicate.
		return nil
	}

	newID, err := c.send(ctx, ev.Text)
	if err != nil {
		return err
	}
	c.messageIDs[ev.ToolCallID] = newID
	return nil
}

// Flush emits the buffered assistant text. Terminal events call this
// automatically; callers may invoke it when a turn is aborted.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(ctx)
}

func (c *Coordinator) flushLocked(ctx context.Context) error {
	if c.flushed {
		return nil
	}
	c.flushed = true

	content := strings.TrimSpace(c.textBuf.String())
	if content == "" {
		return nil
	}
	visible := StripDirectiveTags(content)
	if visible == "" {
		// Directive-only turns still produce a message object; only the
		// text is blanked so the directives never reach the user.
		_, err := c.send(ctx, "")
		return err
	}
	_, err := c.send(ctx, visible)
	return err
}

func (c *Coordinator) send(ctx context.Context, text string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	msgID, err := c.sender.Send(ctx, c.conversation, text)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", c.conversation, err)
	}
	return msgID, nil
}

// suppressed records the payload hash for key and reports whether it equals
// the previous one.
func (c *Coordinator) suppressed(key, payload string) bool {
	sum := sha256.Sum256([]byte(payload))
	h := hex.EncodeToString(sum[:8])
	if c.lastHash[key] == h {
		return true
	}
	c.lastHash[key] = h
	return false
}

// directiveTagPattern matches routing directives like [[reply_to_current]].
var directiveTagPattern = regexp.MustCompile(`\[\[[a-z0-9_:-]+\]\]`)

// StripDirectiveTags removes directive tags and collapses the remainder.
func StripDirectiveTags(text string) string {
	return strings.TrimSpace(directiveTagPattern.ReplaceAllString(text, ""))
}
