package leads

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type MessagesFunc func(ctx context.Context, propertyID string) ([]ConversationMessage, error)
type ReplyFunc func(ctx context.Context, propertyID, message string) error
type MarkReadFunc func(ctx context.Context, propertyID string) error

type ConversationOptions struct {
	PropertyID string
	Messages   MessagesFunc
	Reply      ReplyFunc
	MarkRead   MarkReadFunc
	Interval   time.Duration
	Logger     Logger
	// Notify asks the lead-list collaborator to refresh, keeping unread
	// badges and summary excerpts consistent.
	Notify func()
}

// Conversation keeps one lead's message stream synchronized. Poll results
// are applied in issue order: a slower earlier poll that resolves after a
// newer one is discarded rather than overwriting fresher data.
type Conversation struct {
	propertyID string
	fetch      MessagesFunc
	reply      ReplyFunc
	markRead   MarkReadFunc
	notify     func()
	interval   time.Duration
	logger     Logger

	mu         sync.Mutex
	messages   []ConversationMessage
	issueSeq   uint64
	appliedSeq uint64
	draft      string
	sendErr    error
	pollErr    error

	markOnce sync.Once
}

func NewConversation(opts ConversationOptions) (*Conversation, error) {
	if strings.TrimSpace(opts.PropertyID) == "" {
		return nil, fmt.Errorf("property id is required")
	}
	if opts.Messages == nil {
		return nil, fmt.Errorf("messages func is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Conversation{
		propertyID: opts.PropertyID,
		fetch:      opts.Messages,
		reply:      opts.Reply,
		markRead:   opts.MarkRead,
		notify:     opts.Notify,
		interval:   interval,
		logger:     opts.Logger,
	}, nil
}

// Open fires the one-time mark-read side effect. It is best-effort and
// fire-and-forget: whatever the outcome, the lead-list collaborator is
// asked to refresh once the call completes.
func (c *Conversation) Open(ctx context.Context) {
	c.markOnce.Do(func() {
		go func() {
			if c.markRead != nil {
				if err := c.markRead(ctx, c.propertyID); err != nil {
					c.logf("mark-read for %s failed: %v", c.propertyID, err)
				}
			}
			if c.notify != nil {
				c.notify()
			}
		}()
	})
}

// Run polls the message stream on the configured interval until the
// context is cancelled.
func (c *Conversation) Run(ctx context.Context) {
	_ = c.RefreshMessages(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.RefreshMessages(ctx)
		}
	}
}

// RefreshMessages fetches the stream once. Only the most recently issued
// request that has resolved is applied; a late-arriving earlier response is
// dropped.
func (c *Conversation) RefreshMessages(ctx context.Context) error {
	c.mu.Lock()
	c.issueSeq++
	seq := c.issueSeq
	c.mu.Unlock()

	messages, err := c.fetch(ctx, c.propertyID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.appliedSeq {
		// A newer request already landed; this result is stale.
		return nil
	}
	c.appliedSeq = seq
	if err != nil {
		c.pollErr = err
		return err
	}
	c.pollErr = nil
	c.messages = sortMessages(messages)
	return nil
}

// SendReply sends a manual reply. Blank input is a no-op. On failure the
// draft is preserved for resubmission and the message list is untouched;
// on success the draft clears and both the stream and the lead list are
// re-synced.
func (c *Conversation) SendReply(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.reply == nil {
		return fmt.Errorf("reply func is not configured")
	}
	c.mu.Lock()
	c.sendErr = nil
	c.mu.Unlock()

	if err := c.reply(ctx, c.propertyID, text); err != nil {
		c.mu.Lock()
		c.draft = text
		c.sendErr = err
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()
	_ = c.RefreshMessages(ctx)
	if c.notify != nil {
		c.notify()
	}
	return nil
}

// Messages returns the current stream, oldest to newest.
func (c *Conversation) Messages() []ConversationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConversationMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Draft returns the preserved text of a failed reply, if any.
func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SendError returns the error of the most recent failed reply.
func (c *Conversation) SendError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendErr
}

// PollError returns the error of the most recently applied failed poll.
func (c *Conversation) PollError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollErr
}

// sortMessages orders oldest to newest by timestamp; server arrival order
// breaks ties and decides placement of unparseable timestamps.
func sortMessages(messages []ConversationMessage) []ConversationMessage {
	sorted := make([]ConversationMessage, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, iOK := ParseInstant(sorted[i].Timestamp)
		tj, jOK := ParseInstant(sorted[j].Timestamp)
		if !iOK || !jOK {
			return false
		}
		return ti.Before(tj)
	})
	return sorted
}

func (c *Conversation) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
