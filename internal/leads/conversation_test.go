package leads

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestConversation(t *testing.T, opts ConversationOptions) *Conversation {
	t.Helper()
	if opts.PropertyID == "" {
		opts.PropertyID = "p1"
	}
	conv, err := NewConversation(opts)
	if err != nil {
		t.Fatalf("new conversation failed: %v", err)
	}
	return conv
}

func TestRefreshMessagesDiscardsStaleResult(t *testing.T) {
	old := []ConversationMessage{{ID: "m1", Message: "old", Timestamp: "2025-06-01T10:00:00Z"}}
	fresh := []ConversationMessage{
		{ID: "m1", Message: "old", Timestamp: "2025-06-01T10:00:00Z"},
		{ID: "m2", Message: "new", Timestamp: "2025-06-01T10:05:00Z"},
	}

	firstEntered := make(chan struct{})
	firstRelease := make(chan struct{})
	var calls int32
	conv := newTestConversation(t, ConversationOptions{
		Messages: func(ctx context.Context, propertyID string) ([]ConversationMessage, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(firstEntered)
				<-firstRelease
				return old, nil
			}
			return fresh, nil
		},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = conv.RefreshMessages(context.Background())
	}()
	<-firstEntered

	// A newer request resolves while the first is still in flight.
	if err := conv.RefreshMessages(context.Background()); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	close(firstRelease)
	wg.Wait()

	messages := conv.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected the stale first response to be dropped, got %+v", messages)
	}
}

func TestSendReplyBlankIsANoOp(t *testing.T) {
	conv := newTestConversation(t, ConversationOptions{
		Messages: func(ctx context.Context, propertyID string) ([]ConversationMessage, error) {
			return nil, nil
		},
		Reply: func(ctx context.Context, propertyID, message string) error {
			t.Fatalf("blank reply must not reach the backend")
			return nil
		},
	})
	if err := conv.SendReply(context.Background(), "   "); err != nil {
		t.Fatalf("blank reply should succeed silently: %v", err)
	}
}

func TestSendReplyFailurePreservesDraft(t *testing.T) {
	sendErr := errors.New("backend refused")
	var fail atomic.Bool
	fail.Store(true)
	var refreshes int32
	conv := newTestConversation(t, ConversationOptions{
		Messages: func(ctx context.Context, propertyID string) ([]ConversationMessage, error) {
			atomic.AddInt32(&refreshes, 1)
			return []ConversationMessage{{ID: "m1", Message: "hi", Timestamp: "2025-06-01T10:00:00Z"}}, nil
		},
		Reply: func(ctx context.Context, propertyID, message string) error {
			if fail.Load() {
				return sendErr
			}
			return nil
		},
	})

	if err := conv.SendReply(context.Background(), "hello there"); !errors.Is(err, sendErr) {
		t.Fatalf("expected the reply error surfaced, got %v", err)
	}
	if conv.Draft() != "hello there" {
		t.Fatalf("expected the draft preserved, got %q", conv.Draft())
	}
	if conv.SendError() == nil {
		t.Fatalf("expected the send error recorded")
	}
	if n := atomic.LoadInt32(&refreshes); n != 0 {
		t.Fatalf("a failed reply must not refresh the stream, saw %d", n)
	}

	fail.Store(false)
	if err := conv.SendReply(context.Background(), "hello there"); err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if conv.Draft() != "" {
		t.Fatalf("expected the draft cleared after success, got %q", conv.Draft())
	}
	if conv.SendError() != nil {
		t.Fatalf("expected the send error cleared, got %v", conv.SendError())
	}
	if n := atomic.LoadInt32(&refreshes); n != 1 {
		t.Fatalf("expected one post-send refresh, saw %d", n)
	}
}

func TestSendReplySuccessNotifiesCollaborator(t *testing.T) {
	var notified int32
	conv := newTestConversation(t, ConversationOptions{
		Messages: func(ctx context.Context, propertyID string) ([]ConversationMessage, error) {
			return nil, nil
		},
		Reply: func(ctx context.Context, propertyID, message string) error {
			return nil
		},
		Notify: func() { atomic.AddInt32(&notified, 1) },
	})
	if err := conv.SendReply(context.Background(), "ping"); err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if n := atomic.LoadInt32(&notified); n != 1 {
		t.Fatalf("expected one collaborator notification, saw %d", n)
	}
}

func TestOpenMarksReadOnceAndNotifies(t *testing.T) {
	var marks int32
	notified := make(chan struct{}, 4)
	conv := newTestConversation(t, ConversationOptions{
		Messages: func(ctx context.Context, propertyID string) ([]ConversationMessage, error) {
			return nil, nil
		},
		MarkRead: func(ctx context.Context, propertyID string) error {
			atomic.AddInt32(&marks, 1)
			return nil
		},
		Notify: func() { notified <- struct{}{} },
	})

	conv.Open(context.Background())
	conv.Open(context.Background())

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatalf("expected a notification after the mark-read side effect")
	}
	if n := atomic.LoadInt32(&marks); n != 1 {
		t.Fatalf("expected mark-read to fire once, saw %d", n)
	}
}

func TestMessagesSortedOldestFirst(t *testing.T) {
	conv := newTestConversation(t, ConversationOptions{
		Messages: func(ctx context.Context, propertyID string) ([]ConversationMessage, error) {
			return []ConversationMessage{
				{ID: "m2", Timestamp: "2025-06-01T10:05:00Z"},
				{ID: "m1", Timestamp: "2025-06-01T10:00:00Z"},
				{ID: "m3", Timestamp: "garbled"},
			}, nil
		},
	})
	if err := conv.RefreshMessages(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	messages := conv.Messages()
	if len(messages) != 3 || messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("expected chronological order, got %+v", messages)
	}
}

func TestConversationPollErrorDoesNotClearMessages(t *testing.T) {
	var fail atomic.Bool
	conv := newTestConversation(t, ConversationOptions{
		Messages: func(ctx context.Context, propertyID string) ([]ConversationMessage, error) {
			if fail.Load() {
				return nil, errors.New("poll failed")
			}
			return []ConversationMessage{{ID: "m1", Timestamp: "2025-06-01T10:00:00Z"}}, nil
		},
	})
	if err := conv.RefreshMessages(context.Background()); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}
	fail.Store(true)
	if err := conv.RefreshMessages(context.Background()); err == nil {
		t.Fatalf("expected poll error")
	}
	if len(conv.Messages()) != 1 {
		t.Fatalf("a failed poll must retain the last good stream")
	}
	if conv.PollError() == nil {
		t.Fatalf("expected poll error recorded")
	}
}
