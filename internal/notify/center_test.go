package notify_test

import (
	"context"
	"testing"

	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/store"
)

func TestAppendAndList(t *testing.T) {
	ms := store.NewMemoryStore()
	center := notify.NewCenter(ms, nil)
	ctx := context.Background()

	if _, err := center.Append(ctx, "acc1", "info", "First", "one"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if _, err := center.Append(ctx, "acc1", "success", "Second", "two"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	notifications, err := center.ListFor(ctx, "acc1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifications))
	}
	// Most recent first.
	if notifications[0].Title != "Second" {
		t.Errorf("expected newest first, got %s", notifications[0].Title)
	}
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	ms := store.NewMemoryStore()
	center := notify.NewCenter(ms, nil)
	ctx := context.Background()

	n, err := center.Append(ctx, "acc1", "info", "Hello", "")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	unread, err := center.UnreadCount(ctx, "acc1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread, got %d", unread)
	}

	ok, err := center.MarkRead(ctx, n.ID, "acc1")
	if err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if !ok {
		t.Error("expected mark read to match")
	}

	unread, _ = center.UnreadCount(ctx, "acc1")
	if unread != 0 {
		t.Errorf("expected 0 unread after mark read, got %d", unread)
	}
}

// Marking a foreign or unknown notification is a benign no-op, not an error.
func TestMarkRead_WrongAccount(t *testing.T) {
	ms := store.NewMemoryStore()
	center := notify.NewCenter(ms, nil)
	ctx := context.Background()

	n, err := center.Append(ctx, "acc1", "info", "Hello", "")
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	ok, err := center.MarkRead(ctx, n.ID, "acc2")
	if err != nil {
		t.Fatalf("mark read errored: %v", err)
	}
	if ok {
		t.Error("expected no match for foreign notification")
	}

	unread, _ := center.UnreadCount(ctx, "acc1")
	if unread != 1 {
		t.Errorf("owner's unread count must be untouched, got %d", unread)
	}
}
