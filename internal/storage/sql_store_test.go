package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatkeep/internal/config"
	"chatkeep/internal/models"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, err := Open(context.Background(), config.StoreConfig{Driver: config.DriverSQLite, URI: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })
	return store
}

func createTestUser(t *testing.T, store Store, username string) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func TestSQLStoreCreateUser(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, store, "alice")
	if user.ID == "" {
		t.Fatalf("expected id to be assigned")
	}

	got, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.ID != user.ID || got.PasswordHash != "hash" || got.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", got)
	}

	_, err = store.CreateUser(ctx, &models.User{Username: "alice", Email: "other@example.com", PasswordHash: "x"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if _, err := store.GetUserByUsername(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestSQLStoreAppendKeepsOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, store, "alice")

	convID, err := store.CreateConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	empty, err := store.GetConversation(ctx, convID, user.ID)
	if err != nil {
		t.Fatalf("get empty conversation: %v", err)
	}
	if empty.Messages == nil || len(empty.Messages) != 0 {
		t.Fatalf("expected empty non-nil messages, got %#v", empty.Messages)
	}

	now := time.Now()
	if err := store.AppendMessages(ctx, convID, user.ID,
		models.NewMessage(models.SenderUser, "Hi", now),
		models.NewMessage(models.SenderAssistant, "Hello!", now.Add(time.Millisecond)),
	); err != nil {
		t.Fatalf("append first turn: %v", err)
	}
	if err := store.AppendMessages(ctx, convID, user.ID,
		models.NewMessage(models.SenderUser, "How are you?", now.Add(2*time.Millisecond)),
		models.NewMessage(models.SenderAssistant, "Fine.", now.Add(3*time.Millisecond)),
	); err != nil {
		t.Fatalf("append second turn: %v", err)
	}

	conv, err := store.GetConversation(ctx, convID, user.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	want := []string{"Hi", "Hello!", "How are you?", "Fine."}
	if len(conv.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(conv.Messages))
	}
	for i, text := range want {
		if conv.Messages[i].Text != text {
			t.Fatalf("message %d: want %q got %q", i, text, conv.Messages[i].Text)
		}
	}
	if conv.Messages[0].Sender != models.SenderUser || conv.Messages[1].Sender != models.SenderAssistant {
		t.Fatalf("unexpected senders: %+v", conv.Messages[:2])
	}
	if conv.Messages[0].Timestamp > conv.Messages[1].Timestamp {
		t.Fatalf("timestamps out of order: %+v", conv.Messages[:2])
	}
}

func TestSQLStoreConcurrentAppends(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, store, "alice")
	convID, err := store.CreateConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	const turns = 20
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now()
			errs <- store.AppendMessages(ctx, convID, user.ID,
				models.NewMessage(models.SenderUser, fmt.Sprintf("q%d", i), now),
				models.NewMessage(models.SenderAssistant, fmt.Sprintf("a%d", i), now),
			)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	conv, err := store.GetConversation(ctx, convID, user.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.Messages) != 2*turns {
		t.Fatalf("expected %d messages, got %d", 2*turns, len(conv.Messages))
	}
	// Each turn lands as an adjacent user/assistant pair.
	for i := 0; i < len(conv.Messages); i += 2 {
		q, a := conv.Messages[i], conv.Messages[i+1]
		if q.Sender != models.SenderUser || a.Sender != models.SenderAssistant || q.Text[1:] != a.Text[1:] {
			t.Fatalf("turn split at %d: %+v %+v", i, q, a)
		}
	}
}

func TestSQLStoreOwnership(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	convID, err := store.CreateConversation(ctx, alice.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := store.GetConversation(ctx, convID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound reading another user's conversation, got %v", err)
	}
	err = store.AppendMessages(ctx, convID, bob.ID, models.NewMessage(models.SenderUser, "x", time.Now()))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound appending to another user's conversation, got %v", err)
	}
	if err := store.DeleteConversation(ctx, convID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another user's conversation, got %v", err)
	}
	if _, err := store.GetConversation(ctx, "missing", alice.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}

	list, err := store.ListConversations(ctx, bob.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("bob should see no conversations, got %+v", list)
	}

	conv, err := store.GetConversation(ctx, convID, alice.ID)
	if err != nil {
		t.Fatalf("owner lost access: %v", err)
	}
	if len(conv.Messages) != 0 {
		t.Fatalf("rejected append leaked messages: %+v", conv.Messages)
	}
}

func TestSQLStoreListConversations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, store, "alice")

	emptyID, err := store.CreateConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	activeID, err := store.CreateConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	last := models.NewMessage(models.SenderAssistant, "latest reply", time.Now())
	if err := store.AppendMessages(ctx, activeID, user.ID,
		models.NewMessage(models.SenderUser, "question", time.Now()),
		last,
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	list, err := store.ListConversations(ctx, user.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(list))
	}
	if list[0].ConversationID != activeID {
		t.Fatalf("expected most recently updated first, got %+v", list)
	}
	if list[0].LastMessage != "latest reply" || list[0].Timestamp != last.Timestamp {
		t.Fatalf("unexpected active summary: %+v", list[0])
	}
	if list[1].ConversationID != emptyID || list[1].LastMessage != "" || list[1].Timestamp != 0 {
		t.Fatalf("unexpected empty summary: %+v", list[1])
	}
}

func TestSQLStoreDeleteConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, store, "alice")

	convID, err := store.CreateConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if err := store.AppendMessages(ctx, convID, user.ID, models.NewMessage(models.SenderUser, "bye", time.Now())); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.DeleteConversation(ctx, convID, user.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	if _, err := store.GetConversation(ctx, convID, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteConversation(ctx, convID, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	sqlStore := store.(*SQLStore)
	var remaining int
	if err := sqlStore.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, convID).Scan(&remaining); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected messages to be removed, %d left", remaining)
	}
}
