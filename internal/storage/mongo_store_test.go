package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"chatkeep/internal/models"
)

func openTestMongo(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping mongo integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "chatkeep_test_" + uuid.NewString()[:8]
	store, err := OpenMongo(ctx, uri, dbName)
	if err != nil {
		t.Fatalf("open mongo: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = store.client.Database(dbName).Drop(ctx)
		_ = store.Close(ctx)
	})
	return store
}

func TestMongoStoreRoundTrip(t *testing.T) {
	store := openTestMongo(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, &models.User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.CreateUser(ctx, &models.User{Username: "alice", Email: "x@example.com", PasswordHash: "x"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := store.GetUserByUsername(ctx, "alice")
	if err != nil || got.ID != user.ID || got.PasswordHash != "hash" {
		t.Fatalf("unexpected user %+v err %v", got, err)
	}

	convID, err := store.CreateConversation(ctx, user.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	now := time.Now()
	if err := store.AppendMessages(ctx, convID, user.ID,
		models.NewMessage(models.SenderUser, "Hi", now),
		models.NewMessage(models.SenderAssistant, "Hello!", now),
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	conv, err := store.GetConversation(ctx, convID, user.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.Messages) != 2 || conv.Messages[1].Text != "Hello!" {
		t.Fatalf("unexpected messages: %+v", conv.Messages)
	}

	list, err := store.ListConversations(ctx, user.ID)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list) != 1 || list[0].LastMessage != "Hello!" {
		t.Fatalf("unexpected summaries: %+v", list)
	}

	if _, err := store.GetConversation(ctx, convID, "someone-else"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
	if _, err := store.GetConversation(ctx, "not-an-object-id", user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}

	if err := store.DeleteConversation(ctx, convID, user.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	if err := store.DeleteConversation(ctx, convID, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMongoStoreOwnership(t *testing.T) {
	store := openTestMongo(t)
	ctx := context.Background()

	convID, err := store.CreateConversation(ctx, "alice-id")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	err = store.AppendMessages(ctx, convID, "bob-id", models.NewMessage(models.SenderUser, "x", time.Now()))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound appending to another user's conversation, got %v", err)
	}
	if err := store.DeleteConversation(ctx, convID, "bob-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another user's conversation, got %v", err)
	}
	list, err := store.ListConversations(ctx, "bob-id")
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("bob should see no conversations, got %+v", list)
	}

	conv, err := store.GetConversation(ctx, convID, "alice-id")
	if err != nil {
		t.Fatalf("owner lost access: %v", err)
	}
	if len(conv.Messages) != 0 {
		t.Fatalf("rejected append leaked messages: %+v", conv.Messages)
	}
}

func TestMongoStoreConcurrentAppends(t *testing.T) {
	store := openTestMongo(t)
	ctx := context.Background()
	convID, err := store.CreateConversation(ctx, "alice-id")
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
			errs <- store.AppendMessages(ctx, convID, "alice-id",
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

	conv, err := store.GetConversation(ctx, convID, "alice-id")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if len(conv.Messages) != 2*turns {
		t.Fatalf("expected %d messages, got %d", 2*turns, len(conv.Messages))
	}
	for i := 0; i < len(conv.Messages); i += 2 {
		q, a := conv.Messages[i], conv.Messages[i+1]
		if q.Sender != models.SenderUser || a.Sender != models.SenderAssistant || q.Text[1:] != a.Text[1:] {
			t.Fatalf("turn split at %d: %+v %+v", i, q, a)
		}
	}
}
