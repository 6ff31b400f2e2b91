package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "anteroom.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec, err := store.CreateMessage(ctx, "conv-1", "user", "hello", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("missing id")
	}
	if rec.ConversationID != "conv-1" || rec.Role != "user" || rec.Content != "hello" || rec.User != "alice" {
		t.Fatalf("record = %+v", rec)
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, "conv-1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("rows = %d", count)
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msg, err := store.CreateMessage(ctx, "conv-1", "assistant", "", "")
	if err != nil {
		t.Fatal(err)
	}

	tc, err := store.CreateToolCall(ctx, msg.ID, "bash", "", `{"command":"ls"}`, "call_1")
	if err != nil {
		t.Fatal(err)
	}
	if tc.Status != "pending" {
		t.Fatalf("status = %q", tc.Status)
	}

	if err := store.UpdateToolCall(ctx, tc.ID, `{"exit_code":0}`, "success"); err != nil {
		t.Fatal(err)
	}

	var output, status string
	if err := store.db.QueryRow(`SELECT output, status FROM tool_calls WHERE id = ?`, tc.ID).Scan(&output, &status); err != nil {
		t.Fatal(err)
	}
	if output != `{"exit_code":0}` || status != "success" {
		t.Fatalf("output = %q status = %q", output, status)
	}
}

func TestUpdateToolCallUnknownID(t *testing.T) {
	store := openTestStore(t)

	err := store.UpdateToolCall(context.Background(), "nope", "", "success")
	if err == nil {
		t.Fatal("expected error for unknown tool call")
	}
}

func TestOpenSQLiteReusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anteroom.db")
	ctx := context.Background()

	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.CreateMessage(ctx, "conv-1", "user", "persisted", ""); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	var content string
	if err := second.db.QueryRow(`SELECT content FROM messages WHERE conversation_id = ?`, "conv-1").Scan(&content); err != nil {
		t.Fatal(err)
	}
	if content != "persisted" {
		t.Fatalf("content = %q", content)
	}
}
