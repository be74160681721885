package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codebuildervaibhav/speaker-separator/internal/types"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func sampleConversation(id, fp string) *types.Conversation {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Conversation{
		ID:          id,
		Fingerprint: fp,
		Filename:    "meeting.wav",
		Format:      "wav",
		Duration:    9.5,
		Speakers:    2,
		Turns:       2,
		ProcessedAt: now,
		LastViewed:  now,
		StoragePath: id,
	}
}

func sampleTurns(convID string) []types.Turn {
	return []types.Turn{
		{ID: "t-1", ConversationID: convID, Number: 1, Speaker: "A", Text: "hello", StartMs: 0, EndMs: 4000, AudioPath: convID + "/segments/a_001.wav"},
		{ID: "t-2", ConversationID: convID, Number: 2, Speaker: "B", Text: "hi there", StartMs: 4000, EndMs: 9500, AudioPath: convID + "/segments/b_002.wav"},
	}
}

func TestNewDBCreatesParentDir(t *testing.T) {
	// Fresh deployment: nothing has created the data directory yet.
	dbPath := filepath.Join(t.TempDir(), "data", "conversations.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB under missing directory: %v", err)
	}
	defer db.Close()

	if err := db.SaveConversation(sampleConversation("conv-1", "fp-1"), nil); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestSaveAndFindByFingerprint(t *testing.T) {
	db := newTestDB(t)

	conv := sampleConversation("conv-1", "fp-1")
	if err := db.SaveConversation(conv, sampleTurns("conv-1")); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	found, err := db.FindByFingerprint("fp-1")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if found.ID != "conv-1" {
		t.Errorf("id = %q, want conv-1", found.ID)
	}
	if found.Turns != 2 {
		t.Errorf("turns = %d, want 2", found.Turns)
	}

	if _, err := db.FindByFingerprint("fp-other"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing fingerprint error = %v, want ErrNotFound", err)
	}
}

func TestDuplicateFingerprintRejected(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveConversation(sampleConversation("conv-1", "fp-1"), nil); err != nil {
		t.Fatalf("first save: %v", err)
	}

	err := db.SaveConversation(sampleConversation("conv-2", "fp-1"), sampleTurns("conv-2"))
	if !errors.Is(err, types.ErrDuplicateFingerprint) {
		t.Fatalf("second save error = %v, want ErrDuplicateFingerprint", err)
	}

	// The failed save must not leave turn rows behind.
	turns, err := db.ListTurns("conv-2")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("got %d orphan turns after rejected save, want 0", len(turns))
	}
}

func TestSaveIsTransactional(t *testing.T) {
	db := newTestDB(t)

	// Duplicate turn numbers violate the per-conversation unique constraint;
	// the whole save must roll back, conversation row included.
	turns := sampleTurns("conv-1")
	turns[1].Number = 1

	err := db.SaveConversation(sampleConversation("conv-1", "fp-1"), turns)
	if err == nil {
		t.Fatal("expected error from duplicate turn number")
	}

	if _, err := db.GetConversation("conv-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("conversation row survived a failed save: err = %v", err)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	db := newTestDB(t)

	older := sampleConversation("conv-old", "fp-old")
	older.ProcessedAt = time.Now().Add(-time.Hour)
	newer := sampleConversation("conv-new", "fp-new")

	if err := db.SaveConversation(older, nil); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := db.SaveConversation(newer, nil); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	list, err := db.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d conversations, want 2", len(list))
	}
	if list[0].ID != "conv-new" || list[1].ID != "conv-old" {
		t.Errorf("order = [%s, %s], want [conv-new, conv-old]", list[0].ID, list[1].ID)
	}
}

func TestListTurnsOrdered(t *testing.T) {
	db := newTestDB(t)

	turns := []types.Turn{
		{ID: "t-2", ConversationID: "conv-1", Number: 2, Speaker: "B", Text: "second", StartMs: 4000, EndMs: 9500, AudioPath: "p2"},
		{ID: "t-1", ConversationID: "conv-1", Number: 1, Speaker: "A", Text: "first", StartMs: 0, EndMs: 4000, AudioPath: "p1"},
		{ID: "t-3", ConversationID: "conv-1", Number: 3, Speaker: "A", Text: "third", StartMs: 9500, EndMs: 9900, AudioPath: "p3"},
	}
	if err := db.SaveConversation(sampleConversation("conv-1", "fp-1"), turns); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	got, err := db.ListTurns("conv-1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d turns, want 3", len(got))
	}
	for i, turn := range got {
		if turn.Number != i+1 {
			t.Errorf("turns[%d].Number = %d, want %d", i, turn.Number, i+1)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartMs < got[i-1].StartMs {
			t.Errorf("start_ms not non-decreasing at turn %d", got[i].Number)
		}
	}
}

func TestTouchLastViewed(t *testing.T) {
	db := newTestDB(t)

	conv := sampleConversation("conv-1", "fp-1")
	if err := db.SaveConversation(conv, nil); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := db.TouchLastViewed("conv-1", later); err != nil {
		t.Fatalf("TouchLastViewed: %v", err)
	}

	got, err := db.GetConversation("conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if !got.LastViewed.Equal(later) {
		t.Errorf("last_viewed = %v, want %v", got.LastViewed, later)
	}
	if !got.ProcessedAt.Equal(conv.ProcessedAt) {
		t.Errorf("processed_at changed: %v, want %v", got.ProcessedAt, conv.ProcessedAt)
	}

	if err := db.TouchLastViewed("no-such-id", later); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("touch on missing id error = %v, want ErrNotFound", err)
	}
}

func TestDeleteConversation(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveConversation(sampleConversation("conv-1", "fp-1"), sampleTurns("conv-1")); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	if err := db.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	if _, err := db.GetConversation("conv-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("get after delete error = %v, want ErrNotFound", err)
	}
	turns, err := db.ListTurns("conv-1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("got %d turns after delete, want 0", len(turns))
	}

	if err := db.DeleteConversation("conv-1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}
}

func TestFingerprintReusableAfterDelete(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveConversation(sampleConversation("conv-1", "fp-1"), nil); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := db.DeleteConversation("conv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Uniqueness only blocks while a matching row exists.
	if err := db.SaveConversation(sampleConversation("conv-2", "fp-1"), nil); err != nil {
		t.Fatalf("save after delete: %v", err)
	}

	found, err := db.FindByFingerprint("fp-1")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if found.ID != "conv-2" {
		t.Errorf("id = %q, want conv-2", found.ID)
	}
}

func TestCountAndIDs(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveConversation(sampleConversation("conv-1", "fp-1"), nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := db.SaveConversation(sampleConversation("conv-2", "fp-2"), nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	count, err := db.CountConversations()
	if err != nil {
		t.Fatalf("CountConversations: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	ids, err := db.ConversationIDs()
	if err != nil {
		t.Fatalf("ConversationIDs: %v", err)
	}
	if !ids["conv-1"] || !ids["conv-2"] {
		t.Errorf("ids = %v, want conv-1 and conv-2", ids)
	}
}
