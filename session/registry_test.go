package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/richinex/chronicle/llm"
)

func userMessages(n int) []llm.ChatMessage {
	msgs := make([]llm.ChatMessage, n)
	for i := range msgs {
		msgs[i] = llm.UserMessage(fmt.Sprintf("msg-%d", i))
	}
	return msgs
}

func TestTrim(t *testing.T) {
	tests := []struct {
		name  string
		count int
		max   int
		want  int
		first string
	}{
		{"under bound", 3, 5, 3, "msg-0"},
		{"at bound", 5, 5, 5, "msg-0"},
		{"over bound", 8, 5, 5, "msg-3"},
		{"zero disables", 8, 0, 8, "msg-0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trim(userMessages(tt.count), tt.max)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			if got[0].Text() != tt.first {
				t.Errorf("first = %q, want %q", got[0].Text(), tt.first)
			}
			if got[len(got)-1].Text() != fmt.Sprintf("msg-%d", tt.count-1) {
				t.Errorf("newest message was dropped: %q", got[len(got)-1].Text())
			}
		})
	}
}

func TestRegistry_GetCreatesEmptySession(t *testing.T) {
	r := NewRegistry()

	s, err := r.Get(t.Context(), "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if s.ID != "s1" || len(s.Messages) != 0 {
		t.Errorf("unexpected session: %+v", s)
	}
	if s.MaxHistory != DefaultMaxHistory {
		t.Errorf("MaxHistory = %d, want %d", s.MaxHistory, DefaultMaxHistory)
	}
	if s.CompletedAt != nil {
		t.Error("new session should not be completed")
	}
	if !r.Has("s1") {
		t.Error("Get should register the session")
	}
}

func TestRegistry_AppendTrimsOldestFirst(t *testing.T) {
	r := NewRegistry(WithMaxHistory(20))
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		msgs := userMessages(10)
		for j := range msgs {
			msgs[j] = llm.UserMessage(fmt.Sprintf("run%d-%d", i, j))
		}
		s, err := r.Append(ctx, "s1", "files", msgs...)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if len(s.Messages) > 20 {
			t.Fatalf("history exceeds bound: %d", len(s.Messages))
		}
	}

	s, _ := r.Get(ctx, "s1")
	if len(s.Messages) != 20 {
		t.Fatalf("len = %d, want 20", len(s.Messages))
	}
	if s.Messages[0].Text() != "run1-0" {
		t.Errorf("oldest retained = %q, want run1-0", s.Messages[0].Text())
	}
	if s.Messages[19].Text() != "run2-9" {
		t.Errorf("newest = %q, want run2-9", s.Messages[19].Text())
	}
	if s.AgentKey != "files" {
		t.Errorf("AgentKey = %q, want files", s.AgentKey)
	}
}

func TestRegistry_SnapshotsAreIndependent(t *testing.T) {
	r := NewRegistry()
	ctx := t.Context()

	s, _ := r.Append(ctx, "s1", "a", llm.UserMessage("one"))
	s.Messages[0] = llm.UserMessage("mutated")
	s.Messages = append(s.Messages, llm.UserMessage("extra"))

	fresh, _ := r.Get(ctx, "s1")
	if len(fresh.Messages) != 1 || fresh.Messages[0].Text() != "one" {
		t.Errorf("registry state changed through snapshot: %+v", fresh.Messages)
	}
}

func TestRegistry_MarkCompleted(t *testing.T) {
	r := NewRegistry()
	ctx := t.Context()
	at := time.Now()

	if err := r.MarkCompleted(ctx, "s1", at); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	s, _ := r.Get(ctx, "s1")
	if s.CompletedAt == nil || !s.CompletedAt.Equal(at) {
		t.Errorf("CompletedAt = %v, want %v", s.CompletedAt, at)
	}
}

func TestRegistry_ClearIsIdempotent(t *testing.T) {
	r := NewRegistry()
	ctx := t.Context()

	r.Append(ctx, "s1", "a", llm.UserMessage("hi"))
	r.Append(ctx, "s2", "a", llm.UserMessage("hi"))

	if err := r.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := r.Clear(ctx, "s1"); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if err := r.Clear(ctx, "never-existed"); err != nil {
		t.Fatalf("Clear of unknown id failed: %v", err)
	}

	if ids := r.IDs(); len(ids) != 1 || ids[0] != "s2" {
		t.Errorf("IDs = %v, want [s2]", ids)
	}

	s, _ := r.Get(ctx, "s1")
	if len(s.Messages) != 0 {
		t.Errorf("cleared session should come back empty, got %d messages", len(s.Messages))
	}
}

func TestRegistry_ConcurrentAppend(t *testing.T) {
	r := NewRegistry(WithMaxHistory(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := r.Append(ctx, "shared", "a", llm.UserMessage(fmt.Sprintf("%d-%d", i, j))); err != nil {
					t.Errorf("Append failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	s, _ := r.Get(ctx, "shared")
	if len(s.Messages) != 200 {
		t.Errorf("len = %d, want 200", len(s.Messages))
	}
}

func TestRegistry_WithStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := t.Context()

	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}

	r := NewRegistry(WithStore(store), WithMaxHistory(4))
	r.Append(ctx, "s1", "files",
		llm.UserMessage("list"),
		llm.AssistantToolMessage("", []llm.ToolCall{{ID: "c1", Name: "list_files", Arguments: []byte(`{"path":"."}`)}}),
		llm.ToolResultMessage([]llm.ToolResult{{CallID: "c1", Name: "list_files", Content: "a.txt"}}),
		llm.AssistantMessage("one file"),
	)
	r.MarkCompleted(ctx, "s1", time.Now())
	store.Close()

	store, err = OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	r = NewRegistry(WithStore(store), WithMaxHistory(4))
	s, err := r.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(s.Messages) != 4 {
		t.Fatalf("len = %d, want 4", len(s.Messages))
	}
	if s.AgentKey != "files" || s.CompletedAt == nil {
		t.Errorf("metadata not restored: %+v", s)
	}
	calls := s.Messages[1].ToolCalls()
	if len(calls) != 1 || calls[0].ID != "c1" || string(calls[0].Arguments) != `{"path":"."}` {
		t.Errorf("tool call not restored: %+v", calls)
	}
	results := s.Messages[2].ToolResults()
	if len(results) != 1 || results[0].CallID != "c1" {
		t.Errorf("tool result not restored: %+v", results)
	}

	if err := r.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, found, _ := store.Load(ctx, "s1"); found {
		t.Error("Clear should delete the stored session")
	}
}

// blockingStore holds Save for one session id until release is closed.
type blockingStore struct {
	Store
	blockID string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Save(ctx context.Context, s Session) error {
	if s.ID == b.blockID {
		close(b.entered)
		<-b.release
	}
	return b.Store.Save(ctx, s)
}

func TestRegistry_SlowSaveDoesNotBlockOtherSessions(t *testing.T) {
	ctx := t.Context()
	store := &blockingStore{
		Store:   newTestStore(t),
		blockID: "slow",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewRegistry(WithStore(store))

	slowDone := make(chan error, 1)
	go func() {
		_, err := r.Append(ctx, "slow", "files", userMessages(1)...)
		slowDone <- err
	}()
	<-store.entered

	fastDone := make(chan error, 1)
	go func() {
		_, err := r.Append(ctx, "fast", "files", userMessages(2)...)
		fastDone <- err
	}()

	select {
	case err := <-fastDone:
		if err != nil {
			t.Fatalf("Append on fast session failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(store.release)
		t.Fatal("Append on another session waited for a pending save")
	}
	if !r.Has("slow") || len(r.IDs()) != 2 {
		t.Errorf("IDs = %v, want both sessions listed during the save", r.IDs())
	}

	close(store.release)
	if err := <-slowDone; err != nil {
		t.Fatalf("Append on slow session failed: %v", err)
	}

	s, err := r.Get(ctx, "slow")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(s.Messages) != 1 {
		t.Errorf("slow session len = %d, want 1", len(s.Messages))
	}
}

func TestRegistry_ClearWaitsForPendingSave(t *testing.T) {
	ctx := t.Context()
	inner := newTestStore(t)
	store := &blockingStore{
		Store:   inner,
		blockID: "s1",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewRegistry(WithStore(store))

	appendDone := make(chan error, 1)
	go func() {
		_, err := r.Append(ctx, "s1", "files", userMessages(1)...)
		appendDone <- err
	}()
	<-store.entered

	clearDone := make(chan error, 1)
	go func() { clearDone <- r.Clear(ctx, "s1") }()

	close(store.release)
	if err := <-appendDone; err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := <-clearDone; err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if r.Has("s1") {
		t.Error("cleared session still held in memory")
	}
	if _, found, _ := inner.Load(ctx, "s1"); found {
		t.Error("save finished after Clear and left the session stored")
	}
}
