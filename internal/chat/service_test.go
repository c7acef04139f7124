package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/smart-doctor/internal/ai"
	"gorm.io/gorm"
)

type recordingCompleter struct {
	last   []ai.Message
	calls  int
	result ai.Result
}

func (c *recordingCompleter) Complete(ctx context.Context, messages []ai.Message) ai.Result {
	_ = ctx
	c.calls++
	// copy to avoid mutations
	c.last = append([]ai.Message(nil), messages...)
	if c.result.Text == "" {
		return ai.Result{Text: "ok", Model: "fake:default"}
	}
	return c.result
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := NewRepo(db).AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestReply_ReturnsAssistantMessageAndLogs(t *testing.T) {
	db := openTestDB(t)
	comp := &recordingCompleter{}
	svc := NewService(NewRepo(db), comp, DefaultPrompt(), 10)

	resp, err := svc.Reply(context.Background(), CompletionRequest{
		Message: Message{ID: "1", Content: "Hello", IsUserMessage: true},
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if resp.Content != "ok" || resp.IsUserMessage || resp.Error {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasSuffix(resp.ID, "_ai_response") {
		t.Fatalf("unexpected response id %q", resp.ID)
	}

	if len(comp.last) != 2 || comp.last[0].Role != ai.RoleSystem || comp.last[1].Role != ai.RoleUser {
		t.Fatalf("unexpected prompt shape: %+v", comp.last)
	}
	if comp.last[1].Content != `"Hello"` {
		t.Fatalf("unexpected user turn %q", comp.last[1].Content)
	}

	var logs []CompletionLog
	if err := db.Find(&logs).Error; err != nil {
		t.Fatalf("query logs: %v", err)
	}
	if len(logs) != 1 || logs[0].ResponseID != resp.ID || logs[0].Model != "fake:default" || logs[0].Fallback {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestReply_RejectsBlankMessage(t *testing.T) {
	comp := &recordingCompleter{}
	svc := NewService(nil, comp, DefaultPrompt(), 10)

	if _, err := svc.Reply(context.Background(), CompletionRequest{Message: Message{ID: "1", Content: "   "}}); err != ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if comp.calls != 0 {
		t.Fatalf("expected no completion call")
	}
}

func TestReply_PassesFallbackFlag(t *testing.T) {
	comp := &recordingCompleter{result: ai.Result{Text: ai.FallbackText, Error: true}}
	svc := NewService(nil, comp, DefaultPrompt(), 10)

	resp, err := svc.Reply(context.Background(), CompletionRequest{Message: Message{ID: "1", Content: "hi", IsUserMessage: true}})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !resp.Error || resp.Content != ai.FallbackText {
		t.Fatalf("expected fallback response, got %+v", resp)
	}
}

func TestReply_UsesContextWindow(t *testing.T) {
	comp := &recordingCompleter{}
	window := 3
	svc := NewService(nil, comp, DefaultPrompt(), window)

	var history []Message
	for i := 0; i < 5; i++ {
		history = append(history, Message{ID: fmt.Sprint(i), Content: fmt.Sprintf("seed-%d", i), IsUserMessage: i%2 == 0})
	}
	history = append(history, Message{ID: "blank", Content: "  "})

	_, err := svc.Reply(context.Background(), CompletionRequest{
		Message: Message{ID: "new", Content: "new question", IsUserMessage: true},
		History: history,
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	turn := comp.last[1].Content
	for _, gone := range []string{"seed-0", "seed-1"} {
		if strings.Contains(turn, gone) {
			t.Fatalf("expected %s outside the window, got %q", gone, turn)
		}
	}
	want := "Previous conversation:\nUser: seed-2\nAssistant: seed-3\nUser: seed-4\n\nCurrent question:\n\"new question\""
	if turn != want {
		t.Fatalf("unexpected user turn:\n%s\nwant:\n%s", turn, want)
	}
}

func TestRunJob_SucceedsOnce(t *testing.T) {
	db := openTestDB(t)
	comp := &recordingCompleter{}
	svc := NewService(NewRepo(db), comp, DefaultPrompt(), 10)
	ctx := context.Background()

	job, created, err := svc.CreateJobOrGetExisting(ctx, CompletionRequest{
		Message: Message{ID: "1", Content: "Hello", IsUserMessage: true},
	}, "key-1")
	if err != nil || !created {
		t.Fatalf("create job: created=%v err=%v", created, err)
	}

	again, created, err := svc.CreateJobOrGetExisting(ctx, CompletionRequest{
		Message: Message{ID: "1", Content: "Hello", IsUserMessage: true},
	}, "key-1")
	if err != nil {
		t.Fatalf("create job again: %v", err)
	}
	if created || again.ID != job.ID {
		t.Fatalf("expected existing job %s, got %s created=%v", job.ID, again.ID, created)
	}

	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("run job: %v", err)
	}
	// redelivery is a no-op
	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("rerun job: %v", err)
	}
	if comp.calls != 1 {
		t.Fatalf("expected 1 completion, got %d", comp.calls)
	}

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded || got.Reply == nil || *got.Reply != "ok" || got.ResponseID == nil {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestPurgeExpired(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db), &recordingCompleter{}, DefaultPrompt(), 10)
	ctx := context.Background()

	job, _, err := svc.CreateJobOrGetExisting(ctx, CompletionRequest{Message: Message{ID: "1", Content: "x", IsUserMessage: true}}, "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("run job: %v", err)
	}
	queued, _, err := svc.CreateJobOrGetExisting(ctx, CompletionRequest{Message: Message{ID: "2", Content: "y", IsUserMessage: true}}, "")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	n, err := svc.PurgeExpired(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	// finished job + its telemetry row
	if n != 2 {
		t.Fatalf("expected 2 purged rows, got %d", n)
	}
	if _, err := svc.GetJob(ctx, queued.ID); err != nil {
		t.Fatalf("queued job should survive purge: %v", err)
	}
}
