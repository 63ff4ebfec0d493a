package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "brain.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func boolPtr(b bool) *bool { return &b }

func TestTasksScopedByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, Task{UserID: "u1", Title: "buy milk"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTask(ctx, Task{UserID: "u1", Title: "send report", Completed: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTask(ctx, Task{UserID: "u2", Title: "other user"}); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.ListTasks(ctx, "u1", TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
	for _, task := range tasks {
		if task.UserID != "u1" {
			t.Fatalf("leaked task for user %q", task.UserID)
		}
	}

	open, err := s.ListTasks(ctx, "u1", TaskFilter{Completed: boolPtr(false)})
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].Title != "buy milk" {
		t.Fatalf("open tasks = %+v", open)
	}
}

func TestTaskLimitAndIDAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		created, err := s.CreateTask(ctx, Task{UserID: "u1", Title: "t"})
		if err != nil {
			t.Fatal(err)
		}
		if created.ID == "" {
			t.Fatal("expected assigned id")
		}
		if created.CreatedAt.IsZero() {
			t.Fatal("expected assigned created_at")
		}
	}

	tasks, err := s.ListTasks(ctx, "u1", TaskFilter{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(tasks))
	}
}

func TestTaskDueRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.CreateTask(ctx, Task{UserID: "u1", Title: "with due", Due: &due}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTask(ctx, Task{UserID: "u1", Title: "no due"}); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.ListTasks(ctx, "u1", TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	var withDue, withoutDue *Task
	for i := range tasks {
		if tasks[i].Title == "with due" {
			withDue = &tasks[i]
		} else {
			withoutDue = &tasks[i]
		}
	}
	if withDue == nil || withDue.Due == nil || !withDue.Due.Equal(due) {
		t.Fatalf("due task = %+v", withDue)
	}
	if withoutDue == nil || withoutDue.Due != nil {
		t.Fatalf("no-due task = %+v", withoutDue)
	}
}

func TestNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateNote(ctx, Note{UserID: "u1", Title: "idea", Content: "build a relay"})
	if err != nil {
		t.Fatal(err)
	}
	if created.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at")
	}

	notes, err := s.ListNotes(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Content != "build a relay" {
		t.Fatalf("notes = %+v", notes)
	}

	other, err := s.ListNotes(ctx, "u2", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Fatalf("u2 notes = %+v", other)
	}
}

func TestEventsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{-24 * time.Hour, 2 * time.Hour, 48 * time.Hour, 10 * 24 * time.Hour} {
		if _, err := s.CreateEvent(ctx, CalendarEvent{UserID: "u1", Title: "e", StartsAt: base.Add(offset)}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.ListEvents(ctx, "u1", base, base.Add(7*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if !events[0].StartsAt.Before(events[1].StartsAt) {
		t.Fatal("events not ordered by start time")
	}
}

func TestCRMRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contact, err := s.CreateContact(ctx, Contact{UserID: "u1", Name: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if contact.ID == "" {
		t.Fatal("expected contact id")
	}

	company, err := s.CreateCompany(ctx, Company{UserID: "u1", Name: "Acme", Industry: "tools"})
	if err != nil {
		t.Fatal(err)
	}
	if company.ID == "" {
		t.Fatal("expected company id")
	}

	deal, err := s.CreateDeal(ctx, Deal{UserID: "u1", Title: "Acme renewal", Amount: 1200.50, Stage: "proposal"})
	if err != nil {
		t.Fatal(err)
	}
	if deal.ID == "" {
		t.Fatal("expected deal id")
	}
}

func TestMemoryChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateMemoryChunk(ctx, MemoryChunk{UserID: "u1", Text: "first", SourceType: "note", SourceID: "n1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateMemoryChunk(ctx, MemoryChunk{UserID: "u1", Text: "second", SourceType: "thought"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateMemoryChunk(ctx, MemoryChunk{UserID: "u2", Text: "foreign"}); err != nil {
		t.Fatal(err)
	}

	chunks, err := s.ListMemoryChunks(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(chunks))
	}
	if chunks[0].Text != "first" || chunks[1].Text != "second" {
		t.Fatalf("chunks = %+v", chunks)
	}
}
