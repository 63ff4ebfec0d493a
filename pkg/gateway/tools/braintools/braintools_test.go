package braintools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/secondbrain-go/brain-relay/pkg/brain/classify"
	"github.com/secondbrain-go/brain-relay/pkg/brain/memory"
	"github.com/secondbrain-go/brain-relay/pkg/brain/search"
	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

var u1 = &identity.Principal{ID: "u1", Email: "u1@example.com"}

func newTestDeps(t *testing.T) (Deps, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "brain.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	deps := Deps{
		Store:      s,
		Memory:     memory.NewIndex(s),
		Classifier: classify.NewLLMClassifier("", "", "", nil),
		Search:     search.NewClient("", "", nil),
	}
	return deps, s
}

func registry(t *testing.T, deps Deps) *tools.Registry {
	t.Helper()
	handlers, err := All(deps)
	if err != nil {
		t.Fatal(err)
	}
	return tools.NewRegistry(handlers...)
}

func TestAllRegistersFullCatalog(t *testing.T) {
	deps, _ := newTestDeps(t)
	r := registry(t, deps)
	want := []string{
		"create_calendar_event", "create_company", "create_contact",
		"create_deal", "create_note", "create_task",
		"get_calendar_events", "get_notes", "get_tasks",
		"query_knowledge", "save_thought", "search_web",
	}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for _, def := range r.Definitions() {
		if def.Type != "function" {
			t.Fatalf("tool %s type = %q", def.Name, def.Type)
		}
		if def.Description == "" || def.Parameters == nil {
			t.Fatalf("tool %s missing description or parameters", def.Name)
		}
	}
}

func TestAllRejectsMissingDeps(t *testing.T) {
	if _, err := All(Deps{}); err == nil {
		t.Fatal("expected error")
	}
}

func findHandler(t *testing.T, deps Deps, name string) tools.Handler {
	t.Helper()
	handlers, err := All(deps)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range handlers {
		if h.Name() == name {
			return h
		}
	}
	t.Fatalf("no handler %q", name)
	return nil
}

func TestSaveThoughtTask(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()
	h := findHandler(t, deps, "save_thought")

	result, err := h.Execute(ctx, u1, map[string]any{"text": "remind me to renew the domain"})
	if err != nil {
		t.Fatal(err)
	}
	m := result.(map[string]any)
	if m["saved"] != "task" {
		t.Fatalf("saved = %v", m["saved"])
	}

	taskList, err := s.ListTasks(ctx, "u1", store.TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(taskList) != 1 {
		t.Fatalf("len(tasks) = %d", len(taskList))
	}

	chunks, err := s.ListMemoryChunks(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].SourceType != "task" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestSaveThoughtNote(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()
	h := findHandler(t, deps, "save_thought")

	result, err := h.Execute(ctx, u1, map[string]any{"text": "interesting fact about go schedulers"})
	if err != nil {
		t.Fatal(err)
	}
	if result.(map[string]any)["saved"] != "note" {
		t.Fatalf("result = %v", result)
	}

	notes, err := s.ListNotes(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("len(notes) = %d", len(notes))
	}
}

func TestSaveThoughtRequiresText(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := findHandler(t, deps, "save_thought")
	if _, err := h.Execute(context.Background(), u1, map[string]any{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSaveThoughtRequiresPrincipal(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := findHandler(t, deps, "save_thought")
	if _, err := h.Execute(context.Background(), nil, map[string]any{"text": "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetTasksScopedAndFiltered(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := s.CreateTask(ctx, store.Task{UserID: "u1", Title: "open"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.CreateTask(ctx, store.Task{UserID: "u1", Title: "done", Completed: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateTask(ctx, store.Task{UserID: "u2", Title: "foreign"}); err != nil {
		t.Fatal(err)
	}

	h := findHandler(t, deps, "get_tasks")
	result, err := h.Execute(ctx, u1, map[string]any{"completed": false, "limit": float64(5)})
	if err != nil {
		t.Fatal(err)
	}
	taskList := result.(map[string]any)["tasks"].([]map[string]any)
	if len(taskList) != 5 {
		t.Fatalf("len(tasks) = %d, want 5", len(taskList))
	}
	for _, task := range taskList {
		if task["title"] != "open" {
			t.Fatalf("unexpected task %v", task)
		}
		if task["completed"] != false {
			t.Fatalf("completed = %v", task["completed"])
		}
	}
}

func TestGetNotesScopedAndOrdered(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()

	if _, err := s.CreateNote(ctx, store.Note{UserID: "u1", Title: "older", Content: "a"}); err != nil {
		t.Fatal(err)
	}
	newer, err := s.CreateNote(ctx, store.Note{UserID: "u1", Title: "newer", Content: "b", UpdatedAt: time.Now().UTC().Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateNote(ctx, store.Note{UserID: "u2", Title: "foreign"}); err != nil {
		t.Fatal(err)
	}

	h := findHandler(t, deps, "get_notes")
	result, err := h.Execute(ctx, u1, map[string]any{"limit": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	notes := result.(map[string]any)["notes"].([]map[string]any)
	if len(notes) != 1 {
		t.Fatalf("len(notes) = %d, want 1", len(notes))
	}
	if notes[0]["id"] != newer.ID || notes[0]["title"] != "newer" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestGetCalendarEventsWindow(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.CreateEvent(ctx, store.CalendarEvent{UserID: "u1", Title: "soon", StartsAt: now.Add(24 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateEvent(ctx, store.CalendarEvent{UserID: "u1", Title: "far", StartsAt: now.Add(30 * 24 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateEvent(ctx, store.CalendarEvent{UserID: "u1", Title: "past", StartsAt: now.Add(-24 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	h := findHandler(t, deps, "get_calendar_events")
	result, err := h.Execute(ctx, u1, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	events := result.(map[string]any)["events"].([]map[string]any)
	if len(events) != 1 || events[0]["title"] != "soon" {
		t.Fatalf("events = %v", events)
	}
}

func TestQueryKnowledgeFindsSavedNote(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	save := findHandler(t, deps, "save_thought")
	if _, err := save.Execute(ctx, u1, map[string]any{"text": "the wifi password for the office is hunter2"}); err != nil {
		t.Fatal(err)
	}

	h := findHandler(t, deps, "query_knowledge")
	result, err := h.Execute(ctx, u1, map[string]any{"query": "wifi password"})
	if err != nil {
		t.Fatal(err)
	}
	results := result.(map[string]any)["results"].([]map[string]any)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0]["source_type"] != "note" {
		t.Fatalf("result = %v", results[0])
	}
}

func TestQueryKnowledgeScopedToPrincipal(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()

	if _, err := s.CreateMemoryChunk(ctx, store.MemoryChunk{UserID: "u2", Text: "someone else's secret"}); err != nil {
		t.Fatal(err)
	}

	h := findHandler(t, deps, "query_knowledge")
	result, err := h.Execute(ctx, u1, map[string]any{"query": "secret"})
	if err != nil {
		t.Fatal(err)
	}
	results := result.(map[string]any)["results"].([]map[string]any)
	if len(results) != 0 {
		t.Fatalf("leaked results: %v", results)
	}
}

func TestCreateTask(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()
	h := findHandler(t, deps, "create_task")

	result, err := h.Execute(ctx, u1, map[string]any{"title": "ship release", "due": "2026-09-15"})
	if err != nil {
		t.Fatal(err)
	}
	m := result.(map[string]any)
	if m["title"] != "ship release" || m["due"] != "2026-09-15T00:00:00Z" {
		t.Fatalf("result = %v", m)
	}

	taskList, err := s.ListTasks(ctx, "u1", store.TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(taskList) != 1 {
		t.Fatalf("len(tasks) = %d", len(taskList))
	}
}

func TestCreateTaskBadDue(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := findHandler(t, deps, "create_task")
	if _, err := h.Execute(context.Background(), u1, map[string]any{"title": "x", "due": "whenever"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreateNoteIndexesContent(t *testing.T) {
	deps, s := newTestDeps(t)
	ctx := context.Background()
	h := findHandler(t, deps, "create_note")

	if _, err := h.Execute(ctx, u1, map[string]any{"title": "standup notes", "content": "discussed the rollout"}); err != nil {
		t.Fatal(err)
	}

	chunks, err := s.ListMemoryChunks(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Text != "standup notes\n\ndiscussed the rollout" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestCreateCalendarEventRequiresStart(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := findHandler(t, deps, "create_calendar_event")
	if _, err := h.Execute(context.Background(), u1, map[string]any{"title": "sync"}); err == nil {
		t.Fatal("expected error")
	}

	result, err := h.Execute(context.Background(), u1, map[string]any{
		"title": "sync",
		"start": "2026-09-01T10:00:00Z",
		"end":   "2026-09-01T10:30:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	m := result.(map[string]any)
	if m["starts_at"] != "2026-09-01T10:00:00Z" || m["ends_at"] != "2026-09-01T10:30:00Z" {
		t.Fatalf("result = %v", m)
	}
}

func TestCreateCRMRecords(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	contact, err := findHandler(t, deps, "create_contact").Execute(ctx, u1, map[string]any{"name": "Ada Lovelace", "email": "ada@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if contact.(map[string]any)["name"] != "Ada Lovelace" {
		t.Fatalf("contact = %v", contact)
	}

	company, err := findHandler(t, deps, "create_company").Execute(ctx, u1, map[string]any{"name": "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if company.(map[string]any)["name"] != "Acme" {
		t.Fatalf("company = %v", company)
	}

	deal, err := findHandler(t, deps, "create_deal").Execute(ctx, u1, map[string]any{"title": "Acme renewal", "amount": float64(5000), "stage": "won"})
	if err != nil {
		t.Fatal(err)
	}
	m := deal.(map[string]any)
	if m["amount"] != float64(5000) || m["stage"] != "won" {
		t.Fatalf("deal = %v", m)
	}
}

func TestSearchWeb(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"title":"Result","url":"https://example.com","content":"snippet"}]}`))
	}))
	defer ts.Close()

	deps, _ := newTestDeps(t)
	deps.Search = search.NewClient("key", ts.URL, nil)

	h := findHandler(t, deps, "search_web")
	result, err := h.Execute(context.Background(), u1, map[string]any{"query": "go relay"})
	if err != nil {
		t.Fatal(err)
	}
	hits := result.(map[string]any)["results"].([]search.Hit)
	if len(hits) != 1 || hits[0].Title != "Result" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestSearchWebUnconfigured(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := findHandler(t, deps, "search_web")
	if _, err := h.Execute(context.Background(), u1, map[string]any{"query": "anything"}); err == nil {
		t.Fatal("expected error")
	}
}
