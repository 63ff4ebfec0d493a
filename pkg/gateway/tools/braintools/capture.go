package braintools

import (
	"context"
	"fmt"
	"time"

	"github.com/secondbrain-go/brain-relay/pkg/brain/classify"
	"github.com/secondbrain-go/brain-relay/pkg/brain/memory"
	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

// saveThoughtHandler routes free text through the classification pipeline
// and persists the result as a note, task, or calendar event.
type saveThoughtHandler struct {
	deps Deps
}

func (h *saveThoughtHandler) Name() string { return "save_thought" }

func (h *saveThoughtHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Save a thought the user wants to remember. The text is automatically classified as a note, task, or calendar event and stored.",
		Parameters: tools.ObjectSchema(map[string]any{
			"text": map[string]any{
				"type":        "string",
				"description": "The thought to save, verbatim.",
			},
		}, "text"),
	}
}

func (h *saveThoughtHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	text, err := requiredString(args, "text")
	if err != nil {
		return nil, err
	}

	cls, err := h.deps.Classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("classify thought: %w", err)
	}

	var due *time.Time
	if cls.Due != "" {
		if t, perr := time.Parse(time.RFC3339, cls.Due); perr == nil {
			t = t.UTC()
			due = &t
		}
	}

	// Events need a concrete time; without one the thought is kept as a
	// note rather than inventing a date.
	kind := cls.Kind
	if kind == classify.KindEvent && due == nil {
		kind = classify.KindNote
	}

	switch kind {
	case classify.KindTask:
		task, err := h.deps.Store.CreateTask(ctx, store.Task{
			UserID:      userID,
			Title:       cls.Title,
			Description: cls.Content,
			Due:         due,
		})
		if err != nil {
			return nil, fmt.Errorf("save task: %w", err)
		}
		indexText(ctx, h.deps, userID, memory.NoteText(task.Title, task.Description), "task", task.ID)
		return map[string]any{"saved": "task", "id": task.ID, "title": task.Title, "due": timeString(task.Due)}, nil

	case classify.KindEvent:
		event, err := h.deps.Store.CreateEvent(ctx, store.CalendarEvent{
			UserID:      userID,
			Title:       cls.Title,
			Description: cls.Content,
			StartsAt:    *due,
		})
		if err != nil {
			return nil, fmt.Errorf("save event: %w", err)
		}
		indexText(ctx, h.deps, userID, memory.NoteText(event.Title, event.Description), "event", event.ID)
		return map[string]any{"saved": "event", "id": event.ID, "title": event.Title, "starts_at": event.StartsAt.Format(time.RFC3339)}, nil

	default:
		note, err := h.deps.Store.CreateNote(ctx, store.Note{
			UserID:  userID,
			Title:   cls.Title,
			Content: cls.Content,
		})
		if err != nil {
			return nil, fmt.Errorf("save note: %w", err)
		}
		indexText(ctx, h.deps, userID, memory.NoteText(note.Title, note.Content), "note", note.ID)
		return map[string]any{"saved": "note", "id": note.ID, "title": note.Title}, nil
	}
}
