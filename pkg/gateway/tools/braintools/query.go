package braintools

import (
	"context"
	"fmt"
	"time"

	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

type searchWebHandler struct {
	deps Deps
}

func (h *searchWebHandler) Name() string { return "search_web" }

func (h *searchWebHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Search the web for current information.",
		Parameters: tools.ObjectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results, default 5.",
			},
		}, "query"),
	}
}

func (h *searchWebHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}
	hits, err := h.deps.Search.Search(ctx, query, intArg(args, "max_results", 5))
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": query, "results": hits}, nil
}

type queryKnowledgeHandler struct {
	deps Deps
}

func (h *queryKnowledgeHandler) Name() string { return "query_knowledge" }

func (h *queryKnowledgeHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Semantic search over the user's own saved notes, tasks, and thoughts.",
		Parameters: tools.ObjectSchema(map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look for.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results, default 5.",
			},
		}, "query"),
	}
}

func (h *queryKnowledgeHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	query, err := requiredString(args, "query")
	if err != nil {
		return nil, err
	}
	results, err := h.deps.Memory.Search(ctx, userID, query, intArg(args, "limit", 0))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"text":        r.Chunk.Text,
			"score":       r.Score,
			"source_type": r.Chunk.SourceType,
			"source_id":   r.Chunk.SourceID,
		})
	}
	return map[string]any{"query": query, "results": out}, nil
}

type getTasksHandler struct {
	deps Deps
}

func (h *getTasksHandler) Name() string { return "get_tasks" }

func (h *getTasksHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "List the user's tasks, newest first.",
		Parameters: tools.ObjectSchema(map[string]any{
			"completed": map[string]any{
				"type":        "boolean",
				"description": "Filter by completion state. Omit for all tasks.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of tasks, default 50.",
			},
		}),
	}
}

func (h *getTasksHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	filter := store.TaskFilter{Limit: intArg(args, "limit", 0)}
	if completed, ok := boolArg(args, "completed"); ok {
		filter.Completed = &completed
	}
	taskList, err := h.deps.Store.ListTasks(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]map[string]any, 0, len(taskList))
	for _, t := range taskList {
		out = append(out, taskMap(t))
	}
	return map[string]any{"tasks": out}, nil
}

type getNotesHandler struct {
	deps Deps
}

func (h *getNotesHandler) Name() string { return "get_notes" }

func (h *getNotesHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "List the user's notes, most recently updated first.",
		Parameters: tools.ObjectSchema(map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of notes, default 50.",
			},
		}),
	}
}

func (h *getNotesHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	notes, err := h.deps.Store.ListNotes(ctx, userID, intArg(args, "limit", 0))
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	out := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		out = append(out, map[string]any{
			"id":         n.ID,
			"title":      n.Title,
			"content":    n.Content,
			"updated_at": n.UpdatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"notes": out}, nil
}

type getCalendarEventsHandler struct {
	deps Deps
}

func (h *getCalendarEventsHandler) Name() string { return "get_calendar_events" }

func (h *getCalendarEventsHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "List the user's upcoming calendar events.",
		Parameters: tools.ObjectSchema(map[string]any{
			"days_ahead": map[string]any{
				"type":        "integer",
				"description": "How many days forward to look, default 7.",
			},
		}),
	}
}

func (h *getCalendarEventsHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	days := intArg(args, "days_ahead", 7)
	if days <= 0 || days > 365 {
		days = 7
	}
	now := time.Now().UTC()
	events, err := h.deps.Store.ListEvents(ctx, userID, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, eventMap(e))
	}
	return map[string]any{"events": out, "days_ahead": days}, nil
}

func taskMap(t store.Task) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"due":         timeString(t.Due),
		"completed":   t.Completed,
		"created_at":  t.CreatedAt.Format(time.RFC3339),
	}
}

func eventMap(e store.CalendarEvent) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"title":       e.Title,
		"description": e.Description,
		"location":    e.Location,
		"starts_at":   e.StartsAt.Format(time.RFC3339),
		"ends_at":     timeString(e.EndsAt),
	}
}
