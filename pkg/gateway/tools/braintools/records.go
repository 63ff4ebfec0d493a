package braintools

import (
	"context"
	"fmt"

	"github.com/secondbrain-go/brain-relay/pkg/brain/memory"
	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/relay/protocol"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

type createTaskHandler struct {
	deps Deps
}

func (h *createTaskHandler) Name() string { return "create_task" }

func (h *createTaskHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Create a task with an explicit title.",
		Parameters: tools.ObjectSchema(map[string]any{
			"title":       map[string]any{"type": "string", "description": "Short task title."},
			"description": map[string]any{"type": "string", "description": "Optional details."},
			"due":         map[string]any{"type": "string", "description": "Optional due date, RFC 3339 or YYYY-MM-DD."},
		}, "title"),
	}
}

func (h *createTaskHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	title, err := requiredString(args, "title")
	if err != nil {
		return nil, err
	}
	due, err := timeArg(args, "due")
	if err != nil {
		return nil, err
	}
	task, err := h.deps.Store.CreateTask(ctx, store.Task{
		UserID:      userID,
		Title:       title,
		Description: stringArg(args, "description"),
		Due:         due,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return taskMap(task), nil
}

type createNoteHandler struct {
	deps Deps
}

func (h *createNoteHandler) Name() string { return "create_note" }

func (h *createNoteHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Create a note with an explicit title and content.",
		Parameters: tools.ObjectSchema(map[string]any{
			"title":   map[string]any{"type": "string", "description": "Note title."},
			"content": map[string]any{"type": "string", "description": "Note body."},
		}, "title"),
	}
}

func (h *createNoteHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	title, err := requiredString(args, "title")
	if err != nil {
		return nil, err
	}
	note, err := h.deps.Store.CreateNote(ctx, store.Note{
		UserID:  userID,
		Title:   title,
		Content: stringArg(args, "content"),
	})
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	indexText(ctx, h.deps, userID, memory.NoteText(note.Title, note.Content), "note", note.ID)
	return map[string]any{"id": note.ID, "title": note.Title}, nil
}

type createCalendarEventHandler struct {
	deps Deps
}

func (h *createCalendarEventHandler) Name() string { return "create_calendar_event" }

func (h *createCalendarEventHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Create a calendar event at a specific time.",
		Parameters: tools.ObjectSchema(map[string]any{
			"title":       map[string]any{"type": "string", "description": "Event title."},
			"start":       map[string]any{"type": "string", "description": "Start time, RFC 3339 or YYYY-MM-DD."},
			"end":         map[string]any{"type": "string", "description": "Optional end time."},
			"location":    map[string]any{"type": "string", "description": "Optional location."},
			"description": map[string]any{"type": "string", "description": "Optional details."},
		}, "title", "start"),
	}
}

func (h *createCalendarEventHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	title, err := requiredString(args, "title")
	if err != nil {
		return nil, err
	}
	start, err := timeArg(args, "start")
	if err != nil {
		return nil, err
	}
	if start == nil {
		return nil, fmt.Errorf("start is required")
	}
	end, err := timeArg(args, "end")
	if err != nil {
		return nil, err
	}
	event, err := h.deps.Store.CreateEvent(ctx, store.CalendarEvent{
		UserID:      userID,
		Title:       title,
		Description: stringArg(args, "description"),
		Location:    stringArg(args, "location"),
		StartsAt:    *start,
		EndsAt:      end,
	})
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	return eventMap(event), nil
}

type createContactHandler struct {
	deps Deps
}

func (h *createContactHandler) Name() string { return "create_contact" }

func (h *createContactHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Create a contact record.",
		Parameters: tools.ObjectSchema(map[string]any{
			"name":    map[string]any{"type": "string", "description": "Contact's full name."},
			"email":   map[string]any{"type": "string", "description": "Optional email address."},
			"phone":   map[string]any{"type": "string", "description": "Optional phone number."},
			"company": map[string]any{"type": "string", "description": "Optional company name."},
			"notes":   map[string]any{"type": "string", "description": "Optional free-form notes."},
		}, "name"),
	}
}

func (h *createContactHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	name, err := requiredString(args, "name")
	if err != nil {
		return nil, err
	}
	contact, err := h.deps.Store.CreateContact(ctx, store.Contact{
		UserID:  userID,
		Name:    name,
		Email:   stringArg(args, "email"),
		Phone:   stringArg(args, "phone"),
		Company: stringArg(args, "company"),
		Notes:   stringArg(args, "notes"),
	})
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return map[string]any{"id": contact.ID, "name": contact.Name}, nil
}

type createCompanyHandler struct {
	deps Deps
}

func (h *createCompanyHandler) Name() string { return "create_company" }

func (h *createCompanyHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Create a company record.",
		Parameters: tools.ObjectSchema(map[string]any{
			"name":     map[string]any{"type": "string", "description": "Company name."},
			"website":  map[string]any{"type": "string", "description": "Optional website."},
			"industry": map[string]any{"type": "string", "description": "Optional industry."},
			"notes":    map[string]any{"type": "string", "description": "Optional free-form notes."},
		}, "name"),
	}
}

func (h *createCompanyHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	name, err := requiredString(args, "name")
	if err != nil {
		return nil, err
	}
	company, err := h.deps.Store.CreateCompany(ctx, store.Company{
		UserID:   userID,
		Name:     name,
		Website:  stringArg(args, "website"),
		Industry: stringArg(args, "industry"),
		Notes:    stringArg(args, "notes"),
	})
	if err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	return map[string]any{"id": company.ID, "name": company.Name}, nil
}

type createDealHandler struct {
	deps Deps
}

func (h *createDealHandler) Name() string { return "create_deal" }

func (h *createDealHandler) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Type:        "function",
		Name:        h.Name(),
		Description: "Create a sales deal record.",
		Parameters: tools.ObjectSchema(map[string]any{
			"title":   map[string]any{"type": "string", "description": "Deal title."},
			"amount":  map[string]any{"type": "number", "description": "Optional deal value."},
			"stage":   map[string]any{"type": "string", "description": "Optional pipeline stage."},
			"company": map[string]any{"type": "string", "description": "Optional company name."},
			"notes":   map[string]any{"type": "string", "description": "Optional free-form notes."},
		}, "title"),
	}
}

func (h *createDealHandler) Execute(ctx context.Context, principal *identity.Principal, args map[string]any) (any, error) {
	userID, err := principalID(principal)
	if err != nil {
		return nil, err
	}
	title, err := requiredString(args, "title")
	if err != nil {
		return nil, err
	}
	deal, err := h.deps.Store.CreateDeal(ctx, store.Deal{
		UserID:  userID,
		Title:   title,
		Amount:  floatArg(args, "amount", 0),
		Stage:   stringArg(args, "stage"),
		Company: stringArg(args, "company"),
		Notes:   stringArg(args, "notes"),
	})
	if err != nil {
		return nil, fmt.Errorf("create deal: %w", err)
	}
	return map[string]any{"id": deal.ID, "title": deal.Title, "amount": deal.Amount, "stage": deal.Stage}, nil
}
