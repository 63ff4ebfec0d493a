// Package braintools implements the relay's tool catalog against the
// Second Brain services: capture (save_thought), research (search_web),
// query (query_knowledge, get_tasks, get_notes, get_calendar_events),
// and record creation (create_task through create_deal).
package braintools

import (
	"context"
	"fmt"

	"github.com/secondbrain-go/brain-relay/pkg/brain/classify"
	"github.com/secondbrain-go/brain-relay/pkg/brain/memory"
	"github.com/secondbrain-go/brain-relay/pkg/brain/search"
	"github.com/secondbrain-go/brain-relay/pkg/brain/store"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/identity"
	"github.com/secondbrain-go/brain-relay/pkg/gateway/tools"
)

// Deps carries the collaborating services the handlers act on.
type Deps struct {
	Store      store.Store
	Memory     *memory.Index
	Classifier classify.Classifier
	Search     *search.Client
}

func (d Deps) validate() error {
	if d.Store == nil {
		return fmt.Errorf("braintools: Store is required")
	}
	if d.Memory == nil {
		return fmt.Errorf("braintools: Memory is required")
	}
	if d.Classifier == nil {
		return fmt.Errorf("braintools: Classifier is required")
	}
	if d.Search == nil {
		return fmt.Errorf("braintools: Search is required")
	}
	return nil
}

// All returns the complete handler set for the session tool manifest.
func All(d Deps) ([]tools.Handler, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	return []tools.Handler{
		&saveThoughtHandler{deps: d},
		&searchWebHandler{deps: d},
		&queryKnowledgeHandler{deps: d},
		&getTasksHandler{deps: d},
		&getNotesHandler{deps: d},
		&getCalendarEventsHandler{deps: d},
		&createTaskHandler{deps: d},
		&createNoteHandler{deps: d},
		&createCalendarEventHandler{deps: d},
		&createContactHandler{deps: d},
		&createCompanyHandler{deps: d},
		&createDealHandler{deps: d},
	}, nil
}

func principalID(p *identity.Principal) (string, error) {
	if p == nil || p.ID == "" {
		return "", fmt.Errorf("no principal for session")
	}
	return p.ID, nil
}

// indexText persists one memory chunk so query_knowledge can find the
// record later. Indexing failures are swallowed: the record itself is
// already saved and capture should not fail on a secondary write.
func indexText(ctx context.Context, d Deps, userID, text, sourceType, sourceID string) {
	_, _ = d.Store.CreateMemoryChunk(ctx, store.MemoryChunk{
		UserID:     userID,
		Text:       text,
		SourceType: sourceType,
		SourceID:   sourceID,
	})
}
