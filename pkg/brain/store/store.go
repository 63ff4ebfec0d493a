// Package store persists the user's knowledge records: tasks, notes,
// calendar events, CRM objects, and the memory chunks backing semantic
// search. Every operation is scoped to a user id; the relay never reads
// or writes across principals.
package store

import (
	"context"
	"time"
)

type Task struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Due         *time.Time
	Completed   bool
	CreatedAt   time.Time
}

type Note struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CalendarEvent struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      *time.Time
	CreatedAt   time.Time
}

type Contact struct {
	ID        string
	UserID    string
	Name      string
	Email     string
	Phone     string
	Company   string
	Notes     string
	CreatedAt time.Time
}

type Company struct {
	ID        string
	UserID    string
	Name      string
	Website   string
	Industry  string
	Notes     string
	CreatedAt time.Time
}

type Deal struct {
	ID        string
	UserID    string
	Title     string
	Amount    float64
	Stage     string
	Company   string
	Notes     string
	CreatedAt time.Time
}

// MemoryChunk is one unit of indexable text. SourceType records where the
// text came from (note, thought) and SourceID links back to the record.
type MemoryChunk struct {
	ID         string
	UserID     string
	Text       string
	SourceType string
	SourceID   string
	CreatedAt  time.Time
}

// TaskFilter narrows ListTasks. A nil Completed means both states; a
// non-positive Limit means the backend default.
type TaskFilter struct {
	Completed *bool
	Limit     int
}

// Store is the row-scoped persistence contract shared by the SQLite and
// Postgres backends. Create methods assign the record's ID and CreatedAt
// when unset and return the stored value.
type Store interface {
	CreateTask(ctx context.Context, t Task) (Task, error)
	ListTasks(ctx context.Context, userID string, f TaskFilter) ([]Task, error)

	CreateNote(ctx context.Context, n Note) (Note, error)
	ListNotes(ctx context.Context, userID string, limit int) ([]Note, error)

	CreateEvent(ctx context.Context, e CalendarEvent) (CalendarEvent, error)
	ListEvents(ctx context.Context, userID string, from, until time.Time) ([]CalendarEvent, error)

	CreateContact(ctx context.Context, c Contact) (Contact, error)
	CreateCompany(ctx context.Context, c Company) (Company, error)
	CreateDeal(ctx context.Context, d Deal) (Deal, error)

	CreateMemoryChunk(ctx context.Context, m MemoryChunk) (MemoryChunk, error)
	ListMemoryChunks(ctx context.Context, userID string) ([]MemoryChunk, error)

	Ping(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return defaultListLimit
	}
	return limit
}
