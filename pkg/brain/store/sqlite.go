package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-node backend. Schema is created on open, no
// external migration step.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL keeps concurrent session reads from blocking tool writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		due_at TIMESTAMP,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, completed, created_at);

	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS calendar_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMP NOT NULL,
		ends_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user ON calendar_events(user_id, starts_at);

	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id, created_at);

	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		website TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_companies_user ON companies(user_id, created_at);

	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		amount REAL NOT NULL DEFAULT 0,
		stage TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deals_user ON deals(user_id, created_at);

	CREATE TABLE IF NOT EXISTS memory_chunks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		text TEXT NOT NULL,
		source_type TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_user ON memory_chunks(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return err
	}
	return nil
}

func newID() string { return uuid.NewString() }

func nowUTC() time.Time { return time.Now().UTC() }

func (s *SQLiteStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, due_at, completed, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Title, t.Description, t.Due, t.Completed, t.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, userID string, f TaskFilter) ([]Task, error) {
	query := `SELECT id, user_id, title, description, due_at, completed, created_at FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if f.Completed != nil {
		query += ` AND completed = ?`
		args = append(args, *f.Completed)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, clampLimit(f.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Due, &t.Completed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) CreateNote(ctx context.Context, n Note) (Note, error) {
	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = nowUTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, user_id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListNotes(ctx context.Context, userID string, limit int) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, content, created_at, updated_at FROM notes WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`,
		userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]Note, 0)
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *SQLiteStore) CreateEvent(ctx context.Context, e CalendarEvent) (CalendarEvent, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (id, user_id, title, description, location, starts_at, ends_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Title, e.Description, e.Location, e.StartsAt, e.EndsAt, e.CreatedAt)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, userID string, from, until time.Time) ([]CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, description, location, starts_at, ends_at, created_at FROM calendar_events
		 WHERE user_id = ? AND starts_at >= ? AND starts_at < ? ORDER BY starts_at ASC`,
		userID, from, until)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]CalendarEvent, 0)
	for rows.Next() {
		var e CalendarEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Description, &e.Location, &e.StartsAt, &e.EndsAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, user_id, name, email, phone, company, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Company, c.Notes, c.CreatedAt)
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c Company) (Company, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, user_id, name, website, industry, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Website, c.Industry, c.Notes, c.CreatedAt)
	if err != nil {
		return Company{}, fmt.Errorf("insert company: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateDeal(ctx context.Context, d Deal) (Deal, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (id, user_id, title, amount, stage, company, notes, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.Title, d.Amount, d.Stage, d.Company, d.Notes, d.CreatedAt)
	if err != nil {
		return Deal{}, fmt.Errorf("insert deal: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) CreateMemoryChunk(ctx context.Context, m MemoryChunk) (MemoryChunk, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_chunks (id, user_id, text, source_type, source_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Text, m.SourceType, m.SourceID, m.CreatedAt)
	if err != nil {
		return MemoryChunk{}, fmt.Errorf("insert memory chunk: %w", err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMemoryChunks(ctx context.Context, userID string) ([]MemoryChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, source_type, source_id, created_at FROM memory_chunks WHERE user_id = ? ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list memory chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]MemoryChunk, 0)
	for rows.Next() {
		var m MemoryChunk
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.SourceType, &m.SourceID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory chunk: %w", err)
		}
		chunks = append(chunks, m)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
