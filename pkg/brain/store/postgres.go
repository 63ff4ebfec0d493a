package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is the hosted backend. Schema is managed by the embedded
// goose migrations, applied on open.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrate(ctx, poolCfg.ConnConfig); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func migrate(ctx context.Context, connCfg *pgx.ConnConfig) error {
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *PostgresStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, user_id, title, description, due_at, completed, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.Title, t.Description, t.Due, t.Completed, t.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, userID string, f TaskFilter) ([]Task, error) {
	query := `SELECT id, user_id, title, description, due_at, completed, created_at FROM tasks WHERE user_id = $1`
	args := []any{userID}
	if f.Completed != nil {
		query += fmt.Sprintf(` AND completed = $%d`, len(args)+1)
		args = append(args, *f.Completed)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, clampLimit(f.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) CreateNote(ctx context.Context, n Note) (Note, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notes (id, user_id, title, content, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Title, n.Content, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("insert note: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, userID string, limit int) ([]Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, content, created_at, updated_at FROM notes WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2`,
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

func (s *PostgresStore) CreateEvent(ctx context.Context, e CalendarEvent) (CalendarEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO calendar_events (id, user_id, title, description, location, starts_at, ends_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Title, e.Description, e.Location, e.StartsAt, e.EndsAt, e.CreatedAt)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, userID string, from, until time.Time) ([]CalendarEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, description, location, starts_at, ends_at, created_at FROM calendar_events
		 WHERE user_id = $1 AND starts_at >= $2 AND starts_at < $3 ORDER BY starts_at ASC`,
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

func (s *PostgresStore) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (id, user_id, name, email, phone, company, notes, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.UserID, c.Name, c.Email, c.Phone, c.Company, c.Notes, c.CreatedAt)
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c Company) (Company, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, user_id, name, website, industry, notes, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.Name, c.Website, c.Industry, c.Notes, c.CreatedAt)
	if err != nil {
		return Company{}, fmt.Errorf("insert company: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) CreateDeal(ctx context.Context, d Deal) (Deal, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deals (id, user_id, title, amount, stage, company, notes, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.UserID, d.Title, d.Amount, d.Stage, d.Company, d.Notes, d.CreatedAt)
	if err != nil {
		return Deal{}, fmt.Errorf("insert deal: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) CreateMemoryChunk(ctx context.Context, m MemoryChunk) (MemoryChunk, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_chunks (id, user_id, text, source_type, source_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, m.Text, m.SourceType, m.SourceID, m.CreatedAt)
	if err != nil {
		return MemoryChunk{}, fmt.Errorf("insert memory chunk: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMemoryChunks(ctx context.Context, userID string) ([]MemoryChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, text, source_type, source_id, created_at FROM memory_chunks WHERE user_id = $1 ORDER BY created_at ASC`,
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
