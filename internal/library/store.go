// Package library keeps the user's avatar models (name, URL, selection) in SQLite.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/talkingavatar/internal/avatar3d"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no avatar matches the ID, or none is selected.
	ErrNotFound = errors.New("avatar not found")
	// ErrInvalidName is returned for blank names.
	ErrInvalidName = errors.New("avatar name cannot be empty")
	// ErrInvalidURL is returned for blank model URLs.
	ErrInvalidURL = errors.New("avatar url cannot be empty")
)

// timeFormat is fixed width so created_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Avatar is one saved model.
type Avatar struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	Selected  bool      `json:"selected"`
}

// Store persists avatars. Exactly zero or one avatar is selected at a time.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewStore opens (creating if needed) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS avatars (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at TEXT NOT NULL,
		selected INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_avatars_created_at ON avatars(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create adds an avatar. The URL is normalised to a loadable model location.
// The first avatar in an empty store becomes selected.
func (s *Store) Create(ctx context.Context, name, url string) (*Avatar, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	url = avatar3d.ResolveAssetURL(url)
	if url == "" {
		return nil, ErrInvalidURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM avatars`).Scan(&count); err != nil {
		return nil, fmt.Errorf("count avatars: %w", err)
	}

	a := &Avatar{
		ID:        uuid.New().String(),
		Name:      name,
		URL:       url,
		CreatedAt: s.now().UTC(),
		Selected:  count == 0,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO avatars (id, name, url, created_at, selected) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.URL, a.CreatedAt.Format(timeFormat), boolInt(a.Selected))
	if err != nil {
		return nil, fmt.Errorf("insert avatar: %w", err)
	}
	return a, nil
}

// List returns every avatar, oldest first.
func (s *Store) List(ctx context.Context) ([]Avatar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, created_at, selected FROM avatars ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query avatars: %w", err)
	}
	defer rows.Close()

	avatars := []Avatar{}
	for rows.Next() {
		a, err := scanAvatar(rows)
		if err != nil {
			return nil, err
		}
		avatars = append(avatars, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate avatars: %w", err)
	}
	return avatars, nil
}

// Get returns one avatar by ID.
func (s *Store) Get(ctx context.Context, id string) (*Avatar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, `SELECT id, name, url, created_at, selected FROM avatars WHERE id = ?`, id)
}

// Selected returns the selected avatar, or ErrNotFound when none is.
func (s *Store) Selected(ctx context.Context) (*Avatar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx, `SELECT id, name, url, created_at, selected FROM avatars WHERE selected = 1 LIMIT 1`)
}

func (s *Store) get(ctx context.Context, query string, args ...any) (*Avatar, error) {
	a, err := scanAvatar(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// Rename changes an avatar's display name.
func (s *Store) Rename(ctx context.Context, id, name string) (*Avatar, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `UPDATE avatars SET name = ? WHERE id = ?`, name, id)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rename avatar: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes an avatar. Deleting the selected one leaves nothing selected.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM avatars WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete avatar: %w", err)
	}
	return requireRow(res)
}

// Select marks id as the only selected avatar.
func (s *Store) Select(ctx context.Context, id string) (*Avatar, error) {
	s.mu.Lock()
	err := s.selectTx(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Store) selectTx(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM avatars WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup avatar: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE avatars SET selected = (id = ?)`, id); err != nil {
		return fmt.Errorf("select avatar: %w", err)
	}
	return tx.Commit()
}

// Seed adds a default avatar when the store is empty. It reports whether
// one was added.
func (s *Store) Seed(ctx context.Context, name, url string) (bool, error) {
	avatars, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	if len(avatars) > 0 || strings.TrimSpace(url) == "" {
		return false, nil
	}
	if _, err := s.Create(ctx, name, url); err != nil {
		return false, err
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAvatar(row scanner) (*Avatar, error) {
	var (
		a        Avatar
		created  string
		selected int
	)
	if err := row.Scan(&a.ID, &a.Name, &a.URL, &created, &selected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan avatar: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = t
	a.Selected = selected != 0
	return &a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
