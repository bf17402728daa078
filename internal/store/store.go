// Package store is the durable persistence boundary for user profiles and
// message history. The relay core never touches it; only the HTTP API does.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anirudhms/chatrelay/internal/metrics"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID       int64     `json:"id"`
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"imageUrl,omitempty"`
	SentAt   time.Time `json:"sentAt"`
}

// Store wraps a Postgres connection pool.
type Store struct {
	pool *pgxpool.Pool
	mtx  *metrics.Metrics
}

// Connect opens a pool against databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, m *metrics.Metrics) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, mtx: m}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         BIGSERIAL PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id        BIGSERIAL PRIMARY KEY,
	sender    TEXT NOT NULL,
	receiver  TEXT NOT NULL,
	body      TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	sent_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender, receiver, sent_at);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertUser creates the user or refreshes its avatar if the name is taken.
func (s *Store) UpsertUser(ctx context.Context, username, avatarURL string) (User, error) {
	const q = `
INSERT INTO users (username, avatar_url) VALUES ($1, $2)
ON CONFLICT (username) DO UPDATE SET avatar_url = EXCLUDED.avatar_url
RETURNING id, username, avatar_url, created_at`

	var u User
	err := s.pool.QueryRow(ctx, q, username, avatarURL).
		Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	s.mtx.Inc(metrics.StoreUserWrite)
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	const q = `SELECT id, username, avatar_url, created_at FROM users WHERE username = $1`

	var u User
	err := s.pool.QueryRow(ctx, q, username).
		Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	s.mtx.Inc(metrics.StoreUserRead)
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	const q = `SELECT id, username, avatar_url, created_at FROM users ORDER BY username`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	s.mtx.Inc(metrics.StoreUserRead)
	return users, nil
}

func (s *Store) SaveMessage(ctx context.Context, msg Message) (Message, error) {
	const q = `
INSERT INTO messages (sender, receiver, body, image_url) VALUES ($1, $2, $3, $4)
RETURNING id, sent_at`

	err := s.pool.QueryRow(ctx, q, msg.Sender, msg.Receiver, msg.Text, msg.ImageURL).
		Scan(&msg.ID, &msg.SentAt)
	if err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}
	s.mtx.Inc(metrics.StoreMsgWrite)
	return msg, nil
}

// History returns the conversation between two users, oldest first. The pair
// is symmetric: messages in either direction belong to the same conversation.
func (s *Store) History(ctx context.Context, a, b string, limit int) ([]Message, error) {
	const q = `
SELECT id, sender, receiver, body, image_url, sent_at FROM messages
WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
ORDER BY sent_at DESC, id DESC
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, a, b, limit)
	if err != nil {
		return nil, fmt.Errorf("message history: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Text, &m.ImageURL, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message history: %w", err)
	}

	// The query walks newest-first to make LIMIT select the tail; flip back
	// to chronological order for the caller.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	s.mtx.Inc(metrics.StoreMsgRead)
	return msgs, nil
}
