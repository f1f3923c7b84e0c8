package push

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SQLiteRegistry stores subscriptions in a SQLite db.
type SQLiteRegistry struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteRegistry opens the registry with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteRegistry(filename string) (*SQLiteRegistry, error) {
	if filename == "" {
		filename = "file::memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	if filename == "file::memory:" {
		// every connection to a private memory db sees its own empty db
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id TEXT NOT NULL UNIQUE,
			endpoint TEXT PRIMARY KEY,
			p256dh_key TEXT NOT NULL,
			auth_key TEXT NOT NULL,
			user_agent TEXT,
			subscribed_at INTEGER NOT NULL,
			last_used_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS push_subscriptions_subscribed_at ON push_subscriptions (subscribed_at)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init subscription db: %w", err)
		}
	}
	return &SQLiteRegistry{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteRegistry) Upsert(ctx context.Context, sub Subscription) (string, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	now := time.Now().UnixMilli()
	var id string
	err := s.db.QueryRowContext(ctx, `INSERT INTO push_subscriptions
		(id, endpoint, p256dh_key, auth_key, user_agent, subscribed_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET
			p256dh_key = excluded.p256dh_key,
			auth_key = excluded.auth_key,
			user_agent = excluded.user_agent,
			last_used_at = excluded.last_used_at
		RETURNING id`,
		uuid.NewString(), sub.Endpoint, sub.P256dh, sub.Auth, sub.UserAgent, now, now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert subscription: %w", err)
	}
	return id, nil
}

func (s *SQLiteRegistry) Remove(ctx context.Context, endpoint string) (int64, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
	if err != nil {
		return 0, fmt.Errorf("remove subscription: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteRegistry) List(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, endpoint, p256dh_key, auth_key, user_agent, subscribed_at, last_used_at
		FROM push_subscriptions
		ORDER BY subscribed_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]Subscription, 0)
	for rows.Next() {
		var (
			sub                      Subscription
			userAgent                sql.NullString
			subscribedAt, lastUsedAt int64
		)
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &userAgent, &subscribedAt, &lastUsedAt); err != nil {
			return subs, err
		}
		sub.UserAgent = userAgent.String
		sub.SubscribedAt = time.UnixMilli(subscribedAt)
		sub.LastUsedAt = time.UnixMilli(lastUsedAt)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM push_subscriptions").Scan(&n)
	return n, err
}

func (s *SQLiteRegistry) Stats(ctx context.Context) (Stats, error) {
	subs, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsOf(subs), nil
}

func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}
