package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/campusmesh/internal/cache"
)

const schema = `
CREATE TABLE IF NOT EXISTS peers (
	user_id    TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	peer_id    TEXT NOT NULL DEFAULT '',
	sender     TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE TABLE IF NOT EXISTS meetups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	direction  TEXT NOT NULL,
	peer_id    TEXT NOT NULL DEFAULT '',
	peer_name  TEXT NOT NULL DEFAULT '',
	location   TEXT NOT NULL DEFAULT '',
	time       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_meetups_status ON meetups(status);
CREATE INDEX IF NOT EXISTS idx_meetups_created ON meetups(created_at);
`

// Store implements cache.Store for SQLite.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

// New opens the SQLite database at dbPath and applies the cache schema.
func New(dbPath string) (*Store, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup opens a SQLite store and runs a setup function.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// ApplySchema creates the cache tables if they are missing.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

// ==== PeerStore implementation ====

// PutPeer inserts or replaces a peer.
func (s *Store) PutPeer(ctx context.Context, p cache.Peer) error {
	if p.UserID == "" {
		return errors.New("peer user id is required")
	}
	query := `
		INSERT INTO peers (user_id, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, p.UserID, p.Name, toMillis(p.UpdatedAt)); err != nil {
		return fmt.Errorf("put peer: %w", err)
	}
	return nil
}

// GetPeer retrieves a peer by user id.
func (s *Store) GetPeer(ctx context.Context, userID string) (*cache.Peer, error) {
	var (
		p       cache.Peer
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, updated_at FROM peers WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Name, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("peer %q: %w", userID, cache.ErrNotFound)
		}
		return nil, fmt.Errorf("query peer: %w", err)
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return &p, nil
}

// ListPeers returns all cached peers, most recently updated first.
func (s *Store) ListPeers(ctx context.Context) ([]cache.Peer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, name, updated_at FROM peers ORDER BY updated_at DESC, user_id`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	defer rows.Close()

	var peers []cache.Peer
	for rows.Next() {
		var (
			p       cache.Peer
			updated int64
		)
		if err := rows.Scan(&p.UserID, &p.Name, &updated); err != nil {
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		p.UpdatedAt = time.UnixMilli(updated)
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peers: %w", err)
	}
	return peers, nil
}

// DeletePeer removes a peer.
func (s *Store) DeletePeer(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete peer: %w", err)
	}
	return nil
}

// ==== MessageStore implementation ====

// SaveMessage inserts msg and sets its ID. Status defaults to pending.
func (s *Store) SaveMessage(ctx context.Context, msg *cache.Message) error {
	if msg.Status == "" {
		msg.Status = cache.MessagePending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (peer_id, sender, body, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.PeerID, msg.Sender, msg.Body, string(msg.Status), toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get message id: %w", err)
	}
	msg.ID = id
	return nil
}

// ListMessages returns matching messages, oldest first.
func (s *Store) ListMessages(ctx context.Context, filter cache.MessageFilter) ([]cache.Message, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PeerID != "" {
		where = append(where, "peer_id = ?")
		args = append(args, filter.PeerID)
	}
	query := `SELECT id, peer_id, sender, body, status, created_at FROM messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []cache.Message
	for rows.Next() {
		var (
			m       cache.Message
			status  string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.PeerID, &m.Sender, &m.Body, &status, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Status = cache.MessageStatus(status)
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// UpdateMessageStatus changes the status of one message.
func (s *Store) UpdateMessageStatus(ctx context.Context, id int64, status cache.MessageStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return expectOneRow(result, "message", id)
}

// DeleteMessage removes a message.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ==== MeetupStore implementation ====

// SaveMeetup inserts m and sets its ID. Status defaults to pending.
func (s *Store) SaveMeetup(ctx context.Context, m *cache.Meetup) error {
	if m.Status == "" {
		m.Status = cache.MeetupPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO meetups (direction, peer_id, peer_name, location, time, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(m.Direction), m.PeerID, m.PeerName, m.Location, m.Time, string(m.Status), toMillis(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert meetup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get meetup id: %w", err)
	}
	m.ID = id
	return nil
}

// ListMeetups returns matching meetups, newest first.
func (s *Store) ListMeetups(ctx context.Context, filter cache.MeetupFilter) ([]cache.Meetup, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.PeerID != "" {
		where = append(where, "peer_id = ?")
		args = append(args, filter.PeerID)
	}
	query := `SELECT id, direction, peer_id, peer_name, location, time, status, created_at FROM meetups`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meetups: %w", err)
	}
	defer rows.Close()

	var meetups []cache.Meetup
	for rows.Next() {
		var (
			m                 cache.Meetup
			direction, status string
			created           int64
		)
		if err := rows.Scan(&m.ID, &direction, &m.PeerID, &m.PeerName, &m.Location, &m.Time, &status, &created); err != nil {
			return nil, fmt.Errorf("scan meetup: %w", err)
		}
		m.Direction = cache.MeetupDirection(direction)
		m.Status = cache.MeetupStatus(status)
		m.CreatedAt = time.UnixMilli(created)
		meetups = append(meetups, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetups: %w", err)
	}
	return meetups, nil
}

// UpdateMeetupStatus changes the status of one meetup.
func (s *Store) UpdateMeetupStatus(ctx context.Context, id int64, status cache.MeetupStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE meetups SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update meetup: %w", err)
	}
	return expectOneRow(result, "meetup", id)
}

// DeleteMeetup removes a meetup.
func (s *Store) DeleteMeetup(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM meetups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete meetup: %w", err)
	}
	return nil
}

// Cleanup deletes messages and meetups created before cutoff.
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, table := range []string{"messages", "meetups"} {
		result, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("cleanup %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("cleanup %s rows: %w", table, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return total, nil
}

func expectOneRow(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, cache.ErrNotFound)
	}
	return nil
}
