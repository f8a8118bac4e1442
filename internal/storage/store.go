package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "github.com/huynguyenanh1/mezon-komu/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the sqlite-backed directory.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const memberColumns = `u.user_id, u.username, u.email, u.display_name, u.user_type, u.deactivated,
	u.last_message_id, u.last_message_time, u.last_ping_message_id, u.awaiting_response`

// FindMembers runs the query spec against the directory. Results are in
// insertion (rowid) order; duplicate user ids keep their first occurrence.
func (s *Store) FindMembers(ctx context.Context, q Query) ([]Member, error) {
	cols := memberColumns
	join := ""
	switch q.JoinPing {
	case PingJoinLeft:
		cols += ", p.created_at"
		join = " LEFT JOIN komu_pings p ON p.message_id = u.last_ping_message_id AND p.user_id = u.user_id"
	case PingJoinInner:
		cols += ", p.created_at"
		join = " INNER JOIN komu_pings p ON p.message_id = u.last_ping_message_id AND p.user_id = u.user_id"
	}

	where, args := q.toSQL()
	query := "SELECT " + cols + " FROM komu_users u" + join + " WHERE " + where + " ORDER BY u.rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find members: %w", err)
	}
	defer rows.Close()

	var out []Member
	seen := map[string]bool{}
	for rows.Next() {
		var (
			m           Member
			email       sql.NullString
			displayName sql.NullString
			lastMsgID   sql.NullString
			lastMsgTime sql.NullInt64
			lastPingID  sql.NullString
			pingCreated sql.NullInt64
		)
		dest := []any{
			&m.UserID, &m.Username, &email, &displayName, &m.UserType, &m.Deactivated,
			&lastMsgID, &lastMsgTime, &lastPingID, &m.AwaitingResponse,
		}
		if q.JoinPing != PingJoinNone {
			dest = append(dest, &pingCreated)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true

		m.Email = email.String
		m.DisplayName = displayName.String
		m.LastMessageID = lastMsgID.String
		m.LastMessageTime = lastMsgTime.Int64
		m.LastPingMessageID = lastPingID.String
		m.PingCreatedAt = pingCreated.Int64
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertMember writes a directory entry. Ping bookkeeping columns are left
// untouched on conflict; those belong to MarkPinged/ClearAwaiting.
func (s *Store) UpsertMember(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO komu_users(user_id, username, email, display_name, user_type, deactivated)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username=excluded.username, email=excluded.email,
		   display_name=excluded.display_name, user_type=excluded.user_type,
		   deactivated=excluded.deactivated`,
		m.UserID, m.Username, nullStr(m.Email), nullStr(m.DisplayName), m.UserType, m.Deactivated,
	)
	return err
}

// MarkPinged records an outbound check-in: flags the member as awaiting a
// response, points it at the new message, and inserts the ping record. Both
// writes commit together so the "awaiting implies one live ping" invariant
// holds.
func (s *Store) MarkPinged(ctx context.Context, rec PingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE komu_users SET awaiting_response = 1, last_ping_message_id = ? WHERE user_id = ?`,
		rec.MessageID, rec.UserID,
	); err != nil {
		return fmt.Errorf("mark pinged: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO komu_pings(id, user_id, message_id, created_at) VALUES(?,?,?,?)`,
		rec.ID, rec.UserID, rec.MessageID, rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ping: %w", err)
	}
	return tx.Commit()
}

// ClearAwaiting flips awaiting_response off and reports whether this call
// was the one that did it. The conditional single-row write is the
// idempotency gate for the punish transition.
func (s *Store) ClearAwaiting(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE komu_users SET awaiting_response = 0 WHERE user_id = ? AND awaiting_response = 1`,
		userID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) InsertPunishment(ctx context.Context, rec PunishmentRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO komu_punishments(id, user_id, message, status, type, created_at) VALUES(?,?,?,?,?,?)`,
		rec.ID, rec.UserID, rec.Message, rec.Status, rec.Type, rec.CreatedAt,
	)
	return err
}

// RecordActivity notes inbound activity from a member and clears an
// outstanding ping if there was one. Returns whether a ping was answered.
func (s *Store) RecordActivity(ctx context.Context, userID, messageID string, atMS int64) (bool, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE komu_users SET last_message_id = ?, last_message_time = ? WHERE user_id = ? AND deactivated = 0`,
		messageID, atMS, userID,
	); err != nil {
		return false, err
	}
	return s.ClearAwaiting(ctx, userID)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
