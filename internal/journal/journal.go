// Package journal keeps an append-only local record of order actions issued
// by this client.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsportal/internal/db"
	"opsportal/internal/domain"
	"opsportal/internal/migrate"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// Open opens and migrates the journal database.
func Open(ctx context.Context, cfg db.Config) (*Store, error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{DB: conn}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func validOutcome(o string) bool {
	switch o {
	case "applied", "rejected", "failed":
		return true
	}
	return false
}

// Record appends e, filling a missing id and timestamp.
func (s *Store) Record(ctx context.Context, e domain.JournalEntry) error {
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("journal entry order_id is required")
	}
	if !validOutcome(e.Outcome) {
		return fmt.Errorf("journal entry outcome %q is invalid", e.Outcome)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.TS == "" {
		e.TS = s.now().UTC().Format(time.RFC3339)
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO journal(id,ts,order_id,action,actor_role,actor_code,outcome,error_kind,payload_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TS, e.OrderID, e.Action, string(e.ActorRole), e.ActorCode, e.Outcome, nullable(e.ErrorKind), e.Payload)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Latest returns up to limit entries, newest first, optionally for one order.
func (s *Store) Latest(ctx context.Context, limit int, orderID string) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query := `SELECT id,ts,order_id,action,actor_role,actor_code,outcome,error_kind,payload_json FROM journal`
	args := []any{}
	if orderID != "" {
		query += ` WHERE order_id=?`
		args = append(args, orderID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var role string
		var kind sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.OrderID, &e.Action, &role, &e.ActorCode, &e.Outcome, &kind, &e.Payload); err != nil {
			return nil, err
		}
		e.ActorRole = domain.Role(role)
		e.ErrorKind = kind.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
