// Package eventlog keeps an append-only audit trail of rule notifications and
// issues. It is read-only from the host's point of view once written.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rule_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_rule_events_user ON rule_events(user_id, ts);
`

// Event is one recorded notification or issue.
type Event struct {
	ID      int64           `json:"id"`
	Time    time.Time       `json:"time"`
	UserID  string          `json:"user_id"`
	RuleID  string          `json:"rule_id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Query narrows a listing. Symbol matches against the payload's symbol field.
type Query struct {
	UserID string
	Symbol string
	Limit  int
}

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("eventlog: path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Append(ctx context.Context, userID, ruleID, kind string, payload map[string]any) error {
	body := []byte("{}")
	if len(payload) > 0 {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("eventlog: encode payload: %w", err)
		}
		body = encoded
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_events (ts, user_id, rule_id, kind, payload) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), userID, ruleID, kind, string(body))
	return err
}

func (s *Store) List(ctx context.Context, q Query) ([]Event, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if q.UserID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, ts, user_id, rule_id, kind, payload FROM rule_events WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
			q.UserID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, ts, user_id, rule_id, kind, payload FROM rule_events ORDER BY id DESC LIMIT ?`,
			limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	out := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev      Event
			ts      int64
			payload string
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.UserID, &ev.RuleID, &ev.Kind, &payload); err != nil {
			return nil, err
		}
		if symbol != "" && !strings.EqualFold(gjson.Get(payload, "symbol").String(), symbol) {
			continue
		}
		ev.Time = time.UnixMilli(ts).UTC()
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}
