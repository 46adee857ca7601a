package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lotuspar/libblitz/internal/activity"
	"github.com/lotuspar/libblitz/internal/roster"
	"github.com/lotuspar/libblitz/internal/session"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists transitions so a session's lifecycle history survives
// restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ session.Recorder = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the journal database at dbPath.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transitions (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  activity_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  type TEXT NOT NULL,
  recipients TEXT NOT NULL,
  result TEXT,
  recorded_at TEXT NOT NULL,
  PRIMARY KEY (session_id, seq)
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create transitions table: %w", err)
	}
	return nil
}

// Record inserts t. A repeated (session, seq) pair is rejected by the primary key.
func (s *SQLiteStore) Record(ctx context.Context, t session.Transition) error {
	const stmt = `
INSERT INTO transitions (session_id, seq, activity_id, kind, type, recipients, result, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	var result sql.NullString
	if t.Result != nil {
		encoded, err := json.Marshal(t.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = sql.NullString{String: string(encoded), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, stmt,
		t.SessionID,
		int64(t.Seq),
		t.ActivityID,
		t.Kind,
		string(t.Type),
		joinIDs(t.Recipients),
		result,
		t.Time.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transition %d: %w", t.Seq, err)
	}
	return nil
}

// List returns up to limit transitions of sessionID in sequence order. A
// non-positive limit returns every row.
func (s *SQLiteStore) List(ctx context.Context, sessionID string, limit int) ([]session.Transition, error) {
	query := `
SELECT seq, activity_id, kind, type, recipients, result, recorded_at
FROM transitions
WHERE session_id = ?
ORDER BY seq ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []session.Transition
	for rows.Next() {
		var (
			seq        int64
			recipients string
			msgType    string
			result     sql.NullString
			recordedAt string
		)
		t := session.Transition{SessionID: sessionID}
		if err := rows.Scan(&seq, &t.ActivityID, &t.Kind, &msgType, &recipients, &result, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Seq = uint64(seq)
		t.Type = session.MessageType(msgType)
		t.Recipients = splitIDs(recipients)
		if result.Valid {
			var decoded activity.Result
			if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
				return nil, fmt.Errorf("decode result of transition %d: %w", seq, err)
			}
			t.Result = &decoded
		}
		if t.Time, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parse time of transition %d: %w", seq, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func joinIDs(ids []roster.MemberID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func splitIDs(value string) []roster.MemberID {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	ids := make([]roster.MemberID, len(parts))
	for i, part := range parts {
		ids[i] = roster.MemberID(part)
	}
	return ids
}
