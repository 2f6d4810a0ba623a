// Package usage persists per-call usage for billing and analytics.
//
// DESIGN: Fire-and-forget: the gateway records after each successful call
// and a ledger failure is logged, never surfaced. The default ledger is a
// local SQLite file; deployments with a real analytics pipeline implement
// Recorder themselves.
package usage

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Event is one completed AI call.
type Event struct {
	At           time.Time
	TenantID     string
	UserID       string
	Mode         string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Recorder receives usage events.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

const schema = `
CREATE TABLE IF NOT EXISTS ai_calls (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            INTEGER NOT NULL,
	tenant_id     TEXT    NOT NULL,
	user_id       TEXT    NOT NULL,
	mode          TEXT    NOT NULL,
	model         TEXT    NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ai_calls_ts ON ai_calls (ts);
CREATE INDEX IF NOT EXISTS idx_ai_calls_tenant ON ai_calls (tenant_id, ts);
`

// SQLiteLedger is the default Recorder.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed initializes) the ledger at path.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY churn under concurrent recorders.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

// Record implements Recorder.
func (l *SQLiteLedger) Record(ctx context.Context, ev Event) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO ai_calls (ts, tenant_id, user_id, mode, model, input_tokens, output_tokens, total_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		at.Unix(), ev.TenantID, ev.UserID, ev.Mode, ev.Model,
		ev.InputTokens, ev.OutputTokens, ev.TotalTokens)
	if err != nil {
		log.Debug().Err(err).Msg("usage ledger write failed")
	}
}

// TotalTokensSince sums recorded tokens for a tenant since a point in time
// (operator CLI and dashboards).
func (l *SQLiteLedger) TotalTokensSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var total sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT SUM(total_tokens) FROM ai_calls WHERE tenant_id = ? AND ts >= ?`,
		tenantID, since.Unix()).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Nop discards usage events (tests, disabled analytics).
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) {}
