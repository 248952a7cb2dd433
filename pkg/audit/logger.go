package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Event kinds written by the completion pipeline.
const (
	KindAdmitted   = "admitted"
	KindRejected   = "rejected"
	KindAttempt    = "attempt"
	KindSuccess    = "success"
	KindDegraded   = "degraded"
	KindError      = "error"
	KindArchived   = "archived"
	KindAuthFailed = "auth_failed"
)

/*
Event is one append-only audit record. Model and Detail are optional
and depend on the kind: attempts carry the model and its outcome,
errors carry the error message.
*/
type Event struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	CallerID  string    `json:"caller_id"`
	SessionID string    `json:"session_id,omitempty"`
	Kind      string    `json:"kind"`
	Model     string    `json:"model,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

/*
Logger appends pipeline events to a SQLite database. Writes are best
effort: a failed insert is logged and swallowed, a completion request
never fails because its audit trail does.
*/
type Logger struct {
	db *sql.DB
}

// NewLogger opens or creates the audit database at the given path.
func NewLogger(dbPath string) (*Logger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	logger := &Logger{db: db}

	if err := logger.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	return logger, nil
}

func (logger *Logger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		caller_id  TEXT NOT NULL,
		session_id TEXT,
		kind       TEXT NOT NULL,
		model      TEXT,
		detail     TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_caller ON events(caller_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_request ON events(request_id);
	`
	_, err := logger.db.Exec(schema)
	return err
}

/*
Record appends one event. The id and timestamp are filled in here;
callers only describe what happened.
*/
func (logger *Logger) Record(ctx context.Context, event Event) {
	event.ID = ulid.Make().String()
	event.CreatedAt = time.Now().UTC()

	_, err := logger.db.ExecContext(ctx,
		`INSERT INTO events (id, request_id, caller_id, session_id, kind, model, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.RequestID, event.CallerID, event.SessionID,
		event.Kind, event.Model, event.Detail,
		event.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		log.Error("failed to record audit event",
			"kind", event.Kind,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}

// Tail returns the newest events, newest first. Events sort by id:
// ULIDs encode their creation time, so id order is insertion order.
func (logger *Logger) Tail(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := logger.db.QueryContext(ctx,
		`SELECT id, request_id, caller_id, session_id, kind, model, detail, created_at
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ByRequest returns every event of one request, oldest first.
func (logger *Logger) ByRequest(ctx context.Context, requestID string) ([]Event, error) {
	rows, err := logger.db.QueryContext(ctx,
		`SELECT id, request_id, caller_id, session_id, kind, model, detail, created_at
		 FROM events WHERE request_id = ? ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	events := make([]Event, 0)

	for rows.Next() {
		var (
			event     Event
			createdAt string
		)

		if err := rows.Scan(
			&event.ID, &event.RequestID, &event.CallerID, &event.SessionID,
			&event.Kind, &event.Model, &event.Detail, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		events = append(events, event)
	}

	return events, rows.Err()
}

func (logger *Logger) Ping(ctx context.Context) error {
	return logger.db.PingContext(ctx)
}

func (logger *Logger) Close() error {
	return logger.db.Close()
}
