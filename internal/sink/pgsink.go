package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	"github.com/wardgate/snare/internal/event"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateTableName guards the one identifier we interpolate into SQL.
func validateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// PGSink keeps a durable record of decisions and verdicts in Postgres. One
// row per event: (event_id, ts, type, payload jsonb). Single-statement
// inserts: the event volume on the escalation path is low, and durability
// here is best-effort by design — a failed insert never blocks a verdict.
type PGSink struct {
	dsn   string
	table string
	db    *sql.DB
}

func NewPGSinkFromEnv() *PGSink {
	return &PGSink{
		dsn:   getEnvOr("PG_DSN", "postgres://localhost/snare?sslmode=disable"),
		table: getEnvOr("PG_TABLE", "decision_events"),
	}
}

func NewPGSink(dsn, table string) *PGSink {
	return &PGSink{dsn: dsn, table: table}
}

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.table); err != nil {
		return err
	}
	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id uuid PRIMARY KEY,
		ts timestamptz NOT NULL,
		type text NOT NULL,
		payload jsonb NOT NULL
	)`, s.table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return fmt.Errorf("ensure table %s: %w", s.table, err)
	}
	s.db = db
	return nil
}

func (s *PGSink) Enqueue(e event.Event) error {
	if s.db == nil {
		return fmt.Errorf("pg sink not started")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	// ON CONFLICT DO NOTHING keeps re-delivery idempotent per event_id.
	q := fmt.Sprintf(
		`INSERT INTO %s (event_id, ts, type, payload) VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`,
		s.table,
	)
	if _, err := s.db.Exec(q, e.EventID, e.TS, e.Type, payload); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PGSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PGSink) Name() string { return "postgres" }

// setDB injects a prepared handle. Test hook for sqlmock.
func (s *PGSink) setDB(db *sql.DB) { s.db = db }
