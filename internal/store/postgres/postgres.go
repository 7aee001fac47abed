package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/draftmill/draftmill/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			session_id        TEXT PRIMARY KEY,
			query             TEXT NOT NULL,
			status            TEXT NOT NULL,
			phase             TEXT NOT NULL,
			completion_reason TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			session_id TEXT PRIMARY KEY,
			artifact   JSONB NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id  TEXT NOT NULL,
			step_id     TEXT NOT NULL,
			result      JSONB NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session_id, step_id)
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			session_id TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			type       TEXT NOT NULL,
			timestamp  TEXT NOT NULL,
			source     TEXT,
			trace_id   TEXT,
			payload    JSONB,
			PRIMARY KEY (session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS run_event_sequences (
			session_id TEXT PRIMARY KEY,
			seq        BIGINT NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) CreateRun(ctx context.Context, run store.Run) error {
	const query = `
		INSERT INTO runs (session_id, query, status, phase, completion_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		run.SessionID,
		run.Query,
		run.Status,
		run.Phase,
		nullString(run.CompletionReason),
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetRun(ctx context.Context, sessionID string) (*store.Run, error) {
	const query = `
		SELECT session_id, query, status, phase, completion_reason, created_at, updated_at
		FROM runs WHERE session_id = $1
	`
	row := p.db.QueryRowContext(ctx, query, sessionID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (p *PostgresStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	const query = `
		SELECT session_id, query, status, phase, completion_reason, created_at, updated_at
		FROM runs ORDER BY created_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (p *PostgresStore) UpdateRunStatus(ctx context.Context, sessionID string, status string, phase string, reason string) error {
	const query = `
		UPDATE runs
		SET status = COALESCE(NULLIF($2, ''), status),
			phase = COALESCE(NULLIF($3, ''), phase),
			completion_reason = COALESCE(NULLIF($4, ''), completion_reason),
			updated_at = $5
		WHERE session_id = $1
	`
	_, err := p.db.ExecContext(ctx, query, sessionID, status, phase, reason, nowRFC3339())
	return err
}

func (p *PostgresStore) PutReport(ctx context.Context, sessionID string, artifact store.ReportArtifact) error {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO reports (session_id, artifact, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET artifact = EXCLUDED.artifact, updated_at = EXCLUDED.updated_at
	`
	_, err = p.db.ExecContext(ctx, query, sessionID, payload, nowRFC3339())
	return err
}

func (p *PostgresStore) GetReport(ctx context.Context, sessionID string) (*store.ReportArtifact, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, "SELECT artifact FROM reports WHERE session_id = $1", sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var artifact store.ReportArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func (p *PostgresStore) PutCheckpoint(ctx context.Context, checkpoint store.Checkpoint) error {
	const query = `
		INSERT INTO checkpoints (session_id, step_id, result, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, step_id) DO NOTHING
	`
	result := checkpoint.Result
	if result == nil {
		result = json.RawMessage("null")
	}
	_, err := p.db.ExecContext(ctx, query, checkpoint.SessionID, checkpoint.StepID, []byte(result), checkpoint.RecordedAt)
	return err
}

func (p *PostgresStore) GetCheckpoint(ctx context.Context, sessionID string, stepID string) (*store.Checkpoint, error) {
	const query = `
		SELECT session_id, step_id, result, recorded_at
		FROM checkpoints WHERE session_id = $1 AND step_id = $2
	`
	var checkpoint store.Checkpoint
	var result []byte
	err := p.db.QueryRowContext(ctx, query, sessionID, stepID).Scan(
		&checkpoint.SessionID,
		&checkpoint.StepID,
		&result,
		&checkpoint.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	checkpoint.Result = json.RawMessage(result)
	return &checkpoint, nil
}

func (p *PostgresStore) ListCheckpoints(ctx context.Context, sessionID string) ([]store.Checkpoint, error) {
	const query = `
		SELECT session_id, step_id, result, recorded_at
		FROM checkpoints WHERE session_id = $1 ORDER BY step_id
	`
	rows, err := p.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []store.Checkpoint
	for rows.Next() {
		var checkpoint store.Checkpoint
		var result []byte
		if err := rows.Scan(&checkpoint.SessionID, &checkpoint.StepID, &result, &checkpoint.RecordedAt); err != nil {
			return nil, err
		}
		checkpoint.Result = json.RawMessage(result)
		checkpoints = append(checkpoints, checkpoint)
	}
	return checkpoints, rows.Err()
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO run_events (session_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		event.SessionID,
		event.Seq,
		event.Type,
		event.Timestamp,
		nullString(event.Source),
		nullString(event.TraceID),
		payload,
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, sessionID string, afterSeq int64) ([]store.RunEvent, error) {
	const query = `
		SELECT session_id, seq, type, timestamp, source, trace_id, payload
		FROM run_events WHERE session_id = $1 AND seq > $2 ORDER BY seq
	`
	rows, err := p.db.QueryContext(ctx, query, sessionID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.RunEvent
	for rows.Next() {
		var event store.RunEvent
		var source, traceID sql.NullString
		var payload []byte
		if err := rows.Scan(&event.SessionID, &event.Seq, &event.Type, &event.Timestamp, &source, &traceID, &payload); err != nil {
			return nil, err
		}
		event.Source = source.String
		event.TraceID = traceID.String
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (p *PostgresStore) NextSeq(ctx context.Context, sessionID string) (int64, error) {
	const query = `
		INSERT INTO run_event_sequences (session_id, seq)
		VALUES ($1, 1)
		ON CONFLICT (session_id) DO UPDATE SET seq = run_event_sequences.seq + 1
		RETURNING seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, sessionID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.Run, error) {
	var run store.Run
	var reason sql.NullString
	err := row.Scan(
		&run.SessionID,
		&run.Query,
		&run.Status,
		&run.Phase,
		&reason,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.CompletionReason = reason.String
	return run, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
