package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the clips table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS clips (
    session      TEXT NOT NULL,
    device       TEXT NOT NULL,
    target_pid   TEXT NOT NULL,
    segment      INTEGER NOT NULL,
    run_id       TEXT NOT NULL DEFAULT '',
    audio_path   TEXT NOT NULL,
    video_path   TEXT NOT NULL,
    mix_path     TEXT NOT NULL,
    window_start DOUBLE PRECISION NOT NULL,
    window_end   DOUBLE PRECISION NOT NULL,
    duration     DOUBLE PRECISION NOT NULL,
    frames       INTEGER NOT NULL,
    built_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (session, device, target_pid, segment)
);
CREATE INDEX IF NOT EXISTS idx_clips_run ON clips(run_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db    DB
	close func()
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over an existing connection or
// pool. The caller owns db and is responsible for calling
// [PostgresStore.Migrate] before recording.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, verifies the connection and migrates
// the schema. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("catalog: postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Record implements [Store] as an upsert on the clip key.
func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	if err := e.prepare(); err != nil {
		return err
	}

	const query = `
		INSERT INTO clips (
			session, device, target_pid, segment, run_id,
			audio_path, video_path, mix_path,
			window_start, window_end, duration, frames, built_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (session, device, target_pid, segment) DO UPDATE SET
			run_id       = EXCLUDED.run_id,
			audio_path   = EXCLUDED.audio_path,
			video_path   = EXCLUDED.video_path,
			mix_path     = EXCLUDED.mix_path,
			window_start = EXCLUDED.window_start,
			window_end   = EXCLUDED.window_end,
			duration     = EXCLUDED.duration,
			frames       = EXCLUDED.frames,
			built_at     = EXCLUDED.built_at`

	_, err := s.db.Exec(ctx, query,
		e.Session, e.Device, e.TargetPID, e.Segment, e.RunID,
		e.AudioPath, e.VideoPath, e.MixPath,
		e.WindowStart, e.WindowEnd, e.Duration, e.Frames, e.BuiltAt,
	)
	if err != nil {
		return fmt.Errorf("catalog: record %s: %w", e.Key, err)
	}
	return nil
}

// Has implements [Store].
func (s *PostgresStore) Has(ctx context.Context, k Key) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM clips
			WHERE session = $1 AND device = $2 AND target_pid = $3 AND segment = $4
		)`

	var ok bool
	if err := s.db.QueryRow(ctx, query, k.Session, k.Device, k.TargetPID, k.Segment).Scan(&ok); err != nil {
		return false, fmt.Errorf("catalog: lookup %s: %w", k, err)
	}
	return ok, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	const query = `
		SELECT session, device, target_pid, segment, run_id,
		       audio_path, video_path, mix_path,
		       window_start, window_end, duration, frames, built_at
		FROM clips
		ORDER BY session, device, target_pid, segment`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.Session, &e.Device, &e.TargetPID, &e.Segment, &e.RunID,
			&e.AudioPath, &e.VideoPath, &e.MixPath,
			&e.WindowStart, &e.WindowEnd, &e.Duration, &e.Frames, &e.BuiltAt,
		)
		if err != nil {
			return nil, fmt.Errorf("catalog: list: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return out, nil
}

// Close implements [Store]. It closes the pool opened by [OpenPostgres] and
// leaves a caller-supplied DB alone.
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
