package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps sessions and captures in two tables. Row-level
// transactions replace the file store's global lock; a bigserial sequence
// preserves creation order for listing.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			status TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_seq ON sessions (seq DESC);`,
		`CREATE TABLE IF NOT EXISTS captures (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			ts TIMESTAMPTZ NOT NULL,
			emotion TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			face_detected BOOLEAN NOT NULL DEFAULT FALSE,
			face_x INTEGER NULL,
			face_y INTEGER NULL,
			face_w INTEGER NULL,
			face_h INTEGER NULL,
			image_ref TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_captures_session ON captures (session_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init session schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context) (Session, error) {
	sess := newSession(s.now())
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, started_at, ended_at, status) VALUES ($1,$2,NULL,$3)`,
		sess.ID, sess.StartedAt, string(sess.Status),
	)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) AppendCapture(ctx context.Context, sessionID string, c Capture) (Capture, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return Capture{}, err
	}
	if sess.Status != StatusActive {
		return Capture{}, ErrNotActive
	}

	var lastTS *time.Time
	row := tx.QueryRow(ctx,
		`SELECT ts FROM captures WHERE session_id=$1 ORDER BY id DESC LIMIT 1`, sessionID)
	var prev time.Time
	switch err := row.Scan(&prev); {
	case err == nil:
		lastTS = &prev
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return Capture{}, fmt.Errorf("read last capture: %w", err)
	}

	c.Timestamp = c.Timestamp.UTC()
	if c.Timestamp.Before(sess.StartedAt) {
		c.Timestamp = sess.StartedAt
	}
	if lastTS != nil && c.Timestamp.Before(*lastTS) {
		c.Timestamp = *lastTS
	}

	var faceX, faceY, faceW, faceH *int
	if c.FaceBox != nil {
		faceX, faceY, faceW, faceH = &c.FaceBox.X, &c.FaceBox.Y, &c.FaceBox.Width, &c.FaceBox.Height
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO captures (session_id, ts, emotion, confidence, source, face_detected,
			face_x, face_y, face_w, face_h, image_ref)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sessionID, c.Timestamp, c.Emotion, c.Confidence, c.Source, c.FaceDetected,
		faceX, faceY, faceW, faceH, c.ImageRef,
	)
	if err != nil {
		return Capture{}, fmt.Errorf("insert capture: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Capture{}, fmt.Errorf("commit tx: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) StopSession(ctx context.Context, sessionID string) (Summary, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	now := s.now().UTC()
	if sess.Status == StatusActive {
		if _, err := tx.Exec(ctx,
			`UPDATE sessions SET status=$1, ended_at=$2 WHERE id=$3`,
			string(StatusStopped), now, sessionID,
		); err != nil {
			return Summary{}, fmt.Errorf("stop session: %w", err)
		}
		sess.Status = StatusStopped
		sess.EndedAt = &now
	}
	sess.Captures, err = loadCaptures(ctx, tx, sessionID)
	if err != nil {
		return Summary{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Summary{}, fmt.Errorf("commit tx: %w", err)
	}
	return Summarize(sess, now), nil
}

func (s *PostgresStore) ListSummaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, ended_at, status FROM sessions ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	now := s.now().UTC()
	out := []Summary{}
	var ids []string
	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
		ids = append(ids, sess.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for i, id := range ids {
		captures, err := queryCaptures(ctx, s.pool, id)
		if err != nil {
			return nil, err
		}
		sessions[i].Captures = captures
		out = append(out, Summarize(sessions[i], now))
	}
	return out, nil
}

func (s *PostgresStore) GetDetail(ctx context.Context, sessionID string) (Detail, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, started_at, ended_at, status FROM sessions WHERE id=$1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Detail{}, ErrNotFound
		}
		return Detail{}, err
	}
	sess.Captures, err = queryCaptures(ctx, s.pool, sessionID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{
		Session:  Summarize(sess, s.now().UTC()),
		Timeline: Timeline(sess),
	}, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	sess.Captures, err = loadCaptures(ctx, tx, sessionID)
	if err != nil {
		return Session{}, err
	}
	// ON DELETE CASCADE removes the captures.
	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, sessionID); err != nil {
		return Session{}, fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) (Session, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, started_at, ended_at, status FROM sessions WHERE id=$1 FOR UPDATE`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		sess   Session
		status string
		ended  *time.Time
	)
	if err := row.Scan(&sess.ID, &sess.StartedAt, &ended, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = sess.StartedAt.UTC()
	if ended != nil {
		t := ended.UTC()
		sess.EndedAt = &t
	}
	sess.Status = Status(status)
	return sess, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryCaptures(ctx context.Context, q querier, sessionID string) ([]Capture, error) {
	rows, err := q.Query(ctx,
		`SELECT ts, emotion, confidence, source, face_detected, face_x, face_y, face_w, face_h, image_ref
		   FROM captures WHERE session_id=$1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	captures := []Capture{}
	for rows.Next() {
		var (
			c                          Capture
			faceX, faceY, faceW, faceH *int
		)
		if err := rows.Scan(&c.Timestamp, &c.Emotion, &c.Confidence, &c.Source,
			&c.FaceDetected, &faceX, &faceY, &faceW, &faceH, &c.ImageRef); err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		if faceX != nil && faceY != nil && faceW != nil && faceH != nil {
			c.FaceBox = &Box{X: *faceX, Y: *faceY, Width: *faceW, Height: *faceH}
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return captures, nil
}

func loadCaptures(ctx context.Context, tx pgx.Tx, sessionID string) ([]Capture, error) {
	return queryCaptures(ctx, tx, sessionID)
}
