package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apthunt/harvester/models"
)

// PostgresStore is the durable Store used outside tests.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against dsn and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS script_versions (
	site          text        NOT NULL,
	version       int         NOT NULL,
	body          text        NOT NULL,
	provenance    text        NOT NULL,
	repaired_from text        NOT NULL DEFAULT '',
	created_at    timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (site, version)
);
CREATE TABLE IF NOT EXISTS active_versions (
	site    text PRIMARY KEY,
	version int  NOT NULL
);
CREATE TABLE IF NOT EXISTS attempts (
	id             text        PRIMARY KEY,
	request_id     text        NOT NULL,
	seq            int         NOT NULL,
	site           text        NOT NULL,
	script_version int         NOT NULL,
	started_at     timestamptz NOT NULL,
	ended_at       timestamptz NOT NULL,
	success        boolean     NOT NULL,
	status_code    int         NOT NULL DEFAULT 0,
	err_text       text        NOT NULL DEFAULT '',
	timed_out      boolean     NOT NULL DEFAULT false,
	html_snapshot  text        NOT NULL DEFAULT '',
	user_agent     text        NOT NULL DEFAULT '',
	proxy          text        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS attempts_request_idx ON attempts (request_id, seq);
`)
	if err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}
	return nil
}

// Active implements Store.
func (s *PostgresStore) Active(ctx context.Context, site string) (models.ScriptVersion, error) {
	var v models.ScriptVersion
	err := s.pool.QueryRow(ctx, `
SELECT sv.site, sv.version, sv.body, sv.provenance, sv.repaired_from, sv.created_at
FROM active_versions av
JOIN script_versions sv ON sv.site = av.site AND sv.version = av.version
WHERE av.site = $1
`, site).Scan(&v.Site, &v.Version, &v.Body, &v.Provenance, &v.RepairedFrom, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ScriptVersion{}, ErrSiteNotFound
	}
	if err != nil {
		return models.ScriptVersion{}, fmt.Errorf("load active version: %w", err)
	}
	return v, nil
}

// Seed implements Store.
func (s *PostgresStore) Seed(ctx context.Context, site, body string, force bool) (models.ScriptVersion, error) {
	return s.install(ctx, site, body, models.ProvenanceSeed, "", func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM script_versions WHERE site = $1`, site).Scan(&count); err != nil {
			return fmt.Errorf("count versions: %w", err)
		}
		if count > 0 && !force {
			return ErrAlreadySeeded
		}
		return nil
	})
}

// Promote implements Store. The active pointer moves only if it still
// equals expectVersion inside the same transaction (compare-and-swap).
func (s *PostgresStore) Promote(ctx context.Context, site string, expectVersion int, body string, prov models.Provenance, repairedFrom string) (models.ScriptVersion, error) {
	return s.install(ctx, site, body, prov, repairedFrom, func(tx pgx.Tx) error {
		var active int
		err := tx.QueryRow(ctx,
			`SELECT version FROM active_versions WHERE site = $1 FOR UPDATE`, site).Scan(&active)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSiteNotFound
		}
		if err != nil {
			return fmt.Errorf("lock active version: %w", err)
		}
		if active != expectVersion {
			return ErrVersionConflict
		}
		return nil
	})
}

func (s *PostgresStore) install(ctx context.Context, site, body string, prov models.Provenance, repairedFrom string, guard func(pgx.Tx) error) (models.ScriptVersion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.ScriptVersion{}, fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := guard(tx); err != nil {
		return models.ScriptVersion{}, err
	}

	var v models.ScriptVersion
	err = tx.QueryRow(ctx, `
INSERT INTO script_versions (site, version, body, provenance, repaired_from)
VALUES ($1, COALESCE((SELECT max(version) FROM script_versions WHERE site = $1), 0) + 1, $2, $3, $4)
RETURNING site, version, body, provenance, repaired_from, created_at
`, site, body, string(prov), repairedFrom).Scan(&v.Site, &v.Version, &v.Body, &v.Provenance, &v.RepairedFrom, &v.CreatedAt)
	if err != nil {
		return models.ScriptVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO active_versions (site, version) VALUES ($1, $2)
ON CONFLICT (site) DO UPDATE SET version = EXCLUDED.version
`, site, v.Version); err != nil {
		return models.ScriptVersion{}, fmt.Errorf("move active pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.ScriptVersion{}, fmt.Errorf("commit promote: %w", err)
	}
	return v, nil
}

// RecordAttempt implements Store.
func (s *PostgresStore) RecordAttempt(ctx context.Context, attempt models.Attempt) error {
	var (
		statusCode int
		errText    string
		timedOut   bool
		html       string
		userAgent  string
		proxy      string
	)
	if d := attempt.Diagnostics; d != nil {
		statusCode = d.StatusCode
		errText = d.ErrText
		timedOut = d.TimedOut
		html = d.HTML
		userAgent = d.Identity.UserAgent
		proxy = d.Identity.Proxy
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO attempts (id, request_id, seq, site, script_version, started_at, ended_at,
	success, status_code, err_text, timed_out, html_snapshot, user_agent, proxy)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`, attempt.ID, attempt.RequestID, attempt.Seq, attempt.Site, attempt.ScriptVersion,
		attempt.StartedAt, attempt.EndedAt, attempt.Success,
		statusCode, errText, timedOut, html, userAgent, proxy)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Attempts implements Store.
func (s *PostgresStore) Attempts(ctx context.Context, requestID string) ([]models.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, request_id, seq, site, script_version, started_at, ended_at, success,
	status_code, err_text, timed_out, html_snapshot, user_agent, proxy
FROM attempts WHERE request_id = $1 ORDER BY seq
`, requestID)
	if err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}
	defer rows.Close()

	var out []models.Attempt
	for rows.Next() {
		var (
			a          models.Attempt
			statusCode int
			errText    string
			timedOut   bool
			html       string
			userAgent  string
			proxy      string
		)
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Seq, &a.Site, &a.ScriptVersion,
			&a.StartedAt, &a.EndedAt, &a.Success,
			&statusCode, &errText, &timedOut, &html, &userAgent, &proxy); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if !a.Success {
			a.Diagnostics = &models.DiagnosticBundle{
				StatusCode: statusCode,
				ErrText:    errText,
				TimedOut:   timedOut,
				HTML:       html,
				Identity:   models.RequestIdentity{UserAgent: userAgent, Proxy: proxy},
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
