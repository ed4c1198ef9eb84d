package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metrocast/weather-history/internal/models"
)

// SQLSTATE codes the store classifies.
const (
	pgErrUniqueViolation = "23505"

	// Class 08 (connection exception), 53 (insufficient resources) and
	// 57P03 (cannot connect now) all mean the database cannot serve us.
	pgErrClassConnection = "08"
	pgErrClassResources  = "53"
	pgErrCannotConnect   = "57P03"
)

const observationColumns = "id, city, ts, temperature, humidity, windspeed, feels_like, details, country, extra"

// PostgresStore implements Store on a pgxpool connection pool. The unique
// index on (city, ts) enforces the duplicate constraint at the storage layer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool, verifies reachability, and ensures the schema.
// Call before the HTTP listener starts accepting traffic.
func OpenPostgres(ctx context.Context, url string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse storage url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage pool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the observations table and its indexes if missing.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id          UUID PRIMARY KEY,
			city        TEXT NOT NULL,
			ts          TIMESTAMPTZ NOT NULL,
			temperature DOUBLE PRECISION,
			humidity    DOUBLE PRECISION,
			windspeed   DOUBLE PRECISION,
			feels_like  DOUBLE PRECISION,
			details     TEXT NOT NULL DEFAULT '',
			country     TEXT NOT NULL DEFAULT '',
			extra       JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS observations_city_ts_key ON observations (city, ts)`,
		`CREATE INDEX IF NOT EXISTS observations_city_ts_desc_idx ON observations (city, ts DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classifyPgError(err, "ensure schema")
		}
	}
	return nil
}

// Insert implements Store.Insert.
func (s *PostgresStore) Insert(ctx context.Context, obs models.Observation) (models.Observation, error) {
	obs.ID = uuid.New().String()
	extra := obs.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO observations (id, city, ts, temperature, humidity, windspeed, feels_like, details, country, extra)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		obs.ID, obs.City, obs.Timestamp,
		obs.Temperature, obs.Humidity, obs.WindSpeed, obs.FeelsLike,
		obs.Details, obs.Country, extra,
	)
	if err != nil {
		return models.Observation{}, classifyPgError(err, "insert observation")
	}
	return obs, nil
}

// FindMostRecent implements Store.FindMostRecent.
func (s *PostgresStore) FindMostRecent(ctx context.Context, city string, since time.Time) (models.Observation, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+observationColumns+`
		 FROM observations
		 WHERE city = $1 AND ts >= $2
		 ORDER BY ts DESC
		 LIMIT 1`,
		city, since,
	)
	obs, err := scanObservation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Observation{}, false, nil
		}
		return models.Observation{}, false, classifyPgError(err, "find most recent observation")
	}
	return obs, true, nil
}

// Query implements Store.Query.
func (s *PostgresStore) Query(ctx context.Context, cityFilter string, limit, offset int) ([]models.Observation, error) {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + observationColumns + ` FROM observations`
	args := []any{}
	if cityFilter != "" {
		query += ` WHERE city ILIKE '%' || $1 || '%'`
		args = append(args, escapeLike(cityFilter))
	}
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPgError(err, "query observations")
	}
	defer rows.Close()

	results := []models.Observation{}
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, classifyPgError(err, "scan observation")
		}
		results = append(results, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err, "iterate observations")
	}
	return results, nil
}

// DeleteOlderThan implements Store.DeleteOlderThan.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM observations WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, classifyPgError(err, "delete old observations")
	}
	return tag.RowsAffected(), nil
}

// Ping implements Store.Ping.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Store.Close.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanObservation reads one observations row in observationColumns order.
func scanObservation(row rowScanner) (models.Observation, error) {
	var obs models.Observation
	err := row.Scan(
		&obs.ID, &obs.City, &obs.Timestamp,
		&obs.Temperature, &obs.Humidity, &obs.WindSpeed, &obs.FeelsLike,
		&obs.Details, &obs.Country, &obs.Extra,
	)
	return obs, err
}

// classifyPgError maps driver errors onto the store's sentinel errors:
// unique violations become ErrDuplicate, connection-class failures become
// ErrUnavailable, context errors pass through, anything else is wrapped as-is.
func classifyPgError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgErrUniqueViolation:
			return fmt.Errorf("%s: %w", op, ErrDuplicate)
		case strings.HasPrefix(pgErr.Code, pgErrClassConnection),
			strings.HasPrefix(pgErr.Code, pgErrClassResources),
			pgErr.Code == pgErrCannotConnect:
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// Non-SQLSTATE failures (dial errors, closed pool, broken connections)
	// all mean the store could not be reached.
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// escapeLike escapes LIKE/ILIKE metacharacters so the city filter is treated
// as a literal substring.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
