// Package postgres provides the Postgres-backed episode store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toonfeed/crawler/internal/comic"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for episode rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists episodes in Postgres, one row per (series_key, no).
type Store struct {
	pool  querier
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "episodes"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "episodes"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// MaxNumber returns the highest episode number stored for the series.
func (s *Store) MaxNumber(ctx context.Context, seriesKey string) (int, bool, error) {
	query := fmt.Sprintf(`SELECT MAX(no) FROM %s WHERE series_key = $1`, s.table)
	var max *int
	if err := s.pool.QueryRow(ctx, query, seriesKey).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("select max episode number: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// Upsert writes episodes, overwriting any row that already holds the
// same (series_key, no) pair.
func (s *Store) Upsert(ctx context.Context, seriesKey string, episodes []comic.Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	series_key,
	no,
	url,
	title,
	book,
	image_urls,
	description,
	published_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (series_key, no) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	book = EXCLUDED.book,
	image_urls = EXCLUDED.image_urls,
	description = EXCLUDED.description,
	published_at = EXCLUDED.published_at`, s.table)

	for _, ep := range episodes {
		images, err := json.Marshal(normalizeImageURLs(ep.ImageURLs))
		if err != nil {
			return fmt.Errorf("marshal image urls: %w", err)
		}
		args := []any{
			seriesKey,
			ep.Number,
			ep.URL,
			ep.Title,
			ep.Book,
			images,
			ep.Description,
			ep.PublishedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert episode %d: %w", ep.Number, err)
		}
	}
	return nil
}

// Page returns episodes for the series ordered newest first.
func (s *Store) Page(ctx context.Context, seriesKey string, offset, limit int) ([]comic.Episode, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("offset and limit must be non-negative")
	}
	query := fmt.Sprintf(`
SELECT no, url, title, book, image_urls, description, published_at
FROM %s
WHERE series_key = $1
ORDER BY published_at DESC, no DESC
OFFSET $2`, s.table)
	args := []any{seriesKey, offset}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select episodes: %w", err)
	}
	defer rows.Close()

	var episodes []comic.Episode
	for rows.Next() {
		var (
			ep     comic.Episode
			images []byte
		)
		if err := rows.Scan(&ep.Number, &ep.URL, &ep.Title, &ep.Book, &images, &ep.Description, &ep.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan episode row: %w", err)
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &ep.ImageURLs); err != nil {
				return nil, fmt.Errorf("unmarshal image urls for episode %d: %w", ep.Number, err)
			}
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episode rows: %w", err)
	}
	return episodes, nil
}

func normalizeImageURLs(urls []string) []string {
	if urls == nil {
		return []string{}
	}
	return urls
}
