// Package pgstore implements link.Store on PostgreSQL using pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/link"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS links (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	url        text NOT NULL,
	title      text,
	tags       text[] NOT NULL DEFAULT '{}',
	notes      text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT links_url_not_empty CHECK (url <> '')
);

CREATE INDEX IF NOT EXISTS links_updated_at_idx ON links (updated_at DESC);
`

// columns is the select list shared by every query. Its order matches the
// fields of link.Link so rows scan with pgx.RowToStructByPos.
const columns = `id::text, url, title, coalesce(tags, '{}'), notes, created_at, updated_at`

// querier is the subset of pgxpool.Pool and pgx.Tx the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config holds pool sizing and optional collaborators.
type Config struct {
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
	Clock          func() time.Time
	Logger         *slog.Logger
}

// Store implements link.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger *slog.Logger
}

// Open connects to dsn, verifies the connection and makes sure the links
// table exists.
func Open(ctx context.Context, dsn string, cfg *Config) (*Store, error) {
	const op = "pgstore.Open"

	if cfg == nil {
		cfg = &Config{}
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("parse database url: %w", err))
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("create pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("ping database: %w", err))
	}

	s := New(pool, cfg)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, errx.Wrap(op, err)
	}

	s.logger.Info("connected to postgres",
		"max_conns", poolConfig.MaxConns,
		"min_conns", poolConfig.MinConns,
	)
	return s, nil
}

// New wraps an existing pool. The schema is not touched.
func New(pool *pgxpool.Pool, cfg *Config) *Store {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Store{pool: pool, now: cfg.Clock, logger: cfg.Logger}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Store) migrate(ctx context.Context) error {
	const op = "pgstore.migrate"

	// no arguments: pgx uses the simple protocol, which accepts several statements
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// timestamp returns the current time at the precision Postgres stores.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Store) List(ctx context.Context, q link.ListQuery) (link.Page, error) {
	const op = "pgstore.List"

	where, args := buildWhere(q)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM links"+where, args...).Scan(&total); err != nil {
		return link.Page{}, mapError(op, err)
	}

	sql, args := buildPage(where, args, q.Limit, q.Offset)
	links, err := s.collect(ctx, s.pool, sql, args...)
	if err != nil {
		return link.Page{}, mapError(op, err)
	}

	return link.Page{Links: links, Total: total}, nil
}

func (s *Store) Create(ctx context.Context, d link.Draft) (link.Link, error) {
	const op = "pgstore.Create"

	now := s.timestamp()
	rows, err := s.pool.Query(ctx, insertSQL, insertArgs(d, now)...)
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLink)
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	return l, nil
}

// CreateBulk inserts every draft in one transaction. Any failure rolls the
// whole batch back.
func (s *Store) CreateBulk(ctx context.Context, ds []link.Draft) ([]link.Link, error) {
	const op = "pgstore.CreateBulk"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer func() {
		// no-op after commit
		_ = tx.Rollback(ctx)
	}()

	now := s.timestamp()
	batch := &pgx.Batch{}
	for _, d := range ds {
		batch.Queue(insertSQL, insertArgs(d, now)...)
	}

	created := make([]link.Link, 0, len(ds))
	br := tx.SendBatch(ctx, batch)
	for i := range ds {
		rows, err := br.Query()
		if err != nil {
			_ = br.Close()
			return nil, bulkError(op, i, err)
		}
		l, err := pgx.CollectExactlyOneRow(rows, scanLink)
		if err != nil {
			_ = br.Close()
			return nil, bulkError(op, i, err)
		}
		created = append(created, l)
	}
	if err := br.Close(); err != nil {
		return nil, bulkError(op, len(ds)-1, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errx.E(op, errx.Integrity, fmt.Errorf("commit: %w", err))
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id string) (link.Link, error) {
	const op = "pgstore.Get"

	if !validID(id) {
		return link.Link{}, errx.E(op, errx.NotFound, link.ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, "SELECT "+columns+" FROM links WHERE id = $1", id)
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLink)
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	return l, nil
}

func (s *Store) Update(ctx context.Context, id string, p link.Patch) (link.Link, error) {
	const op = "pgstore.Update"

	if !validID(id) {
		return link.Link{}, errx.E(op, errx.NotFound, link.ErrNotFound)
	}

	sql, args := buildUpdate(id, p, s.timestamp())
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanLink)
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	return l, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	const op = "pgstore.Delete"

	if !validID(id) {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx, "DELETE FROM links WHERE id = $1", id)
	if err != nil {
		return false, mapError(op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ExportAll(ctx context.Context) ([]link.Link, error) {
	const op = "pgstore.ExportAll"

	links, err := s.collect(ctx, s.pool, "SELECT "+columns+" FROM links ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, mapError(op, err)
	}
	return links, nil
}

func (s *Store) collect(ctx context.Context, q querier, sql string, args ...any) ([]link.Link, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	links, err := pgx.CollectRows(rows, scanLink)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []link.Link{}
	}
	return links, nil
}

func scanLink(row pgx.CollectableRow) (link.Link, error) {
	l, err := pgx.RowToStructByPos[link.Link](row)
	if err != nil {
		return link.Link{}, err
	}
	l.Tags = link.NormalizeTags(l.Tags)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

const insertSQL = `INSERT INTO links (url, title, tags, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
RETURNING ` + columns

func insertArgs(d link.Draft, now time.Time) []any {
	return []any{d.URL, d.Title, link.NormalizeTags(d.Tags), d.Notes, now}
}

// buildWhere returns the WHERE clause (with a leading space, or empty) and
// its positional arguments for the filters in q.
func buildWhere(q link.ListQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.Tag != "" {
		args = append(args, q.Tag)
		conds = append(conds, "$"+strconv.Itoa(len(args))+" = ANY(tags)")
	}
	if q.Query != "" {
		args = append(args, q.ContainsPattern())
		n := "$" + strconv.Itoa(len(args))
		conds = append(conds, "(coalesce(title, '') ILIKE "+n+" OR url ILIKE "+n+" OR coalesce(notes, '') ILIKE "+n+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildPage appends ordering and paging to a filtered select.
func buildPage(where string, args []any, limit, offset int) (string, []any) {
	args = append(args, limit, offset)
	n := len(args)
	sql := "SELECT " + columns + " FROM links" + where +
		" ORDER BY updated_at DESC, id" +
		" LIMIT $" + strconv.Itoa(n-1) + " OFFSET $" + strconv.Itoa(n)
	return sql, args
}

// buildUpdate sets the supplied columns of p and always refreshes updated_at,
// never letting it fall behind created_at.
func buildUpdate(id string, p link.Patch, now time.Time) (string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if v, ok := p.URL.Get(); ok {
		set("url", v)
	}
	if v, ok := p.Title.Get(); ok {
		set("title", v)
	}
	if v, ok := p.Tags.Get(); ok {
		set("tags", link.NormalizeTags(v))
	}
	if v, ok := p.Notes.Get(); ok {
		set("notes", v)
	}

	args = append(args, now)
	sets = append(sets, "updated_at = GREATEST($"+strconv.Itoa(len(args))+"::timestamptz, created_at)")
	args = append(args, id)

	sql := "UPDATE links SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) +
		" RETURNING " + columns
	return sql, args
}

// validID accepts only the canonical 36 character form. uuid.Parse also takes
// braced, bare hex and urn:uuid: spellings, which the column type may reject.
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// isConstraintViolation reports whether err is an integrity constraint
// violation (SQLSTATE class 23).
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "23")
}

// isDataException reports whether err is a rejected value (SQLSTATE class 22),
// such as a NUL byte in a text column.
func isDataException(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22")
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, link.ErrNotFound)
	case isConstraintViolation(err):
		return errx.E(op, errx.Integrity, err)
	case isDataException(err):
		return errx.E(op, errx.Invalid, err)
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

func bulkError(op string, i int, err error) error {
	return errx.E(op, errx.Integrity, fmt.Errorf("link %d: %w", i, err))
}
