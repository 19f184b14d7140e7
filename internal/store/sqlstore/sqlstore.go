// Package sqlstore implements link.Store on SQLite, either a local file
// through modernc.org/sqlite or a remote libSQL (Turso) database.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/idgen"
	"github.com/linksapi/links/internal/link"
)

// timeLayout is fixed width so that text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS links (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL CONSTRAINT links_url_not_empty CHECK (url <> ''),
	title      TEXT,
	tags       TEXT NOT NULL DEFAULT '[]',
	notes      TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS links_updated_at_idx ON links (updated_at DESC);
`

const columns = `id, url, title, tags, notes, created_at, updated_at`

// Driver names registered by the imported drivers.
const (
	DriverSQLite = "sqlite"
	DriverLibSQL = "libsql"
)

// Config holds optional collaborators for the store.
type Config struct {
	IDGenerator idgen.Generator
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Store implements link.Store over database/sql.
type Store struct {
	db     *sql.DB
	driver string
	ids    idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// IsURL reports whether dsn names a database this package can open.
func IsURL(dsn string) bool {
	driver, _ := ParseURL(dsn)
	return driver != ""
}

// ParseURL picks the driver for dsn and returns the data source name that
// driver expects. It returns an empty driver for unsupported schemes.
//
//	libsql://db.turso.io?authToken=...  -> libsql, unchanged
//	wss://db.turso.io                   -> libsql, unchanged
//	sqlite:///var/lib/links.db          -> sqlite, /var/lib/links.db
//	sqlite:links.db                     -> sqlite, links.db
//	file:links.db?mode=rwc              -> sqlite, unchanged
func ParseURL(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "libsql://"), strings.HasPrefix(dsn, "wss://"):
		return DriverLibSQL, dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite:")
	case strings.HasPrefix(dsn, "file:"):
		return DriverSQLite, dsn
	default:
		return "", ""
	}
}

// Open connects to dsn and makes sure the links table exists.
func Open(ctx context.Context, dsn string, cfg *Config) (*Store, error) {
	const op = "sqlstore.Open"

	if cfg == nil {
		cfg = &Config{}
	}

	driver, source := ParseURL(dsn)
	if driver == "" || source == "" {
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("unsupported database url %q", dsn))
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	if driver == DriverSQLite {
		// one writer at a time; also keeps :memory: databases on one connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("ping database: %w", err))
	}

	s := &Store{
		db:     db,
		driver: driver,
		ids:    cfg.IDGenerator,
		now:    cfg.Clock,
		logger: cfg.Logger,
	}
	if s.ids == nil {
		s.ids = idgen.NewV7(idgen.WithRetries(1))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, errx.Wrap(op, err)
	}

	s.logger.Info("connected to sqlite", "driver", driver)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const op = "sqlstore.migrate"

	if s.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			return errx.E(op, errx.Unavailable, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

// Driver returns the name of the database/sql driver in use.
func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) List(ctx context.Context, q link.ListQuery) (link.Page, error) {
	const op = "sqlstore.List"

	where, args := buildWhere(q)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM links"+where, args...).Scan(&total); err != nil {
		return link.Page{}, mapError(op, err)
	}

	sqlText := "SELECT " + columns + " FROM links" + where + " ORDER BY updated_at DESC, rowid LIMIT ? OFFSET ?"
	links, err := s.collect(ctx, sqlText, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return link.Page{}, mapError(op, err)
	}
	return link.Page{Links: links, Total: total}, nil
}

func (s *Store) Create(ctx context.Context, d link.Draft) (link.Link, error) {
	const op = "sqlstore.Create"

	id, err := s.ids.NewID()
	if err != nil {
		return link.Link{}, errx.E(op, errx.Internal, err)
	}
	l := link.NewLink(id, d, s.now().UTC())

	args, err := insertArgs(l)
	if err != nil {
		return link.Link{}, errx.E(op, errx.Internal, err)
	}
	if _, err := s.db.ExecContext(ctx, insertSQL, args...); err != nil {
		return link.Link{}, mapError(op, err)
	}
	return l, nil
}

// CreateBulk inserts every draft in one transaction. Any failure rolls the
// whole batch back.
func (s *Store) CreateBulk(ctx context.Context, ds []link.Draft) ([]link.Link, error) {
	const op = "sqlstore.CreateBulk"

	now := s.now().UTC()
	created := make([]link.Link, 0, len(ds))
	for _, d := range ds {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		created = append(created, link.NewLink(id, d, now))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer func() {
		// no-op after commit
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer stmt.Close()

	for i, l := range created {
		args, err := insertArgs(l)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, errx.E(op, errx.Integrity, fmt.Errorf("link %d: %w", i, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.E(op, errx.Integrity, fmt.Errorf("commit: %w", err))
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id string) (link.Link, error) {
	const op = "sqlstore.Get"

	row := s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM links WHERE id = ?", id)
	l, err := scanLink(row)
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	return l, nil
}

func (s *Store) Update(ctx context.Context, id string, p link.Patch) (link.Link, error) {
	const op = "sqlstore.Update"

	sqlText, args, err := buildUpdate(id, p, s.now().UTC())
	if err != nil {
		return link.Link{}, errx.E(op, errx.Internal, err)
	}
	l, err := scanLink(s.db.QueryRowContext(ctx, sqlText, args...))
	if err != nil {
		return link.Link{}, mapError(op, err)
	}
	return l, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	const op = "sqlstore.Delete"

	res, err := s.db.ExecContext(ctx, "DELETE FROM links WHERE id = ?", id)
	if err != nil {
		return false, mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(op, err)
	}
	return n == 1, nil
}

func (s *Store) ExportAll(ctx context.Context) ([]link.Link, error) {
	const op = "sqlstore.ExportAll"

	links, err := s.collect(ctx, "SELECT "+columns+" FROM links ORDER BY updated_at DESC, rowid")
	if err != nil {
		return nil, mapError(op, err)
	}
	return links, nil
}

func (s *Store) collect(ctx context.Context, sqlText string, args ...any) ([]link.Link, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []link.Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (link.Link, error) {
	var (
		l                    link.Link
		title, notes         sql.NullString
		tags                 sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&l.ID, &l.URL, &title, &tags, &notes, &createdAt, &updatedAt); err != nil {
		return link.Link{}, err
	}

	if title.Valid {
		l.Title = &title.String
	}
	if notes.Valid {
		l.Notes = &notes.String
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &l.Tags); err != nil {
			return link.Link{}, fmt.Errorf("decode tags of %s: %w", l.ID, err)
		}
	}
	l.Tags = link.NormalizeTags(l.Tags)

	var err error
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return link.Link{}, fmt.Errorf("created_at of %s: %w", l.ID, err)
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return link.Link{}, fmt.Errorf("updated_at of %s: %w", l.ID, err)
	}
	return l, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func encodeTags(tags []string) (string, error) {
	b, err := json.Marshal(link.NormalizeTags(tags))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const insertSQL = `INSERT INTO links (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

func insertArgs(l link.Link) ([]any, error) {
	tags, err := encodeTags(l.Tags)
	if err != nil {
		return nil, err
	}
	return []any{l.ID, l.URL, l.Title, tags, l.Notes, formatTime(l.CreatedAt), formatTime(l.UpdatedAt)}, nil
}

// buildWhere returns the WHERE clause (with a leading space, or empty) and
// its arguments for the filters in q.
func buildWhere(q link.ListQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(links.tags) WHERE json_each.value = ?)")
		args = append(args, q.Tag)
	}
	if q.Query != "" {
		pattern := strings.ToLower(q.ContainsPattern())
		conds = append(conds, `(lower(coalesce(title, '')) LIKE ? ESCAPE '\'`+
			` OR lower(url) LIKE ? ESCAPE '\'`+
			` OR lower(coalesce(notes, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildUpdate sets the supplied columns of p and always refreshes updated_at,
// never letting it fall behind created_at.
func buildUpdate(id string, p link.Patch, now time.Time) (string, []any, error) {
	var (
		sets []string
		args []any
	)
	if v, ok := p.URL.Get(); ok {
		sets = append(sets, "url = ?")
		args = append(args, v)
	}
	if v, ok := p.Title.Get(); ok {
		sets = append(sets, "title = ?")
		args = append(args, v)
	}
	if v, ok := p.Tags.Get(); ok {
		tags, err := encodeTags(v)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if v, ok := p.Notes.Get(); ok {
		sets = append(sets, "notes = ?")
		args = append(args, v)
	}
	sets = append(sets, "updated_at = max(?, created_at)")
	args = append(args, formatTime(now), id)

	return "UPDATE links SET " + strings.Join(sets, ", ") + " WHERE id = ? RETURNING " + columns, args, nil
}

func isConstraintViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	// libSQL reports server-side errors as text only
	return strings.Contains(err.Error(), "constraint failed")
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errx.E(op, errx.NotFound, link.ErrNotFound)
	case isConstraintViolation(err):
		return errx.E(op, errx.Integrity, err)
	default:
		return errx.E(op, errx.Unavailable, err)
	}
}
