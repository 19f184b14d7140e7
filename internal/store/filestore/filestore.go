// Package filestore keeps every link in one JSON document on disk.
//
// Each operation takes the store lock, reads and parses the whole document,
// changes it in memory and writes the whole document back. The lock makes
// read-modify-write cycles serial within one process; running two processes
// against the same file is not supported.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/idgen"
	"github.com/linksapi/links/internal/link"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "./data/links.json"

var (
	// ErrCorrupt is wrapped when the document on disk cannot be parsed.
	ErrCorrupt = errors.New("link store document is corrupt")
)

// document is the on-disk layout: {"links": [...]}.
type document struct {
	Links []link.Link `json:"links"`
}

// record shadows the link timestamps so they decode through stamp.
type record struct {
	link.Link
	CreatedAt stamp `json:"created_at"`
	UpdatedAt stamp `json:"updated_at"`
}

func (d *document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Links []record `json:"links"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Links == nil {
		d.Links = nil
		return nil
	}
	d.Links = make([]link.Link, len(raw.Links))
	for i, r := range raw.Links {
		l := r.Link
		l.CreatedAt = time.Time(r.CreatedAt)
		l.UpdatedAt = time.Time(r.UpdatedAt)
		d.Links[i] = l
	}
	return nil
}

// stampLayouts are tried in order. The second is the space separated form
// older data files were written with.
var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// stamp is a timestamp read from disk, normalised to UTC.
type stamp time.Time

func (t *stamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	for _, layout := range stampLayouts {
		if v, err := time.Parse(layout, raw); err == nil {
			*t = stamp(v.UTC())
			return nil
		}
	}
	return fmt.Errorf("timestamp %q: unrecognised format", raw)
}

// Store implements link.Store on a JSON file.
type Store struct {
	path   string
	mu     sync.Mutex
	ids    idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Config holds optional collaborators for the store.
type Config struct {
	IDGenerator idgen.Generator
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Open prepares the store at path, creating the parent directory and an empty
// document when the file does not exist yet. An existing file is parsed once
// so a corrupt store fails at startup rather than on the first request.
func Open(path string, cfg *Config) (*Store, error) {
	const op = "filestore.Open"

	if cfg == nil {
		cfg = &Config{}
	}
	if path == "" {
		path = DefaultPath
	}
	s := &Store{
		path:   path,
		ids:    cfg.IDGenerator,
		now:    cfg.Clock,
		logger: cfg.Logger,
	}
	if s.ids == nil {
		s.ids = idgen.NewV4()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errx.E(op, errx.Unavailable, fmt.Errorf("create data directory: %w", err))
	}

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := s.write(document{Links: []link.Link{}}); err != nil {
			return nil, errx.Wrap(op, err)
		}
		s.logger.Info("created empty link store", "path", path)
	case err != nil:
		return nil, errx.E(op, errx.Unavailable, err)
	default:
		doc, err := s.read()
		if err != nil {
			return nil, errx.Wrap(op, err)
		}
		s.logger.Info("opened link store", "path", path, "links", len(doc.Links))
	}

	return s, nil
}

// Path returns the location of the JSON document.
func (s *Store) Path() string { return s.path }

// Close is a no-op; every operation already flushed its changes.
func (s *Store) Close() error { return nil }

func (s *Store) List(ctx context.Context, q link.ListQuery) (link.Page, error) {
	const op = "filestore.List"

	if err := ctx.Err(); err != nil {
		return link.Page{}, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	doc, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return link.Page{}, errx.Wrap(op, err)
	}

	matched := make([]link.Link, 0, len(doc.Links))
	needle := strings.ToLower(q.Query)
	for _, l := range doc.Links {
		if matches(l, q.Tag, needle) {
			matched = append(matched, l)
		}
	}
	sortByUpdated(matched)

	return link.Page{
		Links: link.Window(matched, q.Offset, q.Limit),
		Total: len(matched),
	}, nil
}

func (s *Store) Create(ctx context.Context, d link.Draft) (link.Link, error) {
	const op = "filestore.Create"

	created, err := s.CreateBulk(ctx, []link.Draft{d})
	if err != nil {
		return link.Link{}, errx.Wrap(op, err)
	}
	return created[0], nil
}

// CreateBulk appends all drafts with one shared timestamp. Ids are assigned
// before the document is written, so either every draft is persisted or
// none is.
func (s *Store) CreateBulk(ctx context.Context, ds []link.Draft) ([]link.Link, error) {
	const op = "filestore.CreateBulk"

	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, errx.Wrap(op, err)
	}

	now := s.now().UTC()
	created := make([]link.Link, 0, len(ds))
	for _, d := range ds {
		id, err := s.ids.NewID()
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		created = append(created, link.NewLink(id, d, now))
	}

	doc.Links = append(doc.Links, created...)
	if err := s.write(doc); err != nil {
		return nil, errx.Wrap(op, err)
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id string) (link.Link, error) {
	const op = "filestore.Get"

	if err := ctx.Err(); err != nil {
		return link.Link{}, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	doc, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return link.Link{}, errx.Wrap(op, err)
	}

	i := indexOf(doc.Links, id)
	if i < 0 {
		return link.Link{}, errx.E(op, errx.NotFound, link.ErrNotFound)
	}
	return doc.Links[i], nil
}

func (s *Store) Update(ctx context.Context, id string, p link.Patch) (link.Link, error) {
	const op = "filestore.Update"

	if err := ctx.Err(); err != nil {
		return link.Link{}, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return link.Link{}, errx.Wrap(op, err)
	}

	i := indexOf(doc.Links, id)
	if i < 0 {
		return link.Link{}, errx.E(op, errx.NotFound, link.ErrNotFound)
	}

	l := &doc.Links[i]
	p.Apply(l)
	l.UpdatedAt = s.now().UTC()
	if l.UpdatedAt.Before(l.CreatedAt) {
		l.UpdatedAt = l.CreatedAt
	}

	if err := s.write(doc); err != nil {
		return link.Link{}, errx.Wrap(op, err)
	}
	return *l, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	const op = "filestore.Delete"

	if err := ctx.Err(); err != nil {
		return false, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return false, errx.Wrap(op, err)
	}

	i := indexOf(doc.Links, id)
	if i < 0 {
		return false, nil
	}
	doc.Links = slices.Delete(doc.Links, i, i+1)

	if err := s.write(doc); err != nil {
		return false, errx.Wrap(op, err)
	}
	return true, nil
}

func (s *Store) ExportAll(ctx context.Context) ([]link.Link, error) {
	const op = "filestore.ExportAll"

	if err := ctx.Err(); err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}

	s.mu.Lock()
	doc, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, errx.Wrap(op, err)
	}

	sortByUpdated(doc.Links)
	return doc.Links, nil
}

// read parses the whole document. Callers hold s.mu.
func (s *Store) read() (document, error) {
	const op = "filestore.read"

	data, err := os.ReadFile(s.path)
	if err != nil {
		return document{}, errx.E(op, errx.Unavailable, err)
	}

	var doc document
	if len(bytes.TrimSpace(data)) == 0 {
		doc.Links = []link.Link{}
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, errx.E(op, errx.Internal, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err))
	}
	if doc.Links == nil {
		doc.Links = []link.Link{}
	}
	for i := range doc.Links {
		if doc.Links[i].ID == "" {
			return document{}, errx.E(op, errx.Internal, fmt.Errorf("%w: %s: record %d has no id", ErrCorrupt, s.path, i))
		}
		doc.Links[i].Tags = link.NormalizeTags(doc.Links[i].Tags)
	}
	return doc, nil
}

// write replaces the document atomically: the new content goes to a
// temporary file in the same directory which is then renamed over the old
// one. Callers hold s.mu.
func (s *Store) write(doc document) error {
	const op = "filestore.write"

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errx.E(op, errx.Unavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errx.E(op, errx.Unavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errx.E(op, errx.Unavailable, err)
	}
	return nil
}

func indexOf(links []link.Link, id string) int {
	return slices.IndexFunc(links, func(l link.Link) bool { return l.ID == id })
}

// matches reports whether l passes the tag filter and the lower-cased text
// filter. Empty filters match everything.
func matches(l link.Link, tag, needle string) bool {
	if tag != "" && !slices.Contains(l.Tags, tag) {
		return false
	}
	if needle == "" {
		return true
	}
	for _, field := range []string{deref(l.Title), l.URL, deref(l.Notes)} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// sortByUpdated orders links most recently updated first. The sort is stable,
// so ties keep document order.
func sortByUpdated(links []link.Link) {
	slices.SortStableFunc(links, func(a, b link.Link) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
