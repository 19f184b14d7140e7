package link

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/optional"
)

/***************
 * Mocks
 ***************/

// mockStore implements Store for testing.
type mockStore struct {
	listFunc       func(ctx context.Context, q ListQuery) (Page, error)
	createFunc     func(ctx context.Context, d Draft) (Link, error)
	createBulkFunc func(ctx context.Context, ds []Draft) ([]Link, error)
	getFunc        func(ctx context.Context, id string) (Link, error)
	updateFunc     func(ctx context.Context, id string, p Patch) (Link, error)
	deleteFunc     func(ctx context.Context, id string) (bool, error)
	exportFunc     func(ctx context.Context) ([]Link, error)
	calls          int
}

func (m *mockStore) List(ctx context.Context, q ListQuery) (Page, error) {
	m.calls++
	if m.listFunc != nil {
		return m.listFunc(ctx, q)
	}
	return Page{}, nil
}

func (m *mockStore) Create(ctx context.Context, d Draft) (Link, error) {
	m.calls++
	if m.createFunc != nil {
		return m.createFunc(ctx, d)
	}
	return NewLink("id-1", d, time.Now().UTC()), nil
}

func (m *mockStore) CreateBulk(ctx context.Context, ds []Draft) ([]Link, error) {
	m.calls++
	if m.createBulkFunc != nil {
		return m.createBulkFunc(ctx, ds)
	}
	now := time.Now().UTC()
	out := make([]Link, len(ds))
	for i, d := range ds {
		out[i] = NewLink("id", d, now)
	}
	return out, nil
}

func (m *mockStore) Get(ctx context.Context, id string) (Link, error) {
	m.calls++
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return Link{}, errx.E("store.Get", errx.NotFound, ErrNotFound)
}

func (m *mockStore) Update(ctx context.Context, id string, p Patch) (Link, error) {
	m.calls++
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, p)
	}
	return Link{}, errx.E("store.Update", errx.NotFound, ErrNotFound)
}

func (m *mockStore) Delete(ctx context.Context, id string) (bool, error) {
	m.calls++
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return false, nil
}

func (m *mockStore) ExportAll(ctx context.Context) ([]Link, error) {
	m.calls++
	if m.exportFunc != nil {
		return m.exportFunc(ctx)
	}
	return nil, nil
}

func (m *mockStore) Close() error { return nil }

func strPtr(s string) *string { return &s }

/***************
 * Tests
 ***************/

func TestServiceCreate(t *testing.T) {
	tests := []struct {
		name      string
		draft     Draft
		wantKind  errx.Kind
		wantField string
		wantCalls int
	}{
		{name: "valid https url", draft: Draft{URL: "https://go.dev"}, wantCalls: 1},
		{name: "valid http url with path", draft: Draft{URL: "http://example.com/a?b=c"}, wantCalls: 1},
		{name: "missing url", draft: Draft{}, wantKind: errx.Invalid, wantField: "url"},
		{name: "relative url", draft: Draft{URL: "/just/a/path"}, wantKind: errx.Invalid, wantField: "url"},
		{name: "unsupported scheme", draft: Draft{URL: "ftp://example.com"}, wantKind: errx.Invalid, wantField: "url"},
		{name: "no host", draft: Draft{URL: "https://"}, wantKind: errx.Invalid, wantField: "url"},
		{name: "too long", draft: Draft{URL: "https://example.com/" + strings.Repeat("a", MaxURLLength)}, wantKind: errx.Invalid, wantField: "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{}
			svc := NewService(store)

			got, err := svc.Create(context.Background(), tt.draft)

			if store.calls != tt.wantCalls {
				t.Errorf("store calls = %d, want %d", store.calls, tt.wantCalls)
			}
			if tt.wantKind == errx.Unknown {
				if err != nil {
					t.Fatalf("Create() error = %v", err)
				}
				if got.Tags == nil {
					t.Error("Create() returned nil tags, want empty slice")
				}
				return
			}

			if errx.KindOf(err) != tt.wantKind {
				t.Fatalf("kind = %v, want %v (%v)", errx.KindOf(err), tt.wantKind, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.wantField {
				t.Errorf("error = %v, want ValidationError on %s", err, tt.wantField)
			}
		})
	}
}

func TestServiceCreate_NormalizesTags(t *testing.T) {
	var seen Draft
	store := &mockStore{createFunc: func(_ context.Context, d Draft) (Link, error) {
		seen = d
		return NewLink("x", d, time.Now()), nil
	}}

	if _, err := NewService(store).Create(context.Background(), Draft{URL: "https://a.example"}); err != nil {
		t.Fatal(err)
	}
	if seen.Tags == nil || len(seen.Tags) != 0 {
		t.Errorf("store saw tags %#v, want empty slice", seen.Tags)
	}
}

func TestServiceCreate_StoreErrorKeepsKind(t *testing.T) {
	store := &mockStore{createFunc: func(context.Context, Draft) (Link, error) {
		return Link{}, errx.E("store.Create", errx.Unavailable, errors.New("disk full"))
	}}

	_, err := NewService(store).Create(context.Background(), Draft{URL: "https://a.example"})
	if errx.KindOf(err) != errx.Unavailable {
		t.Errorf("kind = %v, want Unavailable", errx.KindOf(err))
	}
	if errx.OpOf(err) != "link.service.Create" {
		t.Errorf("op = %q, want link.service.Create", errx.OpOf(err))
	}
}

func TestServiceCreateBulk(t *testing.T) {
	t.Run("valid batch", func(t *testing.T) {
		store := &mockStore{}
		got, err := NewService(store).CreateBulk(context.Background(), []Draft{
			{URL: "https://a.example"},
			{URL: "https://b.example", Tags: []string{"x"}},
		})
		if err != nil {
			t.Fatalf("CreateBulk() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		store := &mockStore{}
		_, err := NewService(store).CreateBulk(context.Background(), nil)
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("kind = %v, want Invalid", errx.KindOf(err))
		}
		if store.calls != 0 {
			t.Error("store called for an empty batch")
		}
	})

	t.Run("too many drafts", func(t *testing.T) {
		ds := make([]Draft, MaxBulkDrafts+1)
		for i := range ds {
			ds[i] = Draft{URL: "https://a.example"}
		}
		_, err := NewService(&mockStore{}).CreateBulk(context.Background(), ds)
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("kind = %v, want Invalid", errx.KindOf(err))
		}
	})

	t.Run("one invalid draft rejects the batch", func(t *testing.T) {
		store := &mockStore{}
		_, err := NewService(store).CreateBulk(context.Background(), []Draft{
			{URL: "https://a.example"},
			{URL: "nope"},
		})
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "links[1].url" {
			t.Errorf("error = %v, want ValidationError on links[1].url", err)
		}
		if store.calls != 0 {
			t.Error("store called for an invalid batch")
		}
	})
}

func TestServiceList(t *testing.T) {
	t.Run("passes the query through", func(t *testing.T) {
		var seen ListQuery
		store := &mockStore{listFunc: func(_ context.Context, q ListQuery) (Page, error) {
			seen = q
			return Page{Total: 3}, nil
		}}
		q := ListQuery{Limit: 10, Offset: 5, Tag: "go", Query: "pgx"}

		page, err := NewService(store).List(context.Background(), q)
		if err != nil {
			t.Fatal(err)
		}
		if seen != q {
			t.Errorf("store saw %+v, want %+v", seen, q)
		}
		if page.Links == nil || page.Total != 3 {
			t.Errorf("page = %+v, want empty non-nil links and total 3", page)
		}
	})

	t.Run("negative paging is invalid", func(t *testing.T) {
		for _, q := range []ListQuery{{Limit: -1}, {Offset: -1}} {
			_, err := NewService(&mockStore{}).List(context.Background(), q)
			if errx.KindOf(err) != errx.Invalid {
				t.Errorf("List(%+v) kind = %v, want Invalid", q, errx.KindOf(err))
			}
		}
	})
}

func TestServiceGet(t *testing.T) {
	want := Link{ID: "abc", URL: "https://a.example", Tags: []string{}}
	store := &mockStore{getFunc: func(_ context.Context, id string) (Link, error) {
		if id == "abc" {
			return want, nil
		}
		return Link{}, errx.E("store.Get", errx.NotFound, ErrNotFound)
	}}
	svc := NewService(store)

	got, err := svc.Get(context.Background(), "abc")
	if err != nil || got.ID != "abc" {
		t.Errorf("Get(abc) = %+v, %v", got, err)
	}

	_, err = svc.Get(context.Background(), "missing")
	if errx.KindOf(err) != errx.NotFound || !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want NotFound", err)
	}

	calls := store.calls
	_, err = svc.Get(context.Background(), "")
	if errx.KindOf(err) != errx.NotFound {
		t.Errorf("Get(\"\") kind = %v, want NotFound", errx.KindOf(err))
	}
	if store.calls != calls {
		t.Error("store called for an empty id")
	}
}

func TestServiceUpdate(t *testing.T) {
	t.Run("valid patch", func(t *testing.T) {
		var seen Patch
		store := &mockStore{updateFunc: func(_ context.Context, id string, p Patch) (Link, error) {
			seen = p
			return Link{ID: id, Notes: strPtr("n")}, nil
		}}

		got, err := NewService(store).Update(context.Background(), "abc", Patch{Notes: optional.Of("n")})
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != "abc" {
			t.Errorf("ID = %q", got.ID)
		}
		if v, ok := seen.Notes.Get(); !ok || v != "n" {
			t.Errorf("store saw notes %v/%v", v, ok)
		}
	})

	t.Run("invalid url in patch", func(t *testing.T) {
		store := &mockStore{}
		_, err := NewService(store).Update(context.Background(), "abc", Patch{URL: optional.Of("mailto:x@y")})
		if errx.KindOf(err) != errx.Invalid {
			t.Errorf("kind = %v, want Invalid", errx.KindOf(err))
		}
		if store.calls != 0 {
			t.Error("store called for an invalid patch")
		}
	})

	t.Run("null url is ignored", func(t *testing.T) {
		store := &mockStore{updateFunc: func(_ context.Context, id string, _ Patch) (Link, error) {
			return Link{ID: id}, nil
		}}
		if _, err := NewService(store).Update(context.Background(), "abc", Patch{URL: optional.Null[string]()}); err != nil {
			t.Errorf("Update() error = %v", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := NewService(&mockStore{}).Update(context.Background(), "missing", Patch{})
		if errx.KindOf(err) != errx.NotFound {
			t.Errorf("kind = %v, want NotFound", errx.KindOf(err))
		}
	})
}

func TestServiceDelete(t *testing.T) {
	store := &mockStore{deleteFunc: func(_ context.Context, id string) (bool, error) {
		return id == "abc", nil
	}}
	svc := NewService(store)

	if ok, err := svc.Delete(context.Background(), "abc"); err != nil || !ok {
		t.Errorf("Delete(abc) = %v, %v; want true, nil", ok, err)
	}
	if ok, err := svc.Delete(context.Background(), "missing"); err != nil || ok {
		t.Errorf("Delete(missing) = %v, %v; want false, nil", ok, err)
	}
	if ok, err := svc.Delete(context.Background(), ""); err != nil || ok {
		t.Errorf("Delete(\"\") = %v, %v; want false, nil", ok, err)
	}

	failing := &mockStore{deleteFunc: func(context.Context, string) (bool, error) {
		return false, errx.E("store.Delete", errx.Unavailable, errors.New("gone"))
	}}
	if _, err := NewService(failing).Delete(context.Background(), "abc"); errx.KindOf(err) != errx.Unavailable {
		t.Errorf("kind = %v, want Unavailable", errx.KindOf(err))
	}
}

func TestServiceExport(t *testing.T) {
	links, err := NewService(&mockStore{}).Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if links == nil {
		t.Error("Export() returned nil, want empty slice")
	}
}

func TestPatchApply(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := Link{ID: "x", URL: "https://old.example", Title: strPtr("old"), Tags: []string{"a"}, CreatedAt: created, UpdatedAt: created}

	p := Patch{Title: optional.Null[string](), Tags: optional.Of([]string{"b", "c"}), Notes: optional.Of("new")}
	if p.Empty() {
		t.Fatal("Empty() = true for a patch with set fields")
	}
	p.Apply(&l)

	if l.URL != "https://old.example" || *l.Title != "old" {
		t.Errorf("absent/null fields changed: %+v", l)
	}
	if len(l.Tags) != 2 || l.Tags[0] != "b" || *l.Notes != "new" {
		t.Errorf("set fields not applied: %+v", l)
	}
	if !l.UpdatedAt.Equal(created) {
		t.Error("Apply touched timestamps")
	}
	if !(Patch{Title: optional.Null[string]()}).Empty() {
		t.Error("Empty() = false for a null-only patch")
	}
}

func TestWindow(t *testing.T) {
	links := make([]Link, 5)
	for i := range links {
		links[i].ID = string(rune('a' + i))
	}

	tests := []struct {
		offset, limit int
		want          string
	}{
		{0, 2, "ab"},
		{2, 2, "cd"},
		{4, 2, "e"},
		{5, 2, ""},
		{50, 10, ""},
		{1, 0, ""},
		{0, -1, "abcde"},
		{1, math.MaxInt, "bcde"},
		{4, math.MaxInt - 1, "e"},
	}
	for _, tt := range tests {
		var got string
		for _, l := range Window(links, tt.offset, tt.limit) {
			got += l.ID
		}
		if got != tt.want {
			t.Errorf("Window(%d, %d) = %q, want %q", tt.offset, tt.limit, got, tt.want)
		}
	}
}

func TestContainsPattern(t *testing.T) {
	tests := map[string]string{
		"go":      "%go%",
		"100%":    `%100\%%`,
		"a_b":     `%a\_b%`,
		`c:\path`: `%c:\\path%`,
	}
	for in, want := range tests {
		if got := (ListQuery{Query: in}).ContainsPattern(); got != want {
			t.Errorf("ContainsPattern(%q) = %q, want %q", in, got, want)
		}
	}
}
