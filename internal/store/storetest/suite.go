// Package storetest holds a backend-agnostic test suite for link.Store.
package storetest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/link"
	"github.com/linksapi/links/internal/optional"
)

// tick separates operations so backends with microsecond timestamps still
// see strictly increasing updated_at values.
const tick = 5 * time.Millisecond

// SuiteBase defines a re-usable set of tests that can be executed against
// any type that implements link.Store. Each test expects an empty store.
type SuiteBase struct {
	s link.Store
}

// SetStore configures the test-suite to run all tests against s.
func (b *SuiteBase) SetStore(s link.Store) {
	b.s = s
}

func strPtr(s string) *string { return &s }

func (b *SuiteBase) create(t *testing.T, d link.Draft) link.Link {
	t.Helper()
	l, err := b.s.Create(context.Background(), d)
	require.NoError(t, err)
	time.Sleep(tick)
	return l
}

// AssertSameLink compares every field, using time.Equal for timestamps.
func AssertSameLink(t *testing.T, want, got link.Link) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID, "id")
	assert.Equal(t, want.URL, got.URL, "url")
	assert.Equal(t, want.Title, got.Title, "title")
	assert.Equal(t, want.Tags, got.Tags, "tags")
	assert.Equal(t, want.Notes, got.Notes, "notes")
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at: want %v, got %v", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updated_at: want %v, got %v", want.UpdatedAt, got.UpdatedAt)
}

func ids(links []link.Link) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.ID
	}
	return out
}

// TestCreateAndGet verifies id/timestamp assignment and that Get returns
// what Create returned.
func (b *SuiteBase) TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	before := time.Now().Add(-time.Second)

	created, err := b.s.Create(ctx, link.Draft{
		URL:   "https://go.dev/doc/effective_go",
		Title: strPtr("Effective Go"),
		Tags:  []string{"go", "docs", "go"},
		Notes: strPtr("read twice"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "https://go.dev/doc/effective_go", created.URL)
	assert.Equal(t, []string{"go", "docs", "go"}, created.Tags, "tag order and duplicates are preserved")
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt), "new link has created_at == updated_at")
	assert.True(t, created.CreatedAt.After(before), "created_at comes from the current clock")

	got, err := b.s.Get(ctx, created.ID)
	require.NoError(t, err)
	AssertSameLink(t, created, got)

	again, err := b.s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID, "id is stable across reads")
}

// TestCreateOptionalFields verifies that absent title/notes stay absent and
// missing tags become an empty list.
func (b *SuiteBase) TestCreateOptionalFields(t *testing.T) {
	created := b.create(t, link.Draft{URL: "https://example.com"})

	got, err := b.s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Title)
	assert.Nil(t, got.Notes)
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)
}

// TestUniqueIDs verifies that ids never repeat, even for identical URLs.
func (b *SuiteBase) TestUniqueIDs(t *testing.T) {
	ctx := context.Background()
	seen := map[string]bool{}
	for range 10 {
		l, err := b.s.Create(ctx, link.Draft{URL: "https://example.com/same"})
		require.NoError(t, err)
		assert.False(t, seen[l.ID], "duplicate id %s", l.ID)
		seen[l.ID] = true
	}

	page, err := b.s.List(ctx, link.ListQuery{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total, "no dedup on url")
}

// TestCreateBulk verifies order, per-item ids and one shared timestamp.
func (b *SuiteBase) TestCreateBulk(t *testing.T) {
	ctx := context.Background()
	drafts := []link.Draft{
		{URL: "https://a.example", Tags: []string{"a"}},
		{URL: "https://b.example", Title: strPtr("B")},
		{URL: "https://c.example", Notes: strPtr("c notes")},
	}

	created, err := b.s.CreateBulk(ctx, drafts)
	require.NoError(t, err)
	require.Len(t, created, 3)

	for i, l := range created {
		assert.Equal(t, drafts[i].URL, l.URL, "input order is kept")
		assert.NotEmpty(t, l.ID)
		assert.True(t, l.CreatedAt.Equal(created[0].CreatedAt), "batch shares one created_at")
		assert.True(t, l.UpdatedAt.Equal(created[0].UpdatedAt), "batch shares one updated_at")

		got, err := b.s.Get(ctx, l.ID)
		require.NoError(t, err)
		AssertSameLink(t, l, got)
	}
	assert.Equal(t, []string{}, created[1].Tags)
}

// TestCreateBulkAtomic verifies that a batch with a row the storage engine
// rejects persists nothing. Only backends with storage-level constraints
// (the SQL backends) run it.
func (b *SuiteBase) TestCreateBulkAtomic(t *testing.T) {
	ctx := context.Background()

	_, err := b.s.CreateBulk(ctx, []link.Draft{
		{URL: "https://first.example"},
		{URL: ""},
		{URL: "https://third.example"},
	})
	require.Error(t, err)
	assert.Equal(t, errx.Integrity, errx.KindOf(err), "kind of %v", err)

	all, err := b.s.ExportAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "no partial batch is persisted")
}

// TestUpdatePartial verifies that only supplied fields change.
func (b *SuiteBase) TestUpdatePartial(t *testing.T) {
	ctx := context.Background()
	original := b.create(t, link.Draft{
		URL:   "https://pkg.go.dev",
		Title: strPtr("pkg.go.dev"),
		Tags:  []string{"go", "reference"},
	})

	updated, err := b.s.Update(ctx, original.ID, link.Patch{
		Notes: optional.Of("package docs"),
		Title: optional.Null[string](),
	})
	require.NoError(t, err)

	assert.Equal(t, original.URL, updated.URL)
	assert.Equal(t, original.Title, updated.Title, "null leaves the field untouched")
	assert.Equal(t, original.Tags, updated.Tags)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, "package docs", *updated.Notes)
	assert.True(t, updated.CreatedAt.Equal(original.CreatedAt), "created_at never changes")
	assert.True(t, updated.UpdatedAt.After(original.UpdatedAt), "updated_at advances")

	got, err := b.s.Get(ctx, original.ID)
	require.NoError(t, err)
	AssertSameLink(t, updated, got)
}

// TestUpdateAllFields verifies every field can be replaced, including
// setting tags to an empty list.
func (b *SuiteBase) TestUpdateAllFields(t *testing.T) {
	original := b.create(t, link.Draft{URL: "https://old.example", Tags: []string{"x"}})

	updated, err := b.s.Update(context.Background(), original.ID, link.Patch{
		URL:   optional.Of("https://new.example"),
		Title: optional.Of("New"),
		Tags:  optional.Of([]string{}),
		Notes: optional.Of(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://new.example", updated.URL)
	assert.Equal(t, strPtr("New"), updated.Title)
	assert.Equal(t, []string{}, updated.Tags)
	assert.Equal(t, strPtr(""), updated.Notes)
}

// TestUpdateEmptyPatch verifies that a no-op patch still refreshes updated_at.
func (b *SuiteBase) TestUpdateEmptyPatch(t *testing.T) {
	original := b.create(t, link.Draft{URL: "https://touch.example", Title: strPtr("t")})

	updated, err := b.s.Update(context.Background(), original.ID, link.Patch{})
	require.NoError(t, err)
	assert.Equal(t, original.Title, updated.Title)
	assert.True(t, updated.UpdatedAt.After(original.UpdatedAt), "updated_at advances on an empty patch")
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
}

// TestNotFound verifies the not-found outcome of Get, Update and Delete.
func (b *SuiteBase) TestNotFound(t *testing.T) {
	ctx := context.Background()

	for _, id := range []string{
		"00000000-0000-4000-8000-000000000000",
		"urn:uuid:00000000-0000-4000-8000-000000000000",
		"not-a-uuid",
	} {
		_, err := b.s.Get(ctx, id)
		assert.Equal(t, errx.NotFound, errx.KindOf(err), "Get(%q): %v", id, err)
		assert.ErrorIs(t, err, link.ErrNotFound)

		_, err = b.s.Update(ctx, id, link.Patch{Notes: optional.Of("x")})
		assert.Equal(t, errx.NotFound, errx.KindOf(err), "Update(%q): %v", id, err)
		assert.ErrorIs(t, err, link.ErrNotFound)

		ok, err := b.s.Delete(ctx, id)
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}

// TestDelete verifies hard delete semantics.
func (b *SuiteBase) TestDelete(t *testing.T) {
	ctx := context.Background()
	keep := b.create(t, link.Draft{URL: "https://keep.example"})
	gone := b.create(t, link.Draft{URL: "https://gone.example"})

	ok, err := b.s.Delete(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = b.s.Get(ctx, gone.ID)
	assert.Equal(t, errx.NotFound, errx.KindOf(err))

	ok, err = b.s.Delete(ctx, gone.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second delete reports nothing removed")

	_, err = b.s.Get(ctx, keep.ID)
	assert.NoError(t, err, "other links survive")
}

// TestListTagFilter verifies exact, case-sensitive tag membership.
func (b *SuiteBase) TestListTagFilter(t *testing.T) {
	ctx := context.Background()
	x := b.create(t, link.Draft{URL: "https://1.example", Tags: []string{"x", "y"}})
	b.create(t, link.Draft{URL: "https://2.example", Tags: []string{"X"}})
	b.create(t, link.Draft{URL: "https://3.example", Tags: []string{"xx"}})
	b.create(t, link.Draft{URL: "https://4.example"})

	page, err := b.s.List(ctx, link.ListQuery{Limit: 100, Tag: "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, []string{x.ID}, ids(page.Links))
}

// TestListTextFilter verifies the case-insensitive substring search across
// title, url and notes.
func (b *SuiteBase) TestListTextFilter(t *testing.T) {
	ctx := context.Background()
	inTitle := b.create(t, link.Draft{URL: "https://1.example", Title: strPtr("Learning ABC")})
	inURL := b.create(t, link.Draft{URL: "https://abc.example"})
	inNotes := b.create(t, link.Draft{URL: "https://3.example", Notes: strPtr("see aBc later")})
	b.create(t, link.Draft{URL: "https://4.example", Title: strPtr("a-b-c")})

	page, err := b.s.List(ctx, link.ListQuery{Limit: 100, Query: "abc"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.ElementsMatch(t, []string{inTitle.ID, inURL.ID, inNotes.ID}, ids(page.Links))
}

// TestListTextFilterLiteral verifies that LIKE wildcards in q match literally.
func (b *SuiteBase) TestListTextFilterLiteral(t *testing.T) {
	ctx := context.Background()
	pct := b.create(t, link.Draft{URL: "https://1.example", Title: strPtr("100% coverage")})
	b.create(t, link.Draft{URL: "https://2.example", Title: strPtr("1000 coverage")})
	under := b.create(t, link.Draft{URL: "https://3.example/snake_case"})
	b.create(t, link.Draft{URL: "https://4.example/snakeXcase"})

	page, err := b.s.List(ctx, link.ListQuery{Limit: 100, Query: "0%"})
	require.NoError(t, err)
	assert.Equal(t, []string{pct.ID}, ids(page.Links))

	page, err = b.s.List(ctx, link.ListQuery{Limit: 100, Query: "e_c"})
	require.NoError(t, err)
	assert.Equal(t, []string{under.ID}, ids(page.Links))
}

// TestListCombinedFilters verifies that tag and q are AND'ed.
func (b *SuiteBase) TestListCombinedFilters(t *testing.T) {
	ctx := context.Background()
	both := b.create(t, link.Draft{URL: "https://go.dev", Tags: []string{"go"}})
	b.create(t, link.Draft{URL: "https://go.dev/blog", Tags: []string{"blog"}})
	b.create(t, link.Draft{URL: "https://rust-lang.org", Tags: []string{"go"}})

	page, err := b.s.List(ctx, link.ListQuery{Limit: 100, Tag: "go", Query: "GO.DEV"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, []string{both.ID}, ids(page.Links))
}

// TestListOrderAndPagination verifies updated_at ordering and that pages
// partition the result.
func (b *SuiteBase) TestListOrderAndPagination(t *testing.T) {
	ctx := context.Background()
	var created []link.Link
	for i := range 5 {
		created = append(created, b.create(t, link.Draft{URL: fmt.Sprintf("https://%d.example", i)}))
	}

	// touching the oldest moves it to the front
	_, err := b.s.Update(ctx, created[0].ID, link.Patch{Notes: optional.Of("touched")})
	require.NoError(t, err)
	want := []string{created[0].ID, created[4].ID, created[3].ID, created[2].ID, created[1].ID}

	first, err := b.s.List(ctx, link.ListQuery{Limit: 2, Offset: 0})
	require.NoError(t, err)
	second, err := b.s.List(ctx, link.ListQuery{Limit: 2, Offset: 2})
	require.NoError(t, err)
	third, err := b.s.List(ctx, link.ListQuery{Limit: 2, Offset: 4})
	require.NoError(t, err)

	assert.Equal(t, 5, first.Total)
	assert.Equal(t, 5, second.Total)
	assert.Equal(t, 5, third.Total)

	var got []string
	got = append(got, ids(first.Links)...)
	got = append(got, ids(second.Links)...)
	got = append(got, ids(third.Links)...)
	assert.Equal(t, want, got, "pages partition the sorted result without gaps or overlap")
}

// TestListOffsetBeyondEnd verifies that a large offset yields an empty page.
func (b *SuiteBase) TestListOffsetBeyondEnd(t *testing.T) {
	b.create(t, link.Draft{URL: "https://only.example"})

	page, err := b.s.List(context.Background(), link.ListQuery{Limit: 10, Offset: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Empty(t, page.Links)

	page, err = b.s.List(context.Background(), link.ListQuery{Limit: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Empty(t, page.Links, "limit 0 returns only the count")
}

// TestListHugeLimit verifies that a limit near the int range is a plain
// "everything after offset" rather than an error.
func (b *SuiteBase) TestListHugeLimit(t *testing.T) {
	first := b.create(t, link.Draft{URL: "https://first.example"})
	b.create(t, link.Draft{URL: "https://second.example"})

	page, err := b.s.List(context.Background(), link.ListQuery{Limit: math.MaxInt, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, []string{first.ID}, ids(page.Links))
}

// TestExportAll verifies that export returns every live link, newest first.
func (b *SuiteBase) TestExportAll(t *testing.T) {
	ctx := context.Background()
	a := b.create(t, link.Draft{URL: "https://a.example"})
	bl := b.create(t, link.Draft{URL: "https://b.example"})
	c := b.create(t, link.Draft{URL: "https://c.example"})
	_, err := b.s.Delete(ctx, bl.ID)
	require.NoError(t, err)

	all, err := b.s.ExportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID}, ids(all))
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].UpdatedAt.After(all[i-1].UpdatedAt), "sorted by updated_at desc")
	}
}

// TestExportEmpty verifies that an empty store exports an empty list.
func (b *SuiteBase) TestExportEmpty(t *testing.T) {
	all, err := b.s.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

// TestUnicodeRoundTrip verifies that non-ASCII text survives storage.
func (b *SuiteBase) TestUnicodeRoundTrip(t *testing.T) {
	title := "Guía rápida — 日本語"
	created := b.create(t, link.Draft{URL: "https://ejemplo.es/guía", Title: &title, Tags: []string{"español"}})

	got, err := b.s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	assert.Equal(t, title, *got.Title)
	assert.True(t, strings.HasSuffix(got.URL, "guía"))
	assert.Equal(t, []string{"español"}, got.Tags)
}
