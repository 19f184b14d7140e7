package link

import (
	"strings"
	"time"

	"github.com/linksapi/links/internal/optional"
)

// Link is a saved bookmark.
type Link struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     *string   `json:"title"`
	Tags      []string  `json:"tags"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Draft is a validated link that has not been stored yet.
type Draft struct {
	URL   string   `json:"url"`
	Title *string  `json:"title,omitempty"`
	Tags  []string `json:"tags,omitempty"`
	Notes *string  `json:"notes,omitempty"`
}

// Patch carries the fields a caller wants to change. Absent and null fields
// are left untouched.
type Patch struct {
	URL   optional.Value[string]   `json:"url"`
	Title optional.Value[string]   `json:"title"`
	Tags  optional.Value[[]string] `json:"tags"`
	Notes optional.Value[string]   `json:"notes"`
}

// Empty reports whether the patch changes no field.
func (p Patch) Empty() bool {
	return !p.URL.IsSet() && !p.Title.IsSet() && !p.Tags.IsSet() && !p.Notes.IsSet()
}

// Apply copies the set fields of p onto l. Timestamps are not touched.
func (p Patch) Apply(l *Link) {
	if v, ok := p.URL.Get(); ok {
		l.URL = v
	}
	if v, ok := p.Title.Get(); ok {
		l.Title = &v
	}
	if v, ok := p.Tags.Get(); ok {
		l.Tags = NormalizeTags(v)
	}
	if v, ok := p.Notes.Get(); ok {
		l.Notes = &v
	}
}

// ListQuery selects a page of links. Empty Tag or Query means no filter.
type ListQuery struct {
	Limit  int
	Offset int
	Tag    string
	Query  string
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern returns Query as a LIKE pattern matching any string that
// contains it. Wildcards in Query are escaped with a backslash.
func (q ListQuery) ContainsPattern() string {
	return "%" + likeEscaper.Replace(q.Query) + "%"
}

// Page is one window of a filtered, sorted listing. Total counts every
// matching link, not just the ones in Links.
type Page struct {
	Links []Link `json:"links"`
	Total int    `json:"total"`
}

// NewLink builds the stored form of d with the backend-assigned id and a
// single creation instant.
func NewLink(id string, d Draft, now time.Time) Link {
	return Link{
		ID:        id,
		URL:       d.URL,
		Title:     d.Title,
		Tags:      NormalizeTags(d.Tags),
		Notes:     d.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NormalizeTags returns tags unchanged, or an empty slice for nil. Order and
// duplicates are preserved.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// Window returns links[offset:offset+limit] clamped to the slice bounds.
// A negative limit means no limit.
func Window(links []Link, offset, limit int) []Link {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(links) {
		return []Link{}
	}
	end := len(links)
	if limit >= 0 && limit < end-offset {
		end = offset + limit
	}
	return links[offset:end]
}
