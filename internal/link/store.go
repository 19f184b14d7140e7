package link

import (
	"context"
	"errors"
)

// ErrNotFound is wrapped (with errx.NotFound) by Get and Update when no link
// has the requested id.
var ErrNotFound = errors.New("link not found")

// Store defines the persistence operations for links. Every backend must
// behave identically:
//
//   - List filters by exact tag membership and by a case-insensitive
//     substring of title, url or notes (both filters AND'ed), sorts by
//     UpdatedAt descending and then applies Offset/Limit.
//   - Create and CreateBulk assign the id and both timestamps; a bulk call
//     uses one timestamp for the whole batch.
//   - Update changes only the set fields of the patch and always refreshes
//     UpdatedAt.
//   - Delete is a hard delete and reports whether a link existed.
//   - ExportAll returns every link sorted like List, without pagination.
type Store interface {
	List(ctx context.Context, q ListQuery) (Page, error)
	Create(ctx context.Context, d Draft) (Link, error)
	CreateBulk(ctx context.Context, ds []Draft) ([]Link, error)
	Get(ctx context.Context, id string) (Link, error)
	Update(ctx context.Context, id string, p Patch) (Link, error)
	Delete(ctx context.Context, id string) (bool, error)
	ExportAll(ctx context.Context) ([]Link, error)
	Close() error
}
