package link

import (
	"context"

	"github.com/linksapi/links/internal/errx"
)

// Service defines the link operations exposed to the HTTP layer. It
// validates input and delegates to a Store.
type Service interface {
	List(ctx context.Context, q ListQuery) (Page, error)
	Create(ctx context.Context, d Draft) (Link, error)
	CreateBulk(ctx context.Context, ds []Draft) ([]Link, error)
	Get(ctx context.Context, id string) (Link, error)
	Update(ctx context.Context, id string, p Patch) (Link, error)
	Delete(ctx context.Context, id string) (bool, error)
	Export(ctx context.Context) ([]Link, error)
}

type service struct {
	store Store
}

// NewService creates a Service backed by store.
func NewService(store Store) Service {
	return &service{store: store}
}

func (s *service) List(ctx context.Context, q ListQuery) (Page, error) {
	const op = "link.service.List"

	if err := ValidateListQuery(q); err != nil {
		return Page{}, errx.E(op, errx.Invalid, err)
	}

	page, err := s.store.List(ctx, q)
	if err != nil {
		return Page{}, errx.Wrap(op, err)
	}
	if page.Links == nil {
		page.Links = []Link{}
	}
	return page, nil
}

func (s *service) Create(ctx context.Context, d Draft) (Link, error) {
	const op = "link.service.Create"

	if err := ValidateDraft(d); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}
	d.Tags = NormalizeTags(d.Tags)

	created, err := s.store.Create(ctx, d)
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	return created, nil
}

func (s *service) CreateBulk(ctx context.Context, ds []Draft) ([]Link, error) {
	const op = "link.service.CreateBulk"

	if err := ValidateBulk(ds); err != nil {
		return nil, errx.E(op, errx.Invalid, err)
	}
	for i := range ds {
		ds[i].Tags = NormalizeTags(ds[i].Tags)
	}

	created, err := s.store.CreateBulk(ctx, ds)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, id string) (Link, error) {
	const op = "link.service.Get"

	if id == "" {
		return Link{}, errx.E(op, errx.NotFound, ErrNotFound)
	}

	l, err := s.store.Get(ctx, id)
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	return l, nil
}

func (s *service) Update(ctx context.Context, id string, p Patch) (Link, error) {
	const op = "link.service.Update"

	if err := ValidatePatch(p); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}
	if id == "" {
		return Link{}, errx.E(op, errx.NotFound, ErrNotFound)
	}

	l, err := s.store.Update(ctx, id, p)
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	return l, nil
}

func (s *service) Delete(ctx context.Context, id string) (bool, error) {
	const op = "link.service.Delete"

	if id == "" {
		return false, nil
	}

	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, errx.Wrap(op, err)
	}
	return ok, nil
}

func (s *service) Export(ctx context.Context) ([]Link, error) {
	const op = "link.service.Export"

	links, err := s.store.ExportAll(ctx)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	if links == nil {
		links = []Link{}
	}
	return links, nil
}
