// Package store opens the link.Store selected by configuration.
package store

import (
	"context"
	"log/slog"

	"github.com/linksapi/links/internal/config"
	"github.com/linksapi/links/internal/errx"
	"github.com/linksapi/links/internal/idgen"
	"github.com/linksapi/links/internal/link"
	"github.com/linksapi/links/internal/store/filestore"
	"github.com/linksapi/links/internal/store/pgstore"
	"github.com/linksapi/links/internal/store/sqlstore"
)

// Backend names a storage implementation.
type Backend string

const (
	// File keeps links in one JSON document.
	File Backend = "file"
	// Postgres stores links in a PostgreSQL table.
	Postgres Backend = "postgres"
	// SQLite stores links in a SQLite or libSQL database.
	SQLite Backend = "sqlite"
)

// Select reports which backend cfg points at: the JSON file when no database
// URL is set, SQLite/libSQL for their schemes, Postgres otherwise.
func Select(cfg config.StorageConfig) Backend {
	switch {
	case cfg.DatabaseURL == "":
		return File
	case sqlstore.IsURL(cfg.DatabaseURL):
		return SQLite
	default:
		return Postgres
	}
}

// Open opens the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (link.Store, error) {
	const op = "store.Open"

	if logger == nil {
		logger = slog.Default()
	}

	backend := Select(cfg)
	logger = logger.With("backend", string(backend))

	var (
		s   link.Store
		err error
	)
	switch backend {
	case File:
		s, err = filestore.Open(cfg.DataFile, &filestore.Config{
			IDGenerator: IDGenerator(backend, cfg.IDVersion),
			Logger:      logger,
		})
	case SQLite:
		s, err = sqlstore.Open(ctx, cfg.DatabaseURL, &sqlstore.Config{
			IDGenerator: IDGenerator(backend, cfg.IDVersion),
			Logger:      logger,
		})
	default:
		openCtx := ctx
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			openCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		s, err = pgstore.Open(openCtx, cfg.DatabaseURL, &pgstore.Config{
			MaxConns:       cfg.MaxConns,
			MinConns:       cfg.MinConns,
			ConnectTimeout: cfg.ConnectTimeout,
			Logger:         logger,
		})
	}
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	return s, nil
}

// IDGenerator returns the id generator for an application-assigned backend.
// Version 0 keeps the default: random v4 ids for the file and time-ordered v7
// ids for SQLite, whose primary key index benefits from insertion order.
// Postgres assigns its own ids.
func IDGenerator(b Backend, version int) idgen.Generator {
	switch {
	case version != 0:
		return idgen.New(idgen.Version(version), idgen.WithRetries(1))
	case b == SQLite:
		return idgen.New(idgen.V7, idgen.WithRetries(1))
	default:
		return idgen.New(idgen.V4)
	}
}
