// Package backend opens the store selected by configuration
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nombah501/LiteAuction-sub001/internal/store"
	"github.com/Nombah501/LiteAuction-sub001/internal/store/memory"
	"github.com/Nombah501/LiteAuction-sub001/internal/store/postgres"
)

// Backend names accepted by Open
const (
	Postgres = "postgres"
	Memory   = "memory"
)

// Options selects and configures a backend
type Options struct {
	Kind        string
	PostgresURL string
	LockTimeout time.Duration
	// InitSchema creates the PostgreSQL tables when missing.
	InitSchema bool
}

// Open connects to the configured backend
func Open(ctx context.Context, opts Options, log *slog.Logger) (store.Store, error) {
	switch opts.Kind {
	case Postgres, "":
		db, err := postgres.NewPostgresClient(opts.PostgresURL, opts.LockTimeout, log)
		if err != nil {
			return nil, err
		}
		if opts.InitSchema {
			if err := db.InitSchema(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		return db, nil
	case Memory:
		return memory.New(opts.LockTimeout), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Kind)
	}
}
