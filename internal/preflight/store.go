package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/cindex-dev/cindex/internal/store"
)

// CheckStore verifies the PostgreSQL store is reachable and carries the
// pgvector extension. Both are hard requirements; nothing works without
// the store.
func (c *Checker) CheckStore(ctx context.Context) []CheckResult {
	reach := CheckResult{
		Name:     "store_connection",
		Required: true,
	}

	if c.cfg.Store.Password == "" {
		reach.Status = StatusFail
		reach.Message = "store password is not set"
		reach.Details = "Set POSTGRES_PASSWORD or store.password in the config file"
		return []CheckResult{reach}
	}

	pg, err := store.Connect(ctx, store.Options{
		DSN:              c.cfg.Store.DSN(),
		Dimensions:       c.cfg.Backend.EmbeddingDimensions,
		MaxConns:         2,
		ConnectRetries:   1,
		ConnectBaseDelay: 100 * time.Millisecond,
	})
	if err != nil {
		reach.Status = StatusFail
		reach.Message = fmt.Sprintf("cannot connect: %v", err)
		reach.Details = fmt.Sprintf("Host %s:%d database %s",
			c.cfg.Store.Host, c.cfg.Store.Port, c.cfg.Store.Database)
		return []CheckResult{reach}
	}
	defer pg.Close()

	reach.Status = StatusPass
	reach.Message = fmt.Sprintf("connected to %s:%d/%s",
		c.cfg.Store.Host, c.cfg.Store.Port, c.cfg.Store.Database)

	vector := CheckResult{
		Name:     "pgvector_extension",
		Required: true,
	}
	var version string
	err = pg.Pool().QueryRow(ctx,
		"SELECT extversion FROM pg_extension WHERE extname = 'vector'").Scan(&version)
	if err != nil {
		vector.Status = StatusFail
		vector.Message = "pgvector extension is not installed"
		vector.Details = "Run: CREATE EXTENSION vector;"
	} else {
		vector.Status = StatusPass
		vector.Message = fmt.Sprintf("pgvector %s", version)
	}

	return []CheckResult{reach, vector}
}
