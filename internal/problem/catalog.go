package problem

import (
	"context"
	"sync"
)

// Catalog lists the problems available for matches. Management of problems
// themselves lives outside this service.
type Catalog interface {
	ListAllIDs(ctx context.Context) ([]string, error)
}

// MemCatalog is a fixed in-memory catalog for tests and DB-less deployments.
type MemCatalog struct {
	mu  sync.RWMutex
	ids []string
}

func NewMemCatalog(ids ...string) *MemCatalog {
	return &MemCatalog{ids: append([]string(nil), ids...)}
}

func (c *MemCatalog) ListAllIDs(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.ids...), nil
}
