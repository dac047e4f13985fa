package smt

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

type cached struct {
	values map[string]uint64
	unsat  bool
}

// Cache 按查询文本的哈希缓存求解结果，回溯时同一条路径常被重复求解
type Cache struct {
	backend Backend
	mu      sync.Mutex
	entries map[uint64]cached
	hits    int
}

func NewCache(backend Backend) *Cache {
	return &Cache{backend: backend, entries: make(map[uint64]cached)}
}

func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

func (c *Cache) Solve(ctx context.Context, f *Formula) (Model, error) {
	key := xxhash.Sum64String(f.SMTLib2())

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		c.hits++
	}
	c.mu.Unlock()
	if ok {
		if entry.unsat {
			return nil, ErrUnsat
		}
		return f.Bind(entry.values), nil
	}

	model, err := c.backend.Solve(ctx, f)
	switch {
	case err == nil:
		entry = cached{values: f.Named(model)}
	case errors.Cause(err) == ErrUnsat:
		entry = cached{unsat: true}
	default:
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return model, err
}
