package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const catalogCacheKey = "active"

// Catalog serves the active module list. The catalog is closed and changes
// rarely, so results are cached for ttl.
type Catalog struct {
	store *Store
	cache *expirable.LRU[string, []Module]
}

// NewCatalog creates a catalog over store. A non-positive ttl disables expiry.
func NewCatalog(store *Store, ttl time.Duration) *Catalog {
	if ttl < 0 {
		ttl = 0
	}
	return &Catalog{
		store: store,
		cache: expirable.NewLRU[string, []Module](1, nil, ttl),
	}
}

// ListModules returns active modules ordered by display_order
func (c *Catalog) ListModules(ctx context.Context) ([]Module, error) {
	if modules, ok := c.cache.Get(catalogCacheKey); ok {
		return append([]Module(nil), modules...), nil
	}

	modules, err := c.store.ListModules(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(catalogCacheKey, modules)
	return append([]Module(nil), modules...), nil
}

// SetActive toggles a module and drops the cached list
func (c *Catalog) SetActive(ctx context.Context, key ModuleKey, active bool) error {
	if err := c.store.SetModuleActive(ctx, key, active); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Invalidate drops the cached module list
func (c *Catalog) Invalidate() {
	c.cache.Purge()
}
