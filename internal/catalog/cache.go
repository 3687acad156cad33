package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Cache keeps recently seen active classes in memory so join validation
// does not hit SQLite on every join. Entries expire after ttl so classes
// ended from the CLI stop validating without a restart.
type Cache struct {
	source  interfaces.ClassCatalog
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	mu      sync.RWMutex
	classes map[string]cachedClass
}

type cachedClass struct {
	class    *types.Class
	loadedAt time.Time
}

var _ interfaces.ClassCatalog = (*Cache)(nil)

// NewCache wraps source. A non-positive ttl disables expiry.
func NewCache(source interfaces.ClassCatalog, ttl time.Duration, logger *zerolog.Logger) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "catalog-cache").Logger(),
		classes: make(map[string]cachedClass),
	}
}

// LoadActiveClasses warms the cache from the source
func (c *Cache) LoadActiveClasses(ctx context.Context) error {
	classes, err := c.source.ListActiveClasses(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active classes: %w", err)
	}

	now := c.now()
	c.mu.Lock()
	for _, class := range classes {
		c.classes[class.ID] = cachedClass{class: class, loadedAt: now}
	}
	c.mu.Unlock()

	c.logger.Info().Int("classes", len(classes)).Msg("loaded active classes")
	return nil
}

func (c *Cache) fresh(entry cachedClass) bool {
	return c.ttl <= 0 || c.now().Sub(entry.loadedAt) < c.ttl
}

// GetClass answers from memory when possible. Only active classes are
// cached; ended ones are always read through.
func (c *Cache) GetClass(ctx context.Context, classID string) (*types.Class, error) {
	c.mu.RLock()
	entry, ok := c.classes[classID]
	c.mu.RUnlock()
	if ok && c.fresh(entry) {
		return entry.class, nil
	}

	class, err := c.source.GetClass(ctx, classID)
	if err != nil {
		if ok {
			c.Invalidate(classID)
		}
		return nil, err
	}

	c.mu.Lock()
	if class.Status == types.ClassStatusActive {
		c.classes[classID] = cachedClass{class: class, loadedAt: c.now()}
	} else {
		delete(c.classes, classID)
	}
	c.mu.Unlock()

	return class, nil
}

// ListActiveClasses returns the cached active classes sorted by id
func (c *Cache) ListActiveClasses(ctx context.Context) ([]*types.Class, error) {
	c.mu.RLock()
	classes := make([]*types.Class, 0, len(c.classes))
	for _, entry := range c.classes {
		if c.fresh(entry) {
			classes = append(classes, entry.class)
		}
	}
	c.mu.RUnlock()

	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	return classes, nil
}

// Invalidate drops classID from memory
func (c *Cache) Invalidate(classID string) {
	c.mu.Lock()
	delete(c.classes, classID)
	c.mu.Unlock()
}

func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.source.HealthCheck(ctx)
}

func (c *Cache) Close() error {
	return c.source.Close()
}
