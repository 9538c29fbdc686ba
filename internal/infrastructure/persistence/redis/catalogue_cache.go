package redis

import (
	"context"
	"errors"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/achievement"
	"github.com/fundhub/fundhub-engine/pkg/circuitbreaker"
	"github.com/fundhub/fundhub-engine/pkg/logger"
)

// Store is the subset of Cache the catalogue cache needs.
type Store interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ Store = (*Cache)(nil)

var catalogueKey = CatalogueKey("all")

// CatalogueCache decorates a catalogue loader with a shared Redis copy. Redis
// failures fall through to the loader; once they repeat, the breaker keeps
// reads away from Redis until it recovers.
type CatalogueCache struct {
	loader  achievement.Catalogue
	store   Store
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewCatalogueCache creates the decorator. A non-positive ttl means TTLCatalogue.
func NewCatalogueCache(loader achievement.Catalogue, store Store, ttl time.Duration, log *logger.Logger) *CatalogueCache {
	if ttl <= 0 {
		ttl = TTLCatalogue
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("catalogue_cache"))

	return &CatalogueCache{
		loader: loader,
		store:  store,
		ttl:    ttl,
		breaker: circuitbreaker.CacheBreaker("redis-catalogue", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		logger: log,
	}
}

var _ achievement.Catalogue = (*CatalogueCache)(nil)

// Achievements implements achievement.Catalogue.
func (c *CatalogueCache) Achievements(ctx context.Context) ([]*achievement.Achievement, error) {
	view, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	return view.Achievements(ctx)
}

// CriteriaByType implements achievement.Catalogue.
func (c *CatalogueCache) CriteriaByType(ctx context.Context, t achievement.CriterionType) ([]*achievement.Criterion, error) {
	view, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	return view.CriteriaByType(ctx, t)
}

// Achievement implements achievement.Catalogue.
func (c *CatalogueCache) Achievement(ctx context.Context, id string) (*achievement.Achievement, error) {
	view, err := c.view(ctx)
	if err != nil {
		return nil, err
	}
	return view.Achievement(ctx, id)
}

// Invalidate drops the shared copy; the next read reloads it.
func (c *CatalogueCache) Invalidate(ctx context.Context) error {
	return c.store.Delete(ctx, catalogueKey)
}

// Breaker returns the breaker guarding Redis calls.
func (c *CatalogueCache) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

func (c *CatalogueCache) view(ctx context.Context) (*achievement.StaticCatalogue, error) {
	var (
		cached []*achievement.Achievement
		hit    bool
	)
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.store.Get(ctx, catalogueKey, &cached)
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		hit = err == nil
		return err
	})
	if hit {
		return achievement.NewStaticCatalogue(cached...), nil
	}
	if err != nil && !errors.Is(err, circuitbreaker.ErrOpen) {
		c.logger.Warn("catalogue cache read failed", logger.Err(err))
	}

	list, err := c.loader.Achievements(ctx)
	if err != nil {
		return nil, err
	}
	if c.breaker.State() == circuitbreaker.StateOpen {
		return achievement.NewStaticCatalogue(list...), nil
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, catalogueKey, list, c.ttl)
	})
	if err != nil {
		c.logger.Warn("catalogue cache write failed", logger.Err(err))
	}
	return achievement.NewStaticCatalogue(list...), nil
}
