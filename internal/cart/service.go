// Package cart serves the cart and the saved product lists with a Redis
// read-through cache. Every write drops the user's cached entries.
package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
)

type Service struct {
	db     *sql.DB
	cache  redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewService builds the service. A nil cache disables caching.
func NewService(db *sql.DB, cache redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "cart"),
	}
}

func cartKey(userID int64) string {
	return "cart:" + strconv.FormatInt(userID, 10)
}

func savedKey(userID int64, list models.SavedList) string {
	return "saved:" + strconv.FormatInt(userID, 10) + ":" + string(list)
}

func (s *Service) Get(ctx context.Context, userID int64) ([]models.CartLine, error) {
	return cached(ctx, s, cartKey(userID), func() ([]models.CartLine, error) {
		return store.GetCart(ctx, s.db, userID)
	})
}

// Add puts quantity more units of the product into the cart.
func (s *Service) Add(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", models.ErrInvalidRequest)
	}
	if err := s.requireListed(ctx, productID); err != nil {
		return err
	}
	if err := store.AddToCart(ctx, s.db, userID, productID, quantity); err != nil {
		return err
	}
	s.Invalidate(ctx, userID)
	return nil
}

// SetQuantity replaces the line quantity. Zero removes the line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: negative quantity", models.ErrInvalidRequest)
	}
	if quantity == 0 {
		return s.Remove(ctx, userID, productID)
	}
	if err := store.SetCartQuantity(ctx, s.db, userID, productID, quantity); err != nil {
		return err
	}
	s.Invalidate(ctx, userID)
	return nil
}

func (s *Service) Remove(ctx context.Context, userID, productID int64) error {
	if err := store.RemoveFromCart(ctx, s.db, userID, productID); err != nil {
		return err
	}
	s.Invalidate(ctx, userID)
	return nil
}

func (s *Service) Saved(ctx context.Context, userID int64, list models.SavedList) ([]models.SavedProduct, error) {
	if !list.Valid() {
		return nil, fmt.Errorf("%w: unknown list %q", models.ErrInvalidRequest, list)
	}
	return cached(ctx, s, savedKey(userID, list), func() ([]models.SavedProduct, error) {
		return store.ListSaved(ctx, s.db, userID, list)
	})
}

func (s *Service) Save(ctx context.Context, userID, productID int64, list models.SavedList) error {
	if !list.Valid() {
		return fmt.Errorf("%w: unknown list %q", models.ErrInvalidRequest, list)
	}
	if err := s.requireListed(ctx, productID); err != nil {
		return err
	}
	if err := store.AddSaved(ctx, s.db, userID, productID, list); err != nil {
		return err
	}
	s.drop(ctx, savedKey(userID, list))
	return nil
}

func (s *Service) Unsave(ctx context.Context, userID, productID int64, list models.SavedList) error {
	if !list.Valid() {
		return fmt.Errorf("%w: unknown list %q", models.ErrInvalidRequest, list)
	}
	if err := store.RemoveSaved(ctx, s.db, userID, productID, list); err != nil {
		return err
	}
	s.drop(ctx, savedKey(userID, list))
	return nil
}

// Invalidate drops the cached cart. Checkout calls it after an order has
// consumed cart lines.
func (s *Service) Invalidate(ctx context.Context, userID int64) {
	s.drop(ctx, cartKey(userID))
}

func (s *Service) requireListed(ctx context.Context, productID int64) error {
	product, err := store.GetProduct(ctx, s.db, productID)
	if err != nil {
		return err
	}
	if product.IsArchived {
		return fmt.Errorf("%w: product %d is archived", models.ErrProductUnavailable, productID)
	}
	return nil
}

func (s *Service) drop(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation failed", "key", key, "error", err)
	}
}

// cached reads key from Redis, falling back to load on a miss or a cache
// failure. Cache errors never fail the request.
func cached[T any](ctx context.Context, s *Service, key string, load func() ([]T, error)) ([]T, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var items []T
			if err := json.Unmarshal(raw, &items); err == nil {
				return items, nil
			}
			s.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key)
		case !errors.Is(err, redis.Nil):
			s.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		}
	}

	items, err := load()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		payload, err := json.Marshal(items)
		if err == nil {
			err = s.cache.Set(ctx, key, payload, s.ttl).Err()
		}
		if err != nil {
			s.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
		}
	}

	return items, nil
}
