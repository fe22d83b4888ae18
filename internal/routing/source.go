package routing

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Priya8975/model-webhooks/internal/domain"
)

// CachedSource serves topic lookups from a Cache, falling back to base on a
// miss. Concurrent misses for one topic share a single base query, and failed
// queries are never cached.
type CachedSource struct {
	base    SubscriberSource
	cache   Cache
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewCachedSource wraps base. timeout bounds the shared store query; zero
// means DefaultStoreTimeout.
func NewCachedSource(base SubscriberSource, cache Cache, timeout time.Duration, logger *slog.Logger) *CachedSource {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &CachedSource{base: base, cache: cache, timeout: timeout, logger: logger}
}

func (s *CachedSource) ListActiveSubscribersForTopic(ctx context.Context, topic string) ([]domain.Subscriber, error) {
	subscribers, ok, err := s.cache.Get(ctx, topic)
	if err != nil {
		s.logger.Warn("resolution cache read failed, querying store", "topic", topic, "error", err)
	}
	if ok {
		return subscribers, nil
	}

	// The shared query outlives any one caller; each caller still stops
	// waiting when its own ctx ends.
	ch := s.group.DoChan(topic, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		fetched, err := s.base.ListActiveSubscribersForTopic(qctx, topic)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(qctx, topic, fetched); err != nil {
			s.logger.Warn("resolution cache write failed", "topic", topic, "error", err)
		}
		return fetched, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneSubscribers(res.Val.([]domain.Subscriber)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewSource picks the lookup path for the matcher: the cache-wrapped source,
// or base itself when caching is disabled.
func NewSource(base SubscriberSource, cache Cache, useCache bool, timeout time.Duration, logger *slog.Logger) SubscriberSource {
	if !useCache || cache == nil {
		return base
	}
	return NewCachedSource(base, cache, timeout, logger)
}

var _ SubscriberSource = (*CachedSource)(nil)
