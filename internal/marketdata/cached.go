package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/cache"
)

// BarSource is anything that serves historical bars
type BarSource interface {
	Bars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error)
}

// CachedSource decorates a BarSource with Redis caching. Cache problems are
// logged by the cache service and degrade to direct upstream fetches; a
// negative result (ErrNoData) is cached too so repeated backtests over a
// gap do not hammer the provider.
type CachedSource struct {
	upstream BarSource
	cache    *cache.Service
}

// cachedRange is the stored form of one bar lookup
type cachedRange struct {
	Bars   []Bar `json:"bars,omitempty"`
	NoData bool  `json:"no_data,omitempty"`
}

// NewCachedSource wraps upstream with the cache service. A nil cache
// returns upstream unchanged.
func NewCachedSource(upstream BarSource, c *cache.Service) BarSource {
	if c == nil {
		return upstream
	}
	return &CachedSource{upstream: upstream, cache: c}
}

// Bars serves from cache when possible and falls through to upstream
func (s *CachedSource) Bars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error) {
	key := fmt.Sprintf(cache.KeyBars, ticker, from.Unix(), to.Unix())

	var stored cachedRange
	if err := s.cache.GetJSON(ctx, key, &stored); err == nil {
		if stored.NoData {
			return nil, ErrNoData
		}
		return stored.Bars, nil
	}

	bars, err := s.upstream.Bars(ctx, ticker, from, to)
	if err != nil {
		if errors.Is(err, ErrNoData) {
			_ = s.cache.SetJSON(ctx, key, cachedRange{NoData: true}, cache.BarsTTL)
		}
		return nil, err
	}

	_ = s.cache.SetJSON(ctx, key, cachedRange{Bars: bars}, cache.BarsTTL)
	return bars, nil
}
