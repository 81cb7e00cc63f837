package marketdata

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-copy-engine/internal/domain"
)

type fakeSignals struct {
	price float64
	ok    bool
	err   error
}

func (f fakeSignals) LatestPrice(context.Context, string, string) (float64, bool, error) {
	return f.price, f.ok, f.err
}

type fakeProvider struct {
	prices map[string]float64
	calls  int
}

func (f *fakeProvider) GetPrice(_ context.Context, token, _ string) (float64, bool, error) {
	f.calls++
	p, ok := f.prices[token]
	return p, ok, nil
}

func (f *fakeProvider) GetLiquidity(context.Context, string, string) (Liquidity, error) {
	return Liquidity{}, nil
}

func (f *fakeProvider) GetReferencePrice(context.Context, string, string) (float64, bool, error) {
	return 0, false, nil
}

func (f *fakeProvider) GetBondingCurve(context.Context, string, string) (BondingCurve, bool, error) {
	return BondingCurve{TokenReserve: new(big.Int), QuoteReserve: new(big.Int)}, false, nil
}

func TestPriceCache_TTL(t *testing.T) {
	cache := NewPriceCache(time.Minute)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	cache.Set("cakeusdt", "BSC", 2.5)
	cache.Set("DOGE", "bsc", 0)

	price, ok := cache.Get("CAKE", "bsc")
	require.True(t, ok)
	assert.Equal(t, 2.5, price)
	_, ok = cache.Get("DOGE", "bsc")
	assert.False(t, ok, "zero prices are not cached")

	cache.Set("0xAbC", "bsc", 3)
	price, ok = cache.Get("0xabc", "BSC")
	require.True(t, ok)
	assert.Equal(t, 3.0, price)

	clock = clock.Add(2 * time.Minute)
	_, ok = cache.Get("CAKE", "bsc")
	assert.False(t, ok, "stale entry")
	assert.Equal(t, 2, cache.Len())
}

func TestFallbackFeed_Order(t *testing.T) {
	ctx := context.Background()
	sig := &domain.Signal{ID: "S1", Token: "CAKE", Chain: "bsc"}

	cache := NewPriceCache(0)
	cache.Set("CAKE", "bsc", 1.2)
	provider := &fakeProvider{prices: map[string]float64{"CAKE": 1.3}}

	// signal table wins
	feed := NewFallbackFeed(fakeSignals{price: 1.1, ok: true}, cache, provider)
	price, ok, err := feed.Price(ctx, sig)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.1, price)

	// table error degrades to cache
	feed = NewFallbackFeed(fakeSignals{err: errors.New("db down")}, cache, provider)
	price, ok, err = feed.Price(ctx, sig)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.2, price)
	assert.Zero(t, provider.calls)

	// cache miss falls through to the provider and fills the cache
	feed = NewFallbackFeed(fakeSignals{}, NewPriceCache(0), provider)
	price, ok, err = feed.Price(ctx, sig)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.3, price)
	price, ok = feed.cache.Get("CAKE", "bsc")
	assert.True(t, ok)
	assert.Equal(t, 1.3, price)

	// nothing known
	feed = NewFallbackFeed(fakeSignals{}, nil, nil)
	_, ok, err = feed.Price(ctx, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}
