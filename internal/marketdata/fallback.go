package marketdata

import (
	"context"

	"github.com/sirupsen/logrus"

	"dex-copy-engine/internal/domain"
)

// LatestPricer returns the latest price recorded for (token, chain).
// storage.SignalStore satisfies it.
type LatestPricer interface {
	LatestPrice(ctx context.Context, token, chain string) (float64, bool, error)
}

// FallbackFeed resolves the current price of a signal's token from, in order:
// the most recent price in the signal table, the streamed price cache and,
// when configured, the market data provider.
type FallbackFeed struct {
	signals  LatestPricer
	cache    *PriceCache
	provider Provider
	log      *logrus.Entry
}

// NewFallbackFeed creates a feed. cache and provider may be nil.
func NewFallbackFeed(signals LatestPricer, cache *PriceCache, provider Provider) *FallbackFeed {
	return &FallbackFeed{
		signals:  signals,
		cache:    cache,
		provider: provider,
		log:      logrus.WithField("component", "price-feed"),
	}
}

// Price returns the current price of the signal's token. ok is false when
// no source knows it. Source errors degrade to the next source.
func (f *FallbackFeed) Price(ctx context.Context, sig *domain.Signal) (float64, bool, error) {
	if f.signals != nil {
		price, ok, err := f.signals.LatestPrice(ctx, sig.Token, sig.Chain)
		if err != nil {
			f.log.WithError(err).WithField("token", sig.Token).Warn("signal table price unavailable")
		} else if ok {
			return price, true, nil
		}
	}

	if f.cache != nil {
		if sig.ContractAddress != "" {
			if price, ok := f.cache.Get(sig.ContractAddress, sig.Chain); ok {
				return price, true, nil
			}
		}
		if price, ok := f.cache.Get(sig.Token, sig.Chain); ok {
			return price, true, nil
		}
	}

	if f.provider != nil {
		price, ok, err := f.provider.GetPrice(ctx, sig.Asset(), sig.Chain)
		if err != nil {
			return 0, false, err
		}
		if ok && f.cache != nil {
			f.cache.Set(sig.Asset(), sig.Chain, price)
		}
		return price, ok, nil
	}
	return 0, false, nil
}
