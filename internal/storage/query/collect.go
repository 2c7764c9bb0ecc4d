package query

import (
	"context"
	"sort"

	"github.com/feedvault/feedvault/internal/storage/engine"
	"github.com/feedvault/feedvault/internal/storage/flags"
	"github.com/feedvault/feedvault/internal/storage/layout"
	"github.com/feedvault/feedvault/internal/storage/types"
)

// SeriesSummary is a Summary tagged with the series it describes and the
// backend currently serving it.
type SeriesSummary struct {
	Symbol   string
	Interval types.Interval
	Backend  flags.Kind
	Summary
}

// Collector resolves series to their Parquet globs and summarizes them.
// Routing follows the same backend selection as reads and writes, so the
// numbers reflect what the engine would actually serve.
type Collector struct {
	resolver *layout.Resolver
	selector *engine.Selector
	svc      *Service
}

// NewCollector creates a collector over the given layout and backends.
func NewCollector(resolver *layout.Resolver, selector *engine.Selector, svc *Service) *Collector {
	return &Collector{resolver: resolver, selector: selector, svc: svc}
}

// Series summarizes one series through whichever backend serves it.
func (c *Collector) Series(ctx context.Context, key types.SeriesKey) (SeriesSummary, error) {
	kind := c.selector.For(key).Kind()

	pattern, err := c.pattern(key, kind)
	if err != nil {
		return SeriesSummary{}, err
	}

	sum, err := c.svc.Summarize(ctx, pattern)
	if err != nil {
		return SeriesSummary{}, err
	}

	return SeriesSummary{
		Symbol:   key.Symbol,
		Interval: key.Interval,
		Backend:  kind,
		Summary:  sum,
	}, nil
}

// Dataset summarizes every symbol present for one (market, source, interval)
// dataset, in either layout, sorted by symbol.
func (c *Collector) Dataset(ctx context.Context, market, source string, interval types.Interval) ([]SeriesSummary, error) {
	legacy, err := c.resolver.ListLegacySymbols(interval)
	if err != nil {
		return nil, err
	}
	part, err := c.resolver.ListPartitionedSymbols(market, source, interval)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(legacy)+len(part))
	var symbols []string
	for _, sym := range append(legacy, part...) {
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	summaries := make([]SeriesSummary, 0, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}

		key := types.SeriesKey{Market: market, Source: source, Symbol: sym, Interval: interval}
		sum, err := c.Series(ctx, key)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, sum)
	}

	return summaries, nil
}

// pattern returns the Parquet glob for a series under the given backend.
// The flat backend stores every series in the legacy layout regardless of
// the key's scope, so its pattern is always the legacy file.
func (c *Collector) pattern(key types.SeriesKey, kind flags.Kind) (string, error) {
	if kind == flags.KindPartitioned {
		return c.resolver.PartitionGlob(key)
	}
	return c.resolver.LegacyFile(key)
}
