// Package fetch defines the upstream bar source used by the scheduler.
//
// The core never talks to a market-data API directly. Everything upstream
// sits behind the Client interface; the shipped implementation replays bar
// batches from spool files dropped by an external collector.
package fetch

import (
	"context"
	"time"

	"github.com/feedvault/feedvault/internal/storage/types"
)

// Client fetches bars for one symbol and interval over a time window.
// A zero since means full history; a zero until means no upper bound.
//
// A nil error with an empty batch means the window was quiet but the
// symbol exists. errors.ErrNoData means upstream definitively has nothing
// for the symbol; the registry treats that as a not-found signal. Any
// other error is transient and leaves symbol state untouched.
type Client interface {
	Fetch(ctx context.Context, symbol string, interval types.Interval, since, until time.Time) ([]types.Bar, error)
}

// Func adapts a plain function to the Client interface.
type Func func(ctx context.Context, symbol string, interval types.Interval, since, until time.Time) ([]types.Bar, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, symbol string, interval types.Interval, since, until time.Time) ([]types.Bar, error) {
	return f(ctx, symbol, interval, since, until)
}
