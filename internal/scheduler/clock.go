// Package scheduler drives the trading loop: a market-hours clock decides
// when ticks may fire, and the scheduler fans each tick out across active
// users with bounded concurrency.
package scheduler

import (
	"fmt"
	"time"
)

// DefaultMarketTimezone is the KRX session timezone.
const DefaultMarketTimezone = "Asia/Seoul"

// KRX regular session bounds, inclusive, in minutes from midnight.
const (
	marketOpenMinute  = 9 * 60
	marketCloseMinute = 15*60 + 30
)

// MarketClock answers whether the market is open at a point in time.
type MarketClock struct {
	loc *time.Location
}

// NewMarketClock loads the market timezone. An empty name selects the KRX
// default.
func NewMarketClock(tz string) (*MarketClock, error) {
	if tz == "" {
		tz = DefaultMarketTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading market timezone %q: %w", tz, err)
	}
	return &MarketClock{loc: loc}, nil
}

// Location returns the market timezone.
func (c *MarketClock) Location() *time.Location {
	return c.loc
}

// IsMarketHours reports whether t falls inside the regular session:
// weekdays 09:00 through 15:30 inclusive, market time.
func (c *MarketClock) IsMarketHours(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= marketOpenMinute && minute <= marketCloseMinute
}

// NextBoundary returns the next absolute interval boundary after t. A tick
// interval of 5 minutes fires at :00, :05, :10 and so on, not at
// start-time-plus-interval.
func (c *MarketClock) NextBoundary(t time.Time, interval time.Duration) time.Time {
	return t.Truncate(interval).Add(interval)
}
