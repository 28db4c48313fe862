package health

import (
	"fmt"
	"time"
)

// MarketHours is the exchange trading window the watchdog is armed in:
// weekdays between open and close in the exchange timezone.
type MarketHours struct {
	loc      *time.Location
	openMin  int
	closeMin int
}

func NewMarketHours(timezone, open, close string) (*MarketHours, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	openMin, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("market open: %w", err)
	}
	closeMin, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("market close: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("market close %q must be after open %q", close, open)
	}
	return &MarketHours{loc: loc, openMin: openMin, closeMin: closeMin}, nil
}

// Contains reports whether t falls inside the trading window. The close
// minute itself is excluded.
func (h *MarketHours) Contains(t time.Time) bool {
	local := t.In(h.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= h.openMin && minute < h.closeMin
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
