package risk

import "time"

// State is the day-scoped risk bookkeeping the engine evaluates against.
// It is always scoped to a single UTC calendar day and reset at the day
// boundary.
type State struct {
	Day           string // UTC date, YYYY-MM-DD
	DailyPnL      float64
	DailyOrders   int
	LastExecAt    time.Time // zero when nothing executed yet today
	UnrealizedPnL float64
}

// Snapshot is the narrow storage view needed to rebuild a State. The sqlite
// store satisfies it; backtests never touch it.
type Snapshot interface {
	DailyPnL(day string) (float64, error)
	DailyExecutionCount(day string) (int, error)
	LastExecutionTime() (time.Time, bool, error)
	PositionState(symbol string) (size, avgCost float64, err error)
}

// DayKey formats the UTC calendar day State is scoped to.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FreshForDay returns an empty state for the given moment's UTC day, used by
// backtests at each day boundary.
func FreshForDay(now time.Time) State {
	return State{Day: DayKey(now)}
}

// FromStorageSnapshot rebuilds today's state from persisted history. The
// unrealized PnL is marked against the supplied price and the currently open
// position; flat or short positions contribute zero.
func FromStorageSnapshot(snap Snapshot, symbol string, price float64, now time.Time) (State, error) {
	day := DayKey(now)

	pnl, err := snap.DailyPnL(day)
	if err != nil {
		return State{}, err
	}
	orders, err := snap.DailyExecutionCount(day)
	if err != nil {
		return State{}, err
	}
	lastExec, ok, err := snap.LastExecutionTime()
	if err != nil {
		return State{}, err
	}
	if !ok {
		lastExec = time.Time{}
	}

	position, avgCost, err := snap.PositionState(symbol)
	if err != nil {
		return State{}, err
	}
	unrealized := 0.0
	if position > 0 {
		unrealized = (price - avgCost) * position
	}

	return State{
		Day:           day,
		DailyPnL:      pnl,
		DailyOrders:   orders,
		LastExecAt:    lastExec,
		UnrealizedPnL: unrealized,
	}, nil
}
