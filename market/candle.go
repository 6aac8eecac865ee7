package market

import "time"

// Candle is one OHLCV bar. TS is the bar open time in Unix milliseconds,
// matching what most exchange OHLCV endpoints return.
type Candle struct {
	Symbol    string
	Timeframe string
	TS        int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Source    string
}

// Time returns the bar open time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.TS).UTC()
}

// Closes extracts the close series from a candle slice, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
