package domain

import "time"

// Candle represents a single candlestick data point.
type Candle struct {
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Candle interval (e.g., "5m", "1h")
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	IsFinal   bool // Whether this candle is closed
}

// Body returns the absolute size of the candle body.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperWick returns the distance between the high and the top of the body.
func (c Candle) UpperWick() float64 {
	top := c.Open
	if c.Close > top {
		top = c.Close
	}
	return c.High - top
}

// LowerWick returns the distance between the bottom of the body and the low.
func (c Candle) LowerWick() float64 {
	bottom := c.Open
	if c.Close < bottom {
		bottom = c.Close
	}
	return bottom - c.Low
}

// Range returns high minus low.
func (c Candle) Range() float64 {
	return c.High - c.Low
}
