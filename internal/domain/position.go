package domain

import "time"

// Position is a simulated position opened from an advice.
type Position struct {
	ID         int64
	Symbol     string
	Side       Direction // DirectionLong or DirectionShort
	Quality    Quality   // Breakout quality that triggered the entry
	EntryPrice float64
	ExitPrice  float64 // 0 while open
	Quantity   float64
	Leverage   int
	StopLoss   float64
	TakeProfit float64 // 0 when no target was set
	EntryTime  time.Time
	ExitTime   time.Time // zero value while open
	Status     PositionStatus
	PNL        float64

	CloseReason CloseReason
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// IsLong reports whether the position profits from rising prices.
func (p *Position) IsLong() bool {
	return p.Side != DirectionShort
}

// UnrealizedPNL values the position at price, including leverage.
func (p *Position) UnrealizedPNL(price float64) float64 {
	leverage := p.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	diff := price - p.EntryPrice
	if !p.IsLong() {
		diff = -diff
	}
	return diff * p.Quantity * float64(leverage)
}
