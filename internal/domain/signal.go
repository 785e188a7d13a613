package domain

import "time"

// Direction is the side of a channel breakout.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionNone  Direction = "none"
)

// Quality grades a breakout.
type Quality string

const (
	QualityTrue Quality = "true" // qualifying full entry
	QualitySub  Quality = "sub"  // partial or marginal breach, scale-in candidate
	QualityNone Quality = "none"
)

// Strength is the multi-timeframe agreement of a breakout.
type Strength string

const (
	StrengthNone   Strength = "none"
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

// Suggestion is the human-facing action attached to an evaluation.
type Suggestion string

const (
	SuggestionNoEntry Suggestion = "no entry"
	SuggestionFull    Suggestion = "full size at current price"
	SuggestionScaleIn Suggestion = "partial/scale-in entry"
)

// DonchianBands holds a Donchian channel for one window.
type DonchianBands struct {
	Upper  float64
	Lower  float64
	Middle float64
}

// Evaluation is the decision snapshot for the last closed bar of a window.
type Evaluation struct {
	Direction  Direction
	Strength   Strength
	Quality    Quality
	Tag        string
	Suggestion Suggestion

	Close             float64
	N                 float64
	EntryBands        DonchianBands
	ConfirmationBands DonchianBands
	VolumeRatio       *float64 // nil when the volume filter did not run
}

// Actionable reports whether the evaluation suggests opening a position.
func (e Evaluation) Actionable() bool {
	return e.Suggestion != SuggestionNoEntry
}

// RiskLevels are the exit levels attached to a suggested entry.
type RiskLevels struct {
	StopLoss     float64
	TakeProfit   *float64
	TrailingExit *float64
}

// Advice is an evaluation combined with sizing and levels for one instrument.
type Advice struct {
	ID           int64
	SessionID    string
	Symbol       string
	Interval     Interval
	BarCloseTime time.Time
	Price        float64
	Evaluation   Evaluation
	Levels       RiskLevels
	Size         float64
	CreatedAt    time.Time
}
