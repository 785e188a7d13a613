package domain

// PositionStatus represents the status of a simulated position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss    CloseReason = "SL"
	CloseReasonTakeProfit  CloseReason = "TP"
	CloseReasonExitChannel CloseReason = "EXIT_CHANNEL" // close broke the exit-period Donchian band
	CloseReasonEndOfData   CloseReason = "END_OF_DATA"  // backtest ran out of bars
	CloseReasonUnknown     CloseReason = "Unknown"
)
