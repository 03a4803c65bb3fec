package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopDrained    StopReason = "drained"
	StopFatalError StopReason = "fatal_error"
)
