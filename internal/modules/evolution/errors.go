package evolution

import "errors"

var (
	// ErrDataUnavailable marks a symbol with missing or too short history.
	// It never leaves the backtester.
	ErrDataUnavailable = errors.New("historical data unavailable")
	// ErrEvaluationTimeout is recorded on genomes whose backtest ran out of time
	ErrEvaluationTimeout = errors.New("genome evaluation timed out")
	// ErrPersistence is returned by Run when a generation could not be stored
	ErrPersistence = errors.New("failed to persist generation")
	// ErrEngineRunning is returned by Run when the engine is already running
	ErrEngineRunning = errors.New("evolution engine already running")
	// ErrGenomeNotFound is returned by store lookups
	ErrGenomeNotFound = errors.New("genome not found")
	// ErrUnknownStrategy is returned when a genome names a strategy the catalog lacks
	ErrUnknownStrategy = errors.New("unknown strategy")
)
