// Package events provides event management functionality.
package events

// EventType identifies a kind of system event
type EventType string

const (
	// Portfolio events
	TradeExecuted       EventType = "TRADE_EXECUTED"
	PortfolioCreated    EventType = "PORTFOLIO_CREATED"
	PortfolioDeleted    EventType = "PORTFOLIO_DELETED"
	StopLossTriggered   EventType = "STOP_LOSS_TRIGGERED"
	TakeProfitTriggered EventType = "TAKE_PROFIT_TRIGGERED"

	// Evolution events
	EvolutionStarted    EventType = "EVOLUTION_STARTED"
	GenerationCompleted EventType = "GENERATION_COMPLETED"
	EvolutionStopped    EventType = "EVOLUTION_STOPPED"
	EvolutionFailed     EventType = "EVOLUTION_FAILED"
	StrategyDeployed    EventType = "STRATEGY_DEPLOYED"

	// System events
	BackupCompleted EventType = "BACKUP_COMPLETED"
	ErrorOccurred   EventType = "ERROR"
)

// AllEventTypes lists every known event type, in display order
var AllEventTypes = []EventType{
	TradeExecuted,
	PortfolioCreated,
	PortfolioDeleted,
	StopLossTriggered,
	TakeProfitTriggered,
	EvolutionStarted,
	GenerationCompleted,
	EvolutionStopped,
	EvolutionFailed,
	StrategyDeployed,
	BackupCompleted,
	ErrorOccurred,
}
