package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TradeExecutedData contains data for TradeExecuted events
type TradeExecutedData struct {
	PortfolioID    string   `json:"portfolio_id"`
	TradeID        string   `json:"trade_id"`
	Symbol         string   `json:"symbol"`
	Side           string   `json:"side"`
	Quantity       float64  `json:"quantity"`
	Price          float64  `json:"price"`
	Fee            float64  `json:"fee"`
	Reason         string   `json:"reason"`
	RealizedProfit *float64 `json:"realized_profit,omitempty"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType {
	return TradeExecuted
}

// RiskExitData contains data for stop-loss and take-profit exits.
// The same payload is used for both; Reason selects the event type.
type RiskExitData struct {
	PortfolioID    string  `json:"portfolio_id"`
	Symbol         string  `json:"symbol"`
	Reason         string  `json:"reason"`
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price"`
	TriggerPrice   float64 `json:"trigger_price"`
	RealizedProfit float64 `json:"realized_profit"`
}

// EventType returns the event type for RiskExitData
func (d *RiskExitData) EventType() EventType {
	if d.Reason == "take_profit" {
		return TakeProfitTriggered
	}
	return StopLossTriggered
}

// PortfolioLifecycleData contains data for PortfolioCreated and PortfolioDeleted events
type PortfolioLifecycleData struct {
	PortfolioID    string  `json:"portfolio_id"`
	Name           string  `json:"name"`
	InitialCapital float64 `json:"initial_capital"`
	Deleted        bool    `json:"deleted,omitempty"`
}

// EventType returns the event type for PortfolioLifecycleData
func (d *PortfolioLifecycleData) EventType() EventType {
	if d.Deleted {
		return PortfolioDeleted
	}
	return PortfolioCreated
}

// StrategyDeployedData contains data for StrategyDeployed events
type StrategyDeployedData struct {
	PortfolioID string             `json:"portfolio_id"`
	GenomeID    string             `json:"genome_id"`
	Generation  int                `json:"generation"`
	Strategy    string             `json:"strategy"`
	Fitness     *float64           `json:"fitness,omitempty"`
	Parameters  map[string]float64 `json:"parameters"`
	Created     bool               `json:"created"`
}

// EventType returns the event type for StrategyDeployedData
func (d *StrategyDeployedData) EventType() EventType {
	return StrategyDeployed
}

// GenerationCompletedData contains data for GenerationCompleted events
type GenerationCompletedData struct {
	Generation     int     `json:"generation"`
	BestFitness    float64 `json:"best_fitness"`
	AverageFitness float64 `json:"average_fitness"`
	WorstFitness   float64 `json:"worst_fitness"`
	PopulationSize int     `json:"population_size"`
	BestGenomeID   string  `json:"best_genome_id"`
	DurationMs     int64   `json:"duration_ms"`
}

// EventType returns the event type for GenerationCompletedData
func (d *GenerationCompletedData) EventType() EventType {
	return GenerationCompleted
}

// EvolutionStatusData contains data for EvolutionStarted and EvolutionStopped events
type EvolutionStatusData struct {
	Generation int    `json:"generation"`
	Strategy   string `json:"strategy"`
	Resumed    bool   `json:"resumed,omitempty"`
	Stopped    bool   `json:"stopped,omitempty"`
}

// EventType returns the event type for EvolutionStatusData
func (d *EvolutionStatusData) EventType() EventType {
	if d.Stopped {
		return EvolutionStopped
	}
	return EvolutionStarted
}

// EvolutionFailedData contains data for EvolutionFailed events
type EvolutionFailedData struct {
	Generation int    `json:"generation"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts"`
}

// EventType returns the event type for EvolutionFailedData
func (d *EvolutionFailedData) EventType() EventType {
	return EvolutionFailed
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string   `json:"key"`
	SizeBytes int64    `json:"size_bytes"`
	Databases []string `json:"databases"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for Error events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
