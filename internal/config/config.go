// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/evotrader/internal/utils"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Pretty   bool
	Port     int
	DevMode  bool

	Evolution  EvolutionConfig
	Simulation SimulationConfig
	Storage    StorageConfig
	Backup     BackupConfig

	PriceSourceURL string // Live quote/candle API; ignored in simulation mode
}

// EvolutionConfig holds the genetic algorithm knobs
type EvolutionConfig struct {
	PopulationSize    int
	MutationRate      float64
	CrossoverRate     float64
	EliteRatio        float64
	TournamentSize    int
	Interval          time.Duration // Delay between generations
	MaxGenerations    int           // 0 = unbounded
	Strategy          string        // Catalog entry whose parameters are evolved
	Workers           int
	EvaluationTimeout time.Duration
	AutoDeploy        bool
	Symbols           []string
	CandleInterval    string
	CandleCount       int
	MinBars           int
	BacktestCapital   float64
	Seed              int64 // 0 seeds from the clock; also seeds synthetic prices
}

// SimulationConfig holds virtual trading settings
type SimulationConfig struct {
	Enabled             bool // Synthetic prices instead of the live price feed
	InitialCapital      float64
	FeeRate             float64
	RiskCheckInterval   time.Duration
	LiveTradingInterval time.Duration
	PriceTimeout        time.Duration
}

// StorageConfig selects persistence backends
type StorageConfig struct {
	EvolutionStore string // "sqlite" or "postgres"
	PostgresDSN    string
	ClickHouseDSN  string // Optional historical candle warehouse
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string
	RetentionDays   int // Archives older than this are rotated out; 0 keeps all
}

// Enabled reports whether cloud backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("TRADER_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:        absDataDir,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Pretty:         getEnvAsBool("LOG_PRETTY", true),
		Port:           getEnvAsInt("GO_PORT", 8001),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		PriceSourceURL: getEnv("PRICE_SOURCE_URL", ""),
		Evolution: EvolutionConfig{
			PopulationSize:    getEnvAsInt("POPULATION_SIZE", 20),
			MutationRate:      getEnvAsFloat("MUTATION_RATE", 0.1),
			CrossoverRate:     getEnvAsFloat("CROSSOVER_RATE", 0.8),
			EliteRatio:        getEnvAsFloat("ELITE_RATIO", 0.2),
			TournamentSize:    getEnvAsInt("TOURNAMENT_SIZE", 3),
			Interval:          getEnvAsDuration("GENERATION_INTERVAL", 60*time.Second),
			MaxGenerations:    getEnvAsInt("MAX_GENERATIONS", 0),
			Strategy:          getEnv("EVOLUTION_STRATEGY", "indicator_threshold"),
			Workers:           getEnvAsInt("EVALUATION_WORKERS", 4),
			EvaluationTimeout: getEnvAsDuration("EVALUATION_TIMEOUT", 30*time.Second),
			AutoDeploy:        getEnvAsBool("AUTO_DEPLOY", false),
			Symbols:           getEnvAsSymbols("TARGET_SYMBOLS", []string{"005930", "000660", "035420"}),
			CandleInterval:    getEnv("CANDLE_INTERVAL", "1d"),
			CandleCount:       getEnvAsInt("CANDLE_COUNT", 250),
			MinBars:           getEnvAsInt("MIN_BARS", 30),
			BacktestCapital:   getEnvAsFloat("BACKTEST_CAPITAL", 10_000_000),
			Seed:              int64(getEnvAsInt("EVOLUTION_SEED", 0)),
		},
		Simulation: SimulationConfig{
			Enabled:             getEnvAsBool("SIMULATION_MODE", true),
			InitialCapital:      getEnvAsFloat("INITIAL_CAPITAL", 10_000_000),
			FeeRate:             getEnvAsFloat("FEE_RATE", 0),
			RiskCheckInterval:   getEnvAsDuration("RISK_CHECK_INTERVAL", 5*time.Second),
			LiveTradingInterval: getEnvAsDuration("LIVE_TRADING_INTERVAL", 60*time.Second),
			PriceTimeout:        getEnvAsDuration("PRICE_TIMEOUT", 5*time.Second),
		},
		Storage: StorageConfig{
			EvolutionStore: getEnv("EVOLUTION_STORE", "sqlite"),
			PostgresDSN:    getEnv("POSTGRES_DSN", ""),
			ClickHouseDSN:  getEnv("CLICKHOUSE_DSN", ""),
		},
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "@daily"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	e := c.Evolution
	if e.PopulationSize < 2 {
		return fmt.Errorf("POPULATION_SIZE must be at least 2, got %d", e.PopulationSize)
	}
	if e.MutationRate < 0 || e.MutationRate > 1 {
		return fmt.Errorf("MUTATION_RATE must be within [0,1], got %v", e.MutationRate)
	}
	if e.CrossoverRate < 0 || e.CrossoverRate > 1 {
		return fmt.Errorf("CROSSOVER_RATE must be within [0,1], got %v", e.CrossoverRate)
	}
	if e.EliteRatio < 0 || e.EliteRatio >= 1 {
		return fmt.Errorf("ELITE_RATIO must be within [0,1), got %v", e.EliteRatio)
	}
	if e.MaxGenerations < 0 {
		return fmt.Errorf("MAX_GENERATIONS must not be negative")
	}
	if e.Workers < 1 {
		return fmt.Errorf("EVALUATION_WORKERS must be at least 1")
	}
	if len(e.Symbols) == 0 {
		return fmt.Errorf("TARGET_SYMBOLS must name at least one symbol")
	}
	if c.Simulation.InitialCapital <= 0 {
		return fmt.Errorf("INITIAL_CAPITAL must be positive")
	}
	if c.Simulation.FeeRate < 0 {
		return fmt.Errorf("FEE_RATE must not be negative")
	}
	switch c.Storage.EvolutionStore {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when EVOLUTION_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown EVOLUTION_STORE %q", c.Storage.EvolutionStore)
	}
	if !c.Simulation.Enabled && c.PriceSourceURL == "" && c.Storage.ClickHouseDSN == "" {
		return fmt.Errorf("PRICE_SOURCE_URL or CLICKHOUSE_DSN is required when SIMULATION_MODE=false")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvAsSymbols(key string, defaultValue []string) []string {
	if symbols := utils.ParseSymbols(os.Getenv(key)); len(symbols) > 0 {
		return symbols
	}
	return defaultValue
}
