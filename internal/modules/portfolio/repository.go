package portfolio

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/evotrader/internal/database"
	"github.com/rs/zerolog"
)

// StoredPortfolio is a portfolio row: identity plus active strategy
type StoredPortfolio struct {
	Meta
	Strategy *StrategyConfig
}

// Repository persists portfolios and their trade ledger in portfolio.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new portfolio repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

const tradeColumns = `id, portfolio_id, symbol, side, quantity, price, fee, realized_profit, reason,
	stop_loss_pct, take_profit_pct, executed_at`

// CreatePortfolio inserts a new portfolio row
func (r *Repository) CreatePortfolio(meta Meta, strategy *StrategyConfig) error {
	name, cfg, err := encodeStrategy(strategy)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	_, err = r.db.Exec(`
		INSERT INTO portfolios (id, name, initial_capital, fee_rate, strategy_name, strategy_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Name, meta.InitialCapital, meta.FeeRate, name, cfg, meta.CreatedAt.Unix(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to create portfolio %s: %w", meta.ID, err)
	}

	r.log.Info().Str("portfolio_id", meta.ID).Str("name", meta.Name).Msg("Portfolio created")
	return nil
}

// UpdateStrategy replaces the active strategy of a portfolio
func (r *Repository) UpdateStrategy(id string, strategy *StrategyConfig) error {
	name, cfg, err := encodeStrategy(strategy)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(
		`UPDATE portfolios SET strategy_name = ?, strategy_config = ?, updated_at = ? WHERE id = ?`,
		name, cfg, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update strategy for %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
	}
	return nil
}

// GetPortfolio loads one portfolio row
func (r *Repository) GetPortfolio(id string) (*StoredPortfolio, error) {
	row := r.db.QueryRow(`
		SELECT id, name, initial_capital, fee_rate, strategy_config, created_at
		FROM portfolios WHERE id = ?`, id)

	sp, err := scanPortfolio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio %s: %w", id, err)
	}
	return sp, nil
}

// ListPortfolios returns all portfolios, oldest first
func (r *Repository) ListPortfolios() ([]StoredPortfolio, error) {
	rows, err := r.db.Query(`
		SELECT id, name, initial_capital, fee_rate, strategy_config, created_at
		FROM portfolios ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var out []StoredPortfolio
	for rows.Next() {
		sp, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		out = append(out, *sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return out, nil
}

// RecordTrade appends a trade to the ledger
func (r *Repository) RecordTrade(t Trade) error {
	_, err := r.db.Exec(`INSERT INTO trades (`+tradeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PortfolioID, t.Symbol, string(t.Side), t.Quantity, t.Price, t.Fee,
		nullFloat64Ptr(t.RealizedProfit), string(t.Reason),
		nullFloat64Ptr(t.StopLossPct), nullFloat64Ptr(t.TakeProfitPct),
		t.ExecutedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record trade %s: %w", t.ID, err)
	}
	return nil
}

// TradesByPortfolio returns a portfolio's ledger in execution order
func (r *Repository) TradesByPortfolio(id string) ([]Trade, error) {
	rows, err := r.db.Query(`SELECT `+tradeColumns+` FROM trades WHERE portfolio_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades for %s: %w", id, err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t                      Trade
			side, reason           string
			realized, stopL, takeP sql.NullFloat64
			executedAt             int64
		)
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.Fee,
			&realized, &reason, &stopL, &takeP, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = Side(side)
		t.Reason = Reason(reason)
		t.RealizedProfit = float64Ptr(realized)
		t.StopLossPct = float64Ptr(stopL)
		t.TakeProfitPct = float64Ptr(takeP)
		t.ExecutedAt = time.UnixMilli(executedAt)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// DeletePortfolio removes a portfolio together with its ledger and deployments
func (r *Repository) DeletePortfolio(id string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM deployments WHERE portfolio_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete deployments: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM trades WHERE portfolio_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete trades: %w", err)
		}
		result, err := tx.Exec(`DELETE FROM portfolios WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete portfolio: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrPortfolioNotFound, id)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(s scanner) (*StoredPortfolio, error) {
	var (
		sp        StoredPortfolio
		cfg       sql.NullString
		createdAt int64
	)
	if err := s.Scan(&sp.ID, &sp.Name, &sp.InitialCapital, &sp.FeeRate, &cfg, &createdAt); err != nil {
		return nil, err
	}
	sp.CreatedAt = time.Unix(createdAt, 0)

	if cfg.Valid && cfg.String != "" {
		var strategy StrategyConfig
		if err := json.Unmarshal([]byte(cfg.String), &strategy); err != nil {
			return nil, fmt.Errorf("failed to decode strategy config for %s: %w", sp.ID, err)
		}
		sp.Strategy = &strategy
	}
	return &sp, nil
}

func encodeStrategy(strategy *StrategyConfig) (string, sql.NullString, error) {
	if strategy == nil {
		return "", sql.NullString{}, nil
	}
	data, err := json.Marshal(strategy)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("failed to encode strategy config: %w", err)
	}
	return strategy.Strategy, sql.NullString{String: string(data), Valid: true}, nil
}

func nullFloat64Ptr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
