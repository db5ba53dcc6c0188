package evolution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/strategies"
	"github.com/aristath/evotrader/pkg/formulas"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Defaults for the backtester
const (
	DefaultMinBars = 30
	DefaultCapital = 10_000_000
)

// Backtester replays candles through a genome's strategy on a simulated
// single-symbol portfolio per symbol
type Backtester struct {
	catalog *strategies.Catalog
	capital float64
	minBars int
	log     zerolog.Logger
}

// NewBacktester creates a backtester. Non-positive capital or minBars use
// the defaults.
func NewBacktester(catalog *strategies.Catalog, capital float64, minBars int, log zerolog.Logger) *Backtester {
	if capital <= 0 {
		capital = DefaultCapital
	}
	if minBars <= 0 {
		minBars = DefaultMinBars
	}
	return &Backtester{
		catalog: catalog,
		capital: capital,
		minBars: minBars,
		log:     log.With().Str("service", "backtester").Logger(),
	}
}

type symbolResult struct {
	returnRate  float64
	closed      int
	wins        int
	maxDrawdown float64
}

// Evaluate implements Evaluator. Symbols without enough history are skipped;
// when none remain the evaluation is degraded with MinFitness.
func (b *Backtester) Evaluate(ctx context.Context, genome *Genome, candles map[string][]domain.Candle) Evaluation {
	strategy, err := b.catalog.Get(genome.Strategy)
	if err != nil {
		return DegradedEvaluation(fmt.Sprintf("%v: %s", ErrUnknownStrategy, genome.Strategy))
	}

	symbols := make([]string, 0, len(candles))
	for sym := range candles {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var results []symbolResult
	for _, sym := range symbols {
		// Symbols are the unit of work; a replay in progress is never cut short
		if ctx.Err() != nil {
			break
		}
		res, err := b.backtestSymbol(strategy, genome.Parameters, sym, candles[sym])
		if err != nil {
			b.log.Debug().Err(err).Str("genome_id", genome.ID).Str("symbol", sym).Msg("Symbol skipped")
			continue
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		return DegradedEvaluation(ErrDataUnavailable.Error())
	}

	m := Metrics{SymbolsEvaluated: len(results)}
	returns := make([]float64, len(results))
	wins := 0
	for i, r := range results {
		returns[i] = r.returnRate
		m.TradeCount += r.closed
		wins += r.wins
		m.MaxDrawdown = math.Max(m.MaxDrawdown, r.maxDrawdown)
	}
	m.ReturnRate = stat.Mean(returns, nil)
	if m.TradeCount > 0 {
		m.WinRate = float64(wins) / float64(m.TradeCount)
	}

	return Evaluation{Fitness: Fitness(m), Metrics: m}
}

func (b *Backtester) backtestSymbol(strategy strategies.Strategy, params strategies.Params, symbol string, candles []domain.Candle) (symbolResult, error) {
	if len(candles) < b.minBars {
		return symbolResult{}, fmt.Errorf("%w: %s has %d bars, need %d", ErrDataUnavailable, symbol, len(candles), b.minBars)
	}

	seq := 0
	vp, err := portfolio.New(
		portfolio.Meta{ID: "backtest", Name: symbol, InitialCapital: b.capital},
		portfolio.WithIDGenerator(func() string { seq++; return strconv.Itoa(seq) }),
	)
	if err != nil {
		return symbolResult{}, err
	}

	stopLoss, takeProfit := params.RiskPcts()
	ratio := params.PositionSizeRatio()
	snapshot := strategies.NewSnapshot(symbol, candles)
	equity := make([]float64, 0, len(candles)+1)
	equity = append(equity, b.capital)
	lastPrice := 0.0

	for i, bar := range candles {
		price := bar.Close
		if !(price > 0) {
			continue
		}
		lastPrice = price
		marks := map[string]float64{symbol: price}

		// Risk exits take priority over the strategy on the same bar
		exit, _, err := vp.EvaluateRisk(symbol, price, bar.Date)
		if err != nil {
			return symbolResult{}, err
		}
		if exit != nil {
			equity = append(equity, vp.MarketValue(marks))
			continue
		}

		pos, held := vp.Position(symbol)
		signal := strategy.Decide(snapshot.At(i), strategies.PositionState{Quantity: pos.Quantity, AvgCost: pos.AvgCost}, params)

		switch {
		case signal == domain.SignalBuy && !held:
			qty := math.Floor(vp.Cash() * ratio / price)
			if qty >= 1 {
				_, err = vp.Execute(portfolio.Order{
					Symbol:        symbol,
					Side:          portfolio.SideBuy,
					Quantity:      qty,
					Price:         price,
					Reason:        portfolio.ReasonSignal,
					StopLossPct:   stopLoss,
					TakeProfitPct: takeProfit,
					At:            bar.Date,
				})
			}
		case signal == domain.SignalSell && held:
			_, err = vp.Execute(portfolio.Order{
				Symbol:   symbol,
				Side:     portfolio.SideSell,
				Quantity: pos.Quantity,
				Price:    price,
				Reason:   portfolio.ReasonSignal,
				At:       bar.Date,
			})
		}
		if err != nil && !portfolio.IsOrderRejection(err) {
			return symbolResult{}, err
		}

		equity = append(equity, vp.MarketValue(marks))
	}

	if lastPrice == 0 {
		return symbolResult{}, fmt.Errorf("%w: %s has no valid prices", ErrDataUnavailable, symbol)
	}

	res := symbolResult{
		returnRate:  vp.MarketValue(map[string]float64{symbol: lastPrice})/b.capital - 1,
		maxDrawdown: formulas.MaxDrawdown(equity),
	}
	for _, t := range vp.Trades() {
		if t.Side != portfolio.SideSell {
			continue
		}
		res.closed++
		if t.RealizedProfit != nil && *t.RealizedProfit > 0 {
			res.wins++
		}
	}
	return res, nil
}
