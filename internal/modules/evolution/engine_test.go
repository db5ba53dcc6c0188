package evolution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/evotrader/internal/domain"
	"github.com/aristath/evotrader/internal/events"
	"github.com/aristath/evotrader/internal/modules/portfolio"
	"github.com/aristath/evotrader/internal/modules/strategies"
	testingpkg "github.com/aristath/evotrader/internal/testing"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recordedEvents) handle(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) ofType(t events.EventType) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type failingStore struct {
	*MemoryStore
	mu    sync.Mutex
	saves int
}

func (s *failingStore) SaveGeneration(context.Context, GenerationStats, []*Genome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return errors.New("disk full")
}

type fakeDeployer struct {
	mu       sync.Mutex
	deployed []*Genome
	err      error
}

func (d *fakeDeployer) Redeploy(_ context.Context, g *Genome) (*portfolio.VirtualPortfolio, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.deployed = append(d.deployed, g)
	return portfolio.New(portfolio.Meta{ID: "live", Name: "live", InitialCapital: 1_000_000})
}

func testConfig() Config {
	return Config{
		Strategy:          "single",
		PopulationSize:    10,
		MutationRate:      0.2,
		CrossoverRate:     0.7,
		EliteRatio:        0.2,
		TournamentSize:    3,
		MaxGenerations:    1,
		Workers:           4,
		EvaluationTimeout: time.Second,
		PersistAttempts:   3,
		Seed:              42,
	}
}

func newTestEngine(t *testing.T, cfg Config, evaluator Evaluator, store Store, opts ...Option) (*Engine, *recordedEvents, *events.Bus) {
	t.Helper()
	log := zerolog.Nop()
	bus := events.NewBus(log)
	rec := &recordedEvents{}
	bus.SubscribeAll(rec.handle)

	opts = append([]Option{WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, opts...)
	engine, err := NewEngine(cfg, singleParamCatalog(), evaluator, store, nil, events.NewManager(bus, log), log, opts...)
	require.NoError(t, err)
	return engine, rec, bus
}

// generationSignal fires once per completed generation
func generationSignal(bus *events.Bus) <-chan struct{} {
	ch := make(chan struct{}, 100)
	bus.Subscribe(events.GenerationCompleted, func(*events.Event) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch
}

func TestNewEngine_Validation(t *testing.T) {
	log := zerolog.Nop()

	cfg := testConfig()
	cfg.Strategy = "missing"
	_, err := NewEngine(cfg, singleParamCatalog(), parameterFitness, NewMemoryStore(), nil, nil, log)
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	cfg = testConfig()
	cfg.PopulationSize = 0
	_, err = NewEngine(cfg, singleParamCatalog(), parameterFitness, NewMemoryStore(), nil, nil, log)
	assert.Error(t, err)
}

func TestEngine_SingleGenerationBestIsMaxSampled(t *testing.T) {
	store := NewMemoryStore()
	engine, rec, _ := newTestEngine(t, testConfig(), parameterFitness, store)

	require.NoError(t, engine.Run(context.Background()))

	ctx := context.Background()
	history, err := store.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	genomes, err := store.GenomesByGeneration(ctx, 0)
	require.NoError(t, err)
	require.Len(t, genomes, 10)

	maxX := 0.0
	for _, g := range genomes {
		require.True(t, g.IsScored())
		assert.Equal(t, g.Parameters["x"], g.FitnessValue())
		if g.Parameters["x"] > maxX {
			maxX = g.Parameters["x"]
		}
	}
	assert.Equal(t, maxX, history[0].BestFitness)
	assert.Equal(t, genomes[0].ID, history[0].BestGenomeID)

	status := engine.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.False(t, status.Running)
	require.NotNil(t, status.BestFitness)
	assert.Equal(t, maxX, *status.BestFitness)

	assert.Len(t, rec.ofType(events.EvolutionStarted), 1)
	assert.Len(t, rec.ofType(events.GenerationCompleted), 1)
	assert.Len(t, rec.ofType(events.EvolutionStopped), 1)
}

func TestEngine_MaxGenerations(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 5
	store := NewMemoryStore()
	engine, _, _ := newTestEngine(t, cfg, parameterFitness, store)

	require.NoError(t, engine.Run(context.Background()))

	history, err := store.History(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, st := range history {
		assert.Equal(t, i, st.Generation)
		assert.Equal(t, 10, st.PopulationSize)
		assert.GreaterOrEqual(t, st.BestFitness, st.AverageFitness)
		assert.GreaterOrEqual(t, st.AverageFitness, st.WorstFitness)
		if i > 0 {
			// Elites carry their score forward
			assert.GreaterOrEqual(t, st.BestFitness, history[i-1].BestFitness)
		}
	}

	for gen := 1; gen < 5; gen++ {
		genomes, err := store.GenomesByGeneration(context.Background(), gen)
		require.NoError(t, err)
		for _, g := range genomes {
			x := g.Parameters["x"]
			assert.True(t, x >= 0 && x <= 100, "x=%v out of range", x)
		}
	}
}

func TestEngine_DeterministicForSeed(t *testing.T) {
	run := func() []GenerationStats {
		cfg := testConfig()
		cfg.MaxGenerations = 3
		store := NewMemoryStore()
		engine, _, _ := newTestEngine(t, cfg, parameterFitness, store)
		require.NoError(t, engine.Run(context.Background()))
		history, err := store.History(context.Background(), 0)
		require.NoError(t, err)
		return history
	}

	a, b := run(), run()
	require.Len(t, a, 3)
	for i := range a {
		assert.Equal(t, a[i].BestFitness, b[i].BestFitness)
		assert.Equal(t, a[i].BestGenomeID, b[i].BestGenomeID)
	}
}

func TestEngine_ResumesFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, _, _ := newTestEngine(t, func() Config { c := testConfig(); c.MaxGenerations = 2; return c }(), parameterFitness, store)
	require.NoError(t, first.Run(ctx))

	prevGen1, err := store.GenomesByGeneration(ctx, 1)
	require.NoError(t, err)
	prevBest := prevGen1[0]

	cfg := testConfig()
	cfg.MaxGenerations = 4
	cfg.Seed = 7
	second, rec, _ := newTestEngine(t, cfg, parameterFitness, store)
	require.NoError(t, second.Run(ctx))

	history, err := store.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, 3, history[3].Generation)

	gen2, err := store.GenomesByGeneration(ctx, 2)
	require.NoError(t, err)
	var carried bool
	for _, g := range gen2 {
		if g.ID == prevBest.ID {
			carried = true
			assert.Equal(t, prevBest.FitnessValue(), g.FitnessValue())
		}
	}
	assert.True(t, carried, "best genome of generation 1 should survive into generation 2")

	started := rec.ofType(events.EvolutionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, true, started[0].Data["resumed"])
	assert.Equal(t, float64(2), started[0].Data["generation"])
}

func TestEngine_ResumeAfterMaxGenerationsIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cfg := testConfig()
	cfg.MaxGenerations = 2

	first, _, _ := newTestEngine(t, cfg, parameterFitness, store)
	require.NoError(t, first.Run(ctx))

	second, rec, _ := newTestEngine(t, cfg, parameterFitness, store)
	require.NoError(t, second.Run(ctx))

	history, err := store.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Empty(t, rec.ofType(events.GenerationCompleted))
	assert.Equal(t, StateStopped, second.Status().State)
	assert.Equal(t, 1, second.Status().Generation)
}

func TestEngine_ResumeWithDifferentStrategySeedsFresh(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	other := NewGenome("o1", 0, "other", singleParamSchema, strategies.Params{"x": 99}).Scored(Evaluation{Fitness: 99})
	require.NoError(t, store.SaveGeneration(ctx, Population{other}.Stats(0), []*Genome{other}))

	cfg := testConfig()
	cfg.MaxGenerations = 2
	engine, _, _ := newTestEngine(t, cfg, parameterFitness, store)
	require.NoError(t, engine.Run(ctx))

	gen1, err := store.GenomesByGeneration(ctx, 1)
	require.NoError(t, err)
	require.Len(t, gen1, 10)
	for _, g := range gen1 {
		assert.Equal(t, "single", g.Strategy)
		assert.Empty(t, g.ParentIDs)
	}
}

func TestEngine_PersistenceFailureHalts(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	engine, rec, _ := newTestEngine(t, testConfig(), parameterFitness, store)

	err := engine.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 3, store.saves)

	status := engine.Status()
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.LastError, "disk full")
	assert.False(t, status.Running)

	failed := rec.ofType(events.EvolutionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, float64(3), failed[0].Data["attempts"])
	assert.Empty(t, rec.ofType(events.GenerationCompleted))
}

func TestEngine_TimeoutAndPanicDegrade(t *testing.T) {
	slow := EvaluatorFunc(func(_ context.Context, g *Genome, _ map[string][]domain.Candle) Evaluation {
		if g.Parameters["x"] < 50 {
			panic("boom")
		}
		time.Sleep(300 * time.Millisecond)
		return Evaluation{Fitness: 1}
	})

	cfg := testConfig()
	cfg.PopulationSize = 6
	cfg.Workers = 6
	cfg.EvaluationTimeout = 20 * time.Millisecond
	store := NewMemoryStore()
	engine, _, _ := newTestEngine(t, cfg, slow, store)

	require.NoError(t, engine.Run(context.Background()))

	genomes, err := store.GenomesByGeneration(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, genomes, 6)
	for _, g := range genomes {
		assert.Equal(t, MinFitness, g.FitnessValue())
		require.NotNil(t, g.Metrics)
		assert.True(t, g.Metrics.Degraded)
		assert.Equal(t, 0, g.Metrics.TradeCount)
		if g.Parameters["x"] < 50 {
			assert.Contains(t, g.Metrics.Error, "panicked")
		} else {
			assert.Contains(t, g.Metrics.Error, ErrEvaluationTimeout.Error())
		}
	}
}

func TestEngine_TimedOutEvaluationsKeepWorkerSlots(t *testing.T) {
	var running, peak int32
	stubborn := EvaluatorFunc(func(context.Context, *Genome, map[string][]domain.Candle) Evaluation {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(300 * time.Millisecond)
		return Evaluation{Fitness: 1}
	})

	cfg := testConfig()
	cfg.PopulationSize = 12
	cfg.Workers = 2
	cfg.EvaluationTimeout = 20 * time.Millisecond
	store := NewMemoryStore()
	engine, _, _ := newTestEngine(t, cfg, stubborn, store)

	require.NoError(t, engine.Run(context.Background()))

	genomes, err := store.GenomesByGeneration(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, genomes, 12)
	for _, g := range genomes {
		require.NotNil(t, g.Metrics)
		assert.True(t, g.Metrics.Degraded)
		assert.Contains(t, g.Metrics.Error, ErrEvaluationTimeout.Error())
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(cfg.Workers))
}

func TestEngine_StopDuringWait(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 0
	cfg.Interval = time.Hour
	store := NewMemoryStore()
	engine, _, bus := newTestEngine(t, cfg, parameterFitness, store)
	completed := generationSignal(bus)

	done := make(chan error, 1)
	go func() { done <- engine.Run(context.Background()) }()

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("first generation did not complete")
	}

	assert.ErrorIs(t, engine.Run(context.Background()), ErrEngineRunning)
	assert.True(t, engine.Status().Running)

	engine.Stop()
	engine.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.Equal(t, StateStopped, engine.Status().State)
	history, err := store.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEngine_ContextCancelStops(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 0
	cfg.Interval = time.Hour
	engine, _, bus := newTestEngine(t, cfg, parameterFitness, NewMemoryStore())
	completed := generationSignal(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	<-completed
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine ignored cancellation")
	}
}

func TestEngine_AutoDeployOnlyOnRecord(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 6
	cfg.AutoDeploy = true
	store := NewMemoryStore()
	deployer := &fakeDeployer{}
	engine, _, _ := newTestEngine(t, cfg, parameterFitness, store, WithDeployer(deployer))

	require.NoError(t, engine.Run(context.Background()))

	history, err := store.History(context.Background(), 0)
	require.NoError(t, err)

	var expected []string
	var record *float64
	for _, st := range history {
		if record == nil || st.BestFitness > *record {
			f := st.BestFitness
			record = &f
			expected = append(expected, st.BestGenomeID)
		}
	}

	deployer.mu.Lock()
	defer deployer.mu.Unlock()
	require.Len(t, deployer.deployed, len(expected))
	for i, g := range deployer.deployed {
		assert.Equal(t, expected[i], g.ID)
	}
}

func TestEngine_AutoDeployFailureIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.AutoDeploy = true
	engine, rec, _ := newTestEngine(t, cfg, parameterFitness, NewMemoryStore(), WithDeployer(&fakeDeployer{err: errors.New("no portfolio")}))

	require.NoError(t, engine.Run(context.Background()))

	errs := rec.ofType(events.ErrorOccurred)
	require.Len(t, errs, 1)
	assert.Equal(t, "no portfolio", errs[0].Data["error"])
	assert.Equal(t, StateStopped, engine.Status().State)
}

func TestEngine_LoadsCandlesPerGeneration(t *testing.T) {
	prices := testingpkg.NewMockPriceSource()
	prices.SetCandles("A", testingpkg.TrendCandles(80, 100, 0.01))

	var mu sync.Mutex
	seen := map[string]int{}
	evaluator := EvaluatorFunc(func(_ context.Context, _ *Genome, candles map[string][]domain.Candle) Evaluation {
		mu.Lock()
		defer mu.Unlock()
		for sym, c := range candles {
			seen[sym] = len(c)
		}
		return Evaluation{Fitness: 1}
	})

	cfg := testConfig()
	cfg.Symbols = []string{"A"}
	cfg.CandleInterval = "1d"
	cfg.CandleCount = 50

	log := zerolog.Nop()
	engine, err := NewEngine(cfg, singleParamCatalog(), evaluator, NewMemoryStore(), prices, nil, log)
	require.NoError(t, err)
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, map[string]int{"A": 50}, seen)
	assert.Equal(t, 1, prices.Calls())
}
