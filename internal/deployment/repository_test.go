package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/evotrader/internal/modules/portfolio"
	testingpkg "github.com/aristath/evotrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepository(t *testing.T, portfolioIDs ...string) *Repository {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "portfolio")
	t.Cleanup(cleanup)

	portfolios := portfolio.NewRepository(db.Conn(), zerolog.Nop())
	for _, id := range portfolioIDs {
		require.NoError(t, portfolios.CreatePortfolio(portfolio.Meta{
			ID: id, Name: id, InitialCapital: 1_000_000, CreatedAt: time.Now(),
		}, nil))
	}
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestRepository_RecordAndQuery(t *testing.T) {
	repo := setupRepository(t, "p1", "p2")
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	fitness := 3.5

	latest, err := repo.LatestAuto(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, repo.Record(ctx, Deployment{GenomeID: "g1", Generation: 0, PortfolioID: "p1", Strategy: "momentum", Auto: true, DeployedAt: base}))
	require.NoError(t, repo.Record(ctx, Deployment{GenomeID: "g1", Generation: 0, PortfolioID: "p2", Strategy: "momentum", DeployedAt: base.Add(time.Second)}))
	require.NoError(t, repo.Record(ctx, Deployment{GenomeID: "g2", Generation: 1, PortfolioID: "p1", Strategy: "momentum", Fitness: &fitness, Auto: true, DeployedAt: base.Add(2 * time.Second)}))

	byGenome, err := repo.ByGenome(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, byGenome, 2)
	assert.Equal(t, "p2", byGenome[0].PortfolioID)
	assert.Equal(t, "p1", byGenome[1].PortfolioID)
	assert.Nil(t, byGenome[0].Fitness)

	latest, err = repo.LatestAuto(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "g2", latest.GenomeID)
	assert.Equal(t, 1, latest.Generation)
	require.NotNil(t, latest.Fitness)
	assert.Equal(t, 3.5, *latest.Fitness)
	assert.Equal(t, base.Add(2*time.Second).UnixMilli(), latest.DeployedAt.UnixMilli())

	// Re-recording the same pair refreshes it
	require.NoError(t, repo.Record(ctx, Deployment{GenomeID: "g1", Generation: 0, PortfolioID: "p1", Strategy: "momentum", Auto: true, DeployedAt: base.Add(3 * time.Second)}))
	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "g1", all[0].GenomeID)
	assert.Equal(t, "p1", all[0].PortfolioID)
}

func TestRepository_UnknownPortfolioRejected(t *testing.T) {
	repo := setupRepository(t)

	err := repo.Record(context.Background(), Deployment{GenomeID: "g1", PortfolioID: "ghost", Strategy: "momentum", DeployedAt: time.Now()})
	assert.Error(t, err)
}

func TestMemoryStore_NewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Now()

	require.NoError(t, store.Record(ctx, Deployment{GenomeID: "g1", PortfolioID: "p1", Auto: true, DeployedAt: at}))
	require.NoError(t, store.Record(ctx, Deployment{GenomeID: "g2", PortfolioID: "p2", Auto: true, DeployedAt: at}))
	require.NoError(t, store.Record(ctx, Deployment{GenomeID: "g3", PortfolioID: "p3", DeployedAt: at.Add(time.Second)}))

	latest, err := store.LatestAuto(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "g2", latest.GenomeID)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g3", all[0].GenomeID)
}
