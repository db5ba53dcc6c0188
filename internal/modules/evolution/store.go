package evolution

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists generations. SaveGeneration is atomic: either the stats
// row and every genome are stored, or nothing is.
type Store interface {
	SaveGeneration(ctx context.Context, stats GenerationStats, genomes []*Genome) error
	// LatestStats returns nil when nothing has been stored yet
	LatestStats(ctx context.Context) (*GenerationStats, error)
	// History returns stats oldest first; limit <= 0 returns everything
	History(ctx context.Context, limit int) ([]GenerationStats, error)
	// BestGenome returns the highest-fitness genome ever stored, nil when empty
	BestGenome(ctx context.Context) (*Genome, error)
	GenomesByGeneration(ctx context.Context, generation int) ([]*Genome, error)
	GetGenome(ctx context.Context, id string, generation int) (*Genome, error)
	// BestFitnessEver returns nil when nothing has been stored yet
	BestFitnessEver(ctx context.Context) (*float64, error)
}

type genomeKey struct {
	id         string
	generation int
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	stats   map[int]GenerationStats
	genomes map[genomeKey]*Genome
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stats:   make(map[int]GenerationStats),
		genomes: make(map[genomeKey]*Genome),
	}
}

// SaveGeneration stores stats and genomes, replacing an earlier write of
// the same generation
func (s *MemoryStore) SaveGeneration(_ context.Context, stats GenerationStats, genomes []*Genome) error {
	for _, g := range genomes {
		if g.Generation != stats.Generation {
			return fmt.Errorf("genome %s belongs to generation %d, not %d", g.ID, g.Generation, stats.Generation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats[stats.Generation] = stats
	for _, g := range genomes {
		s.genomes[genomeKey{g.ID, g.Generation}] = g.clone()
	}
	return nil
}

// LatestStats returns the highest generation's stats
func (s *MemoryStore) LatestStats(_ context.Context) (*GenerationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *GenerationStats
	for _, st := range s.stats {
		st := st
		if latest == nil || st.Generation > latest.Generation {
			latest = &st
		}
	}
	return latest, nil
}

// History returns the most recent limit generations, oldest first
func (s *MemoryStore) History(_ context.Context, limit int) ([]GenerationStats, error) {
	s.mu.RLock()
	out := make([]GenerationStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, st)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Generation < out[j].Generation })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// BestGenome returns the fittest stored genome; ties go to the earliest generation
func (s *MemoryStore) BestGenome(_ context.Context) (*Genome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Genome
	for _, g := range s.genomes {
		if !g.IsScored() {
			continue
		}
		if best == nil || g.FitnessValue() > best.FitnessValue() ||
			(g.FitnessValue() == best.FitnessValue() && (g.Generation < best.Generation ||
				(g.Generation == best.Generation && g.ID < best.ID))) {
			best = g
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.clone(), nil
}

// GenomesByGeneration returns a generation's genomes, fittest first
func (s *MemoryStore) GenomesByGeneration(_ context.Context, generation int) ([]*Genome, error) {
	s.mu.RLock()
	var out Population
	for k, g := range s.genomes {
		if k.generation == generation {
			out = append(out, g.clone())
		}
	}
	s.mu.RUnlock()
	return out.Sorted(), nil
}

// GetGenome returns one genome
func (s *MemoryStore) GetGenome(_ context.Context, id string, generation int) (*Genome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.genomes[genomeKey{id, generation}]
	if !ok {
		return nil, fmt.Errorf("%w: %s (generation %d)", ErrGenomeNotFound, id, generation)
	}
	return g.clone(), nil
}

// BestFitnessEver returns the highest best_fitness across generations
func (s *MemoryStore) BestFitnessEver(_ context.Context) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *float64
	for _, st := range s.stats {
		if best == nil || st.BestFitness > *best {
			v := st.BestFitness
			best = &v
		}
	}
	return best, nil
}
