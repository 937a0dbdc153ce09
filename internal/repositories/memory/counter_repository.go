package memory

import (
	"context"
	"sync"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

// CounterRepository keeps sequences in process memory. Values restart with the process.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id, step, err := repositories.CounterRequest(counterID, step)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[id] += step
	return r.values[id], nil
}
