package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/firestore"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository keeps one document per sequence in the counters collection and increments it
// inside a transaction, so concurrent callers never receive the same value.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository: firestore provider is required")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next creates the counter at step when it does not exist yet.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, step, err := repositories.CounterRequest(counterID, step)
	if err != nil {
		return 0, err
	}
	ref, err := r.counters.Ref(ctx, id)
	if err != nil {
		return 0, err
	}

	var value int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := r.read(tx, ref)
		if err != nil {
			return err
		}
		value = current + step
		return tx.Set(ref, counterDocument{Value: value, UpdatedAt: r.now().UTC()})
	})
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, repositories.ErrCorruptCounter):
		return 0, err
	default:
		return 0, pfirestore.WrapError("counters.next", err)
	}
}

func (r *CounterRepository) read(tx *firestore.Transaction, ref *firestore.DocumentRef) (int64, error) {
	snap, err := tx.Get(ref)
	if snap != nil && !snap.Exists() {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	decoded, err := r.counters.Decode(snap)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", repositories.ErrCorruptCounter, ref.ID, err)
	}
	return decoded.Data.Value, nil
}
