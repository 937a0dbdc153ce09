package repositories

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCounter rejects an empty counter id or a negative step.
	ErrInvalidCounter = errors.New("repositories: invalid counter request")
	// ErrCorruptCounter means a stored counter could not be decoded. Nothing was incremented.
	ErrCorruptCounter = errors.New("repositories: counter document unreadable")
)

// CounterRequest validates Next arguments for every CounterRepository. A zero step means 1.
func CounterRequest(counterID string, step int64) (string, int64, error) {
	id := strings.TrimSpace(counterID)
	switch {
	case id == "":
		return "", 0, fmt.Errorf("%w: counter id is required", ErrInvalidCounter)
	case strings.Contains(id, "/"):
		return "", 0, fmt.Errorf("%w: counter id %q contains '/'", ErrInvalidCounter, id)
	case step < 0:
		return "", 0, fmt.Errorf("%w: step must not be negative, got %d", ErrInvalidCounter, step)
	case step == 0:
		step = 1
	}
	return id, step, nil
}
