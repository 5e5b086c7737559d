package vecmem

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecmem/index"
	"github.com/hupe1980/vecmem/tier/warm"
)

var (
	// ErrNotFound is returned when a node is in no tier, or only in the cold
	// tier and no Reembedder is configured.
	ErrNotFound = errors.New("vecmem: node not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("vecmem: store closed")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("vecmem: k must be positive")

	// ErrInvalidNode is returned for a nil node or one with a zero id.
	ErrInvalidNode = errors.New("vecmem: invalid node")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vecmem: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("vecmem: invalid dimension: %d", e.Dimension)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, warm.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	return err
}
