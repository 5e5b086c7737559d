package index

import (
	"cmp"
	"encoding"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/vecmem/model"
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("index: k must be positive")

// ErrDimensionMismatch is a named error type for dimension mismatch
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Result is a single search hit.
type Result struct {
	ID    model.NodeID
	Score float32 // Cosine similarity
}

// Index is the ANN collaborator contract.
type Index interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler

	// Insert adds or replaces the vector for id.
	Insert(id model.NodeID, vector []float32) error

	// Remove unindexes id. It reports whether id was present.
	Remove(id model.NodeID) bool

	// Search returns up to k results ordered by descending score.
	Search(query []float32, k int) ([]Result, error)

	// Contains reports whether id is indexed.
	Contains(id model.NodeID) bool

	// Len returns the number of indexed vectors.
	Len() int

	// Dimension returns the configured vector dimension.
	Dimension() int
}

// Factory creates an empty index for the given dimension.
type Factory func(dimension int) Index

// SortResults orders results by descending score, breaking ties by id.
func SortResults(results []Result) {
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
}

// Merge combines result lists, keeping the best score per id, and returns
// the top k by descending score.
func Merge(k int, lists ...[]Result) []Result {
	best := make(map[model.NodeID]float32)
	for _, list := range lists {
		for _, r := range list {
			if s, ok := best[r.ID]; !ok || r.Score > s {
				best[r.ID] = r.Score
			}
		}
	}

	merged := make([]Result, 0, len(best))
	for id, score := range best {
		merged = append(merged, Result{ID: id, Score: score})
	}
	SortResults(merged)
	if k >= 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}
