package vecmem

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Close releases every tier and the WAL. Pending cold changes are saved.
// It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	if s.cold != nil && s.cold.Dirty() {
		if err := s.cold.Save(context.Background()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.closeAll(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (s *Store) closeAll() error {
	var result *multierror.Error
	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("wal: %w", err))
		}
	}
	if s.warm != nil {
		if err := s.warm.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("warm: %w", err))
		}
	}
	if s.owner != nil {
		_ = s.owner.Unlock()
		if err := s.owner.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("owner lock: %w", err))
		}
	}
	return result.ErrorOrNil()
}
