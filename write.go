package vecmem

import (
	"fmt"
	"time"

	"github.com/hupe1980/vecmem/model"
	"github.com/hupe1980/vecmem/wal"
)

// Insert stores n in the hot tier, replacing any node with the same id in
// any tier. The WAL append happens first; what a failed append means is
// decided by the DurabilityPolicy. Zero timestamps are set to now. The store
// keeps its own copy of n.
func (s *Store) Insert(n *model.Node) error {
	start := time.Now()
	err := s.insert(n)
	s.metrics.RecordInsert(time.Since(start), err)
	if n != nil {
		s.logger.LogInsert(n.ID, len(n.Vector), err)
	}
	return err
}

func (s *Store) insert(n *model.Node) error {
	if n == nil || n.ID.IsZero() {
		return ErrInvalidNode
	}
	if len(n.Vector) != s.dimension {
		return &ErrDimensionMismatch{Expected: s.dimension, Actual: len(n.Vector)}
	}

	node := n.Clone()
	now := s.nowMillis()
	if node.CreatedAt == 0 {
		node.CreatedAt = now
	}
	if node.AccessedAt == 0 {
		node.AccessedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	op := wal.OpInsert
	if s.containsLocked(node.ID) {
		op = wal.OpUpdate
	}
	if err := s.appendLocked(wal.Entry{Op: op, ID: node.ID, Node: node}); err != nil {
		return err
	}

	if err := s.hot.Insert(node); err != nil {
		return translateError(err)
	}
	s.dropColderLocked(node.ID)
	return nil
}

// Remove deletes id from every tier.
func (s *Store) Remove(id model.NodeID) error {
	start := time.Now()
	err := s.remove(id)
	s.metrics.RecordDelete(time.Since(start), err)
	s.logger.LogDelete(id, err)
	return err
}

func (s *Store) remove(id model.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.containsLocked(id) {
		return ErrNotFound
	}
	if err := s.appendLocked(wal.Entry{Op: wal.OpDelete, ID: id}); err != nil {
		return err
	}
	s.removeLocked(id)
	return nil
}

// Touch sets the access time of id to now.
func (s *Store) Touch(id model.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.containsLocked(id) {
		return ErrNotFound
	}
	ts := s.nowMillis()
	if err := s.touchAppendLocked(id, ts); err != nil {
		return err
	}
	s.touchLocked(id, ts)
	return nil
}

// UpdateConfidence replaces the confidence state of id. A zero UpdatedAt is
// set to now.
func (s *Store) UpdateConfidence(id model.NodeID, c model.Confidence) error {
	if c.UpdatedAt == 0 {
		c.UpdatedAt = s.nowMillis()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.containsLocked(id) {
		return ErrNotFound
	}
	if err := s.appendLocked(wal.Entry{Op: wal.OpUpdate, Format: wal.FormatConfidence, ID: id, Confidence: c}); err != nil {
		return err
	}
	s.setConfidenceLocked(id, c)
	return nil
}

// AddEdge adds e to the edges of from, or updates the weight of an existing
// edge with the same target and type.
func (s *Store) AddEdge(from model.NodeID, e model.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.containsLocked(from) {
		return ErrNotFound
	}
	if err := s.appendLocked(wal.Entry{Op: wal.OpUpdate, Format: wal.FormatEdge, ID: from, Edge: e}); err != nil {
		return err
	}
	return s.addEdgeLocked(from, e)
}

// appendLocked logs e and keeps it until the WAL delivers it back. A failed
// append is returned under Strict and logged under BestEffort. Full nodes
// are logged in the WAL's configured node format.
func (s *Store) appendLocked(e wal.Entry) error {
	start := time.Now()
	var (
		seq uint64
		err error
	)
	switch e.Format {
	case wal.FormatTouch:
		seq, err = s.wal.AppendTouch(e.ID, e.AccessedAt)
	case wal.FormatConfidence:
		seq, err = s.wal.AppendConfidence(e.ID, e.Confidence)
	case wal.FormatEdge:
		seq, err = s.wal.AppendEdge(e.ID, e.Edge)
	default:
		if e.Op == wal.OpDelete {
			seq, err = s.wal.AppendDelete(e.ID)
		} else {
			seq, err = s.wal.Append(e.Op, e.Node)
			e.Node = e.Node.Clone()
		}
	}
	s.metrics.RecordWALAppend(time.Since(start), err)
	if err != nil {
		if s.opts.durability == Strict {
			return fmt.Errorf("failed to append to WAL: %w", err)
		}
		s.logger.Warn("WAL append failed, applying in memory only",
			"id", e.ID.String(),
			"error", err,
		)
		return nil
	}
	e.Seq = seq
	s.own[seq] = e
	return nil
}

// touchAppendLocked logs an access to id.
func (s *Store) touchAppendLocked(id model.NodeID, ts int64) error {
	return s.appendLocked(wal.Entry{Op: wal.OpUpdate, Format: wal.FormatTouch, ID: id, AccessedAt: ts})
}

func (s *Store) containsLocked(id model.NodeID) bool {
	if s.hot.Contains(id) {
		return true
	}
	if s.warm != nil && s.warm.Contains(id) {
		return true
	}
	return s.cold != nil && s.cold.Contains(id)
}

func (s *Store) nowMillis() int64 {
	return s.opts.clock().UnixMilli()
}
