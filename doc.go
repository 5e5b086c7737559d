// Package vecmem is a tiered, crash-safe store for semantic memory nodes:
// vectors with confidence state, edges, tags and an opaque payload.
//
// Every mutation is appended to a write-ahead log before it becomes visible.
// Nodes live in one of three tiers:
//
//   - Hot: in memory with full-precision vectors and an HNSW index, persisted
//     as a checksummed snapshot.
//   - Warm: a fixed-capacity memory-mapped file with int8 vectors and its own
//     index, rebuilt on open.
//   - Cold: vector-less records in one blob, kept on the local disk, MinIO or
//     S3.
//
// # Quick Start
//
//	s, err := vecmem.Open("./data", 384,
//	    vecmem.WithHotCapacity(50_000),
//	    vecmem.WithLogger(vecmem.NewTextLogger(slog.LevelInfo)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	n := model.NewNode(1, embedding)
//	n.Payload = []byte("the user prefers dark mode")
//	if err := s.Insert(n); err != nil {
//	    return err
//	}
//
//	hits, err := s.Search(query, 10)
//
// Call Sync to write the hot snapshot and truncate the WAL, and ManageTiers
// to demote nodes once the hot tier is over capacity. Run does both
// periodically.
//
// # Multiple processes
//
// Processes may open the same directory. They coordinate through advisory
// file locks only: appends, checkpoints and snapshot writes take exclusive
// locks, replays and snapshot loads take shared ones. The first process
// holds tiers.lock and owns the warm and cold tiers; the others follow the
// WAL and see a possibly stale view until their next sync. Entries that the
// owner absorbs into a snapshot before a follower read them reach that
// follower on its next Open.
package vecmem
