package model

import "fmt"

// StorageTier describes where the authoritative copy of a node lives.
type StorageTier uint8

const (
	// TierHot holds full-precision nodes in process memory.
	TierHot StorageTier = iota
	// TierWarm holds quantized nodes in a memory-mapped file.
	TierWarm
	// TierCold holds metadata and payload only; vectors are discarded.
	TierCold
)

func (t StorageTier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}
