// Package xgmi converts a hive-global VRAM offset into the peer partition
// that owns it and a local offset into that peer's own VRAM, for the
// multi-GPU XGMI memory fabric.
package xgmi

import (
	"errors"
	"fmt"

	"github.com/rocsift/rocsift-go/internal/topology"
	"github.com/rocsift/rocsift-go/rocerr"
)

// giB is the rounding granularity every peer's VRAM size is rounded up to
// before accumulation.
const giB = 1 << 30

var ErrOffsetExceedsHive = errors.New("offset exceeds hive total VRAM")

// Request is one hive-global VRAM I/O to remap.
type Request struct {
	Offset uint64
	Size   uint64
}

// Remap walks hive.Peers in PhysicalID order, accumulating each peer's
// VRAM size rounded up to the next GiB, and returns the first peer whose
// running total strictly exceeds req.Offset along with the local offset
// within that peer. An offset exactly equal to a peer's rounded-up
// boundary belongs to the next peer at local offset zero.
func Remap(hive *topology.XGMIInfo, req Request) (*topology.Partition, uint64, error) {
	if hive == nil || len(hive.Peers) == 0 {
		return nil, 0, rocerr.New(rocerr.CodeBug, "xgmi.Remap", errors.New("hive has no peers to remap across"))
	}

	var running uint64

	for _, peer := range hive.Peers {
		rounded := roundUpGiB(peer.VRAMTotalBytes)

		if req.Offset < running+rounded {
			if peer.Partition == nil {
				return nil, 0, rocerr.New(rocerr.Error, "xgmi.Remap",
					fmt.Errorf("peer card %s has no partition assigned", peer.CardName))
			}

			return peer.Partition, req.Offset - running, nil
		}

		running += rounded
	}

	return nil, 0, rocerr.New(rocerr.OutOfRange, "xgmi.Remap",
		fmt.Errorf("%w: offset %#x, hive total %#x", ErrOffsetExceedsHive, req.Offset, running))
}

func roundUpGiB(bytes uint64) uint64 {
	return (bytes + giB - 1) / giB * giB
}
