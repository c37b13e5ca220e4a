package xlator

import (
	"errors"

	"github.com/rocsift/rocsift-go/internal/access"
	"github.com/rocsift/rocsift-go/internal/regs"
	"github.com/rocsift/rocsift-go/rocerr"
)

var ErrFlatPageTables = errors.New("flat page tables (pt_depth=0) are not supported")

// preamble is the per-VMID register snapshot the walker needs for one
// Translate call: page-table bounds, depth/block-size geometry, and the
// VRAM aperture offset.
type preamble struct {
	PTStart    uint64
	PTBase     uint64
	PTEnd      uint64
	PTDepth    uint32
	PTBlockSize uint32
	FBOffset   uint64
}

func readPreamble(mmio *access.MMIOAccessor, offs regs.Offsets, baseOffset uint64, vmid int) (preamble, error) {
	stride64 := uint64(vmid) * regs.PerVMIDStride64
	stride32 := uint64(vmid) * regs.PerVMIDStride32

	startLo, err := mmio.Read32(baseOffset + offs.PTStartLo32 + stride64)
	if err != nil {
		return preamble{}, err
	}

	startHi, err := mmio.Read32(baseOffset + offs.PTStartHi32 + stride64)
	if err != nil {
		return preamble{}, err
	}

	endLo, err := mmio.Read32(baseOffset + offs.PTEndLo32 + stride64)
	if err != nil {
		return preamble{}, err
	}

	endHi, err := mmio.Read32(baseOffset + offs.PTEndHi32 + stride64)
	if err != nil {
		return preamble{}, err
	}

	baseLo, err := mmio.Read32(baseOffset + offs.PTBaseLo32 + stride64)
	if err != nil {
		return preamble{}, err
	}

	baseHi, err := mmio.Read32(baseOffset + offs.PTBaseHi32 + stride64)
	if err != nil {
		return preamble{}, err
	}

	cntl, err := mmio.Read32(baseOffset + offs.CNTL + stride32)
	if err != nil {
		return preamble{}, err
	}

	fbOffsetRaw, err := mmio.Read32(baseOffset + offs.FBOffset)
	if err != nil {
		return preamble{}, err
	}

	pre := preamble{
		PTStart:     (uint64(startHi)<<32 | uint64(startLo)) << 12,
		PTEnd:       (uint64(endHi)<<32 | uint64(endLo)) << 12,
		PTBase:      uint64(baseHi)<<32 | uint64(baseLo),
		PTDepth:     uint32(sliceBits(uint64(cntl), 2, 1)),
		PTBlockSize: uint32(sliceBits(uint64(cntl), 6, 3)),
		FBOffset:    uint64(fbOffsetRaw) << 24,
	}

	if pre.PTDepth == 0 {
		return preamble{}, rocerr.New(rocerr.Error, "xlator.readPreamble", ErrFlatPageTables)
	}

	return pre, nil
}

// levelPDESizeShift computes pde_size_shift for level i (0..pt_depth):
// (pt_block_size + 21) + (i - 1) * 9.
func levelPDESizeShift(i int, ptBlockSize uint32) uint {
	return uint(int(ptBlockSize) + 21 + (i-1)*9)
}

// levelNumPDEs returns the number of PDE slots at level i: the top level
// sizes to the VA range, every intermediate level is a fixed 512-entry
// table.
func levelNumPDEs(i int, ptDepth uint32, vaRange uint64, ptBlockSize uint32) uint64 {
	if i == int(ptDepth) {
		pdeSize := uint64(1) << levelPDESizeShift(i, ptBlockSize)
		return vaRange / pdeSize
	}

	return 1 << 9
}
