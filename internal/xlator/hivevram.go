package xlator

import (
	"github.com/rocsift/rocsift-go/internal/access"
	"github.com/rocsift/rocsift-go/internal/topology"
	"github.com/rocsift/rocsift-go/internal/xgmi"
)

// HiveVRAM implements access.ReadWriter for one partition's VRAM space,
// transparently remapping an offset that belongs to a different XGMI
// peer before dispatching to that peer's own VRAM accessor. Partitions
// outside any hive read their own accessor directly.
type HiveVRAM struct {
	Partition *topology.Partition
	// Accessors maps every partition reachable from Partition's hive
	// (Partition included) to its local VRAM accessor.
	Accessors map[*topology.Partition]access.ReadWriter
}

func (h *HiveVRAM) Read(addr uint64, buf []byte) (int, error) {
	acc, local, err := h.resolve(addr)
	if err != nil {
		return 0, err
	}

	return acc.Read(local, buf)
}

func (h *HiveVRAM) Write(addr uint64, buf []byte) (int, error) {
	acc, local, err := h.resolve(addr)
	if err != nil {
		return 0, err
	}

	return acc.Write(local, buf)
}

func (h *HiveVRAM) resolve(addr uint64) (access.ReadWriter, uint64, error) {
	drm := h.Partition.DRMNode
	if drm == nil || drm.XGMI.HiveID == 0 {
		return h.Accessors[h.Partition], addr, nil
	}

	peer, local, err := xgmi.Remap(&drm.XGMI, xgmi.Request{Offset: addr})
	if err != nil {
		return nil, 0, err
	}

	return h.Accessors[peer], local, nil
}
