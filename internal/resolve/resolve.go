// Package resolve maps a partition's caller-supplied address-space handle
// (a PID, a PASID, or nothing) down to the 64-bit page-table base the
// walker needs, and the reverse: a page-table base down to the VMID that
// currently owns it.
package resolve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rocsift/rocsift-go/internal/access"
	"github.com/rocsift/rocsift-go/internal/pm4"
	"github.com/rocsift/rocsift-go/internal/regs"
	"github.com/rocsift/rocsift-go/rocerr"
)

const numVMIDs = 16

var (
	ErrPIDNotFound      = errors.New("pid not found in kfd process list")
	ErrPASIDNotInRunlist = errors.New("pasid not found in any active runlist MAP_PROCESS entry")
	ErrNoMatchingVMID   = errors.New("page table base matched no VMID register")
)

// PTBaseFromPID enumerates procRoot (normally
// /sys/class/kfd/kfd/proc) for the entry whose pid matches, reads its
// pasid, then delegates to PTBaseFromPASID.
func PTBaseFromPID(procRoot string, pid int, runlists pm4.RunlistSeries, gpuID uint32) (uint64, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return 0, rocerr.New(rocerr.Error, "resolve.PTBaseFromPID", err)
	}

	for _, e := range entries {
		entryPID, err := strconv.Atoi(e.Name())
		if err != nil || entryPID != pid {
			continue
		}

		data, err := os.ReadFile(filepath.Join(procRoot, e.Name(), "pasid"))
		if err != nil {
			return 0, rocerr.New(rocerr.Error, "resolve.PTBaseFromPID", err)
		}

		pasid, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
		if err != nil {
			return 0, rocerr.New(rocerr.Error, "resolve.PTBaseFromPID", err)
		}

		return PTBaseFromPASID(uint32(pasid), runlists, gpuID)
	}

	return 0, rocerr.New(rocerr.Error, "resolve.PTBaseFromPID",
		fmt.Errorf("%w: pid %d", ErrPIDNotFound, pid))
}

// PTBaseFromPASID scans runlists for the one whose GPUID matches, then
// its Type-3 MAP_PROCESS entries for a PASID match, combining
// PTBaseHi32/Lo32 into a 64-bit address. A PID can legitimately exit
// between being read from the process list and its runlist entry being
// scanned, so a miss here is Error, never CodeBug.
func PTBaseFromPASID(pasid uint32, runlists pm4.RunlistSeries, gpuID uint32) (uint64, error) {
	for _, rl := range runlists {
		if rl.GPUID != gpuID {
			continue
		}

		for _, entry := range rl.Entries {
			mp, ok := entry.Body.(*pm4.MapProcessBody)
			if !ok {
				continue
			}

			if mp.PASID == pasid {
				return mp.PTBase64(), nil
			}
		}
	}

	return 0, rocerr.New(rocerr.Error, "resolve.PTBaseFromPASID",
		fmt.Errorf("%w: pasid %#x, gpu_id %#x", ErrPASIDNotInRunlist, pasid, gpuID))
}

// VMIDFromPTBase reads every VMID's page-table-base register pair
// through mmio and returns the first VMID whose combined base matches
// ptBase.
func VMIDFromPTBase(mmio *access.MMIOAccessor, offs regs.Offsets, baseOffset uint64, ptBase uint64) (int, error) {
	for vmid := 0; vmid < numVMIDs; vmid++ {
		stride := uint64(vmid) * regs.PerVMIDStride64

		lo, err := mmio.Read32(baseOffset + offs.PTBaseLo32 + stride)
		if err != nil {
			return 0, err
		}

		hi, err := mmio.Read32(baseOffset + offs.PTBaseHi32 + stride)
		if err != nil {
			return 0, err
		}

		if uint64(hi)<<32|uint64(lo) == ptBase {
			return vmid, nil
		}
	}

	return 0, rocerr.New(rocerr.Error, "resolve.VMIDFromPTBase",
		fmt.Errorf("%w: base %#016x", ErrNoMatchingVMID, ptBase))
}
