package access

import (
	"fmt"

	"github.com/rocsift/rocsift-go/internal/rlog"
)

// DebugFS bundles the three debugfs character-device backends a DRM card
// number exposes, opened together so callers get one owning handle per
// card instead of juggling three independent opens.
type DebugFS struct {
	MMIO *MMIOAccessor
	VRAM *VRAMAccessor
	SMN  *SMNAccessor

	systemRAM *SystemRAMAccessor
}

// OpenDebugFS opens amdgpu_regs2, amdgpu_vram, and amdgpu_iomem for DRM
// card number n under debugfsRoot (normally /sys/kernel/debug/dri), plus
// devMemPath as the system-RAM fallback. SMN is derived from MMIO with
// the documented default register offsets.
func OpenDebugFS(debugfsRoot string, n int, devMemPath string) (*DebugFS, error) {
	dir := fmt.Sprintf("%s/%d", debugfsRoot, n)

	mmio, err := NewMMIOAccessor(dir + "/amdgpu_regs2")
	if err != nil {
		return nil, err
	}

	vram, err := NewVRAMAccessor(dir + "/amdgpu_vram")
	if err != nil {
		mmio.Close()

		return nil, err
	}

	// System RAM access commonly requires privileges MMIO/VRAM don't:
	// tolerate its absence here and let SystemRAM()/Read/Write surface
	// NotPrivileged lazily, rather than failing the whole card open.
	sysRAM, err := NewSystemRAMAccessor(dir+"/amdgpu_iomem", devMemPath)
	if err != nil {
		rlog.Warnf("access: system RAM backend unavailable for card %d: %v", n, err)

		sysRAM = nil
	}

	return &DebugFS{
		MMIO:      mmio,
		VRAM:      vram,
		SMN:       NewSMNAccessor(mmio, DefaultSMNConfig()),
		systemRAM: sysRAM,
	}, nil
}

// SystemRAM returns the system-RAM accessor (IOMEM with /dev/mem
// fallback). It's a method rather than an exported field so DebugFS can
// keep the field unexported without a second public name for the same
// backend.
func (d *DebugFS) SystemRAM() *SystemRAMAccessor { return d.systemRAM }

// Close releases every backend this DebugFS opened.
func (d *DebugFS) Close() error {
	var firstErr error

	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(d.MMIO.Close())
	record(d.VRAM.Close())

	if d.systemRAM != nil {
		record(d.systemRAM.Close())
	}

	return firstErr
}
