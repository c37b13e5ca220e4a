package sift

import (
	"fmt"
	"os"

	"github.com/rocsift/rocsift-go/internal/access"
	"github.com/rocsift/rocsift-go/internal/pm4"
	"github.com/rocsift/rocsift-go/internal/regs"
	"github.com/rocsift/rocsift-go/internal/resolve"
	"github.com/rocsift/rocsift-go/internal/topology"
	"github.com/rocsift/rocsift-go/internal/xlator"
	"github.com/rocsift/rocsift-go/rocerr"
)

// Translator walks one VMID's page tables on a partition; re-exported
// from internal/xlator so callers never need an internal import to hold
// one returned from TranslatorForPID/PASID/VMID.
type Translator = xlator.Translator

// Fragment is one translated, aligned slice of address space.
type Fragment = xlator.Fragment

// Partition is a live-wired compute partition: topology metadata plus its
// opened register/VRAM/system-RAM accessors.
type Partition struct {
	topo    *topology.Partition
	debugfs *access.DebugFS
	offsets regs.Offsets
	base    uint64
	cfg     config
	engine  *Engine
}

func newPartition(cfg config, tp *topology.Partition) (*Partition, error) {
	if tp.DRMNode == nil {
		return nil, rocerr.New(rocerr.Error, "sift.newPartition",
			fmt.Errorf("partition %d has no DRM node", tp.GlobalID))
	}

	cardNum, err := tp.DRMNode.CardNumber()
	if err != nil {
		return nil, rocerr.New(rocerr.Error, "sift.newPartition", err)
	}

	dfs, err := access.OpenDebugFS(cfg.debugFSRoot, cardNum, cfg.devMemPath)
	if err != nil {
		return nil, err
	}

	var deviceID uint32
	if tp.KFDNode != nil {
		deviceID = tp.KFDNode.Properties.DeviceID
	}

	offs, err := regs.OffsetsFor(deviceID)
	if err != nil {
		dfs.Close()

		return nil, rocerr.New(rocerr.Error, "sift.newPartition", err)
	}

	return &Partition{
		topo:    tp,
		debugfs: dfs,
		offsets: offs,
		base:    regs.GFXHubOffset(firstXCCDieID(tp.XCCDieIDs)),
		cfg:     cfg,
	}, nil
}

func firstXCCDieID(ids []int) int {
	if len(ids) == 0 {
		return 0
	}

	return ids[0]
}

// GlobalID is this partition's global enumeration index.
func (p *Partition) GlobalID() int { return p.topo.GlobalID }

// ReadMMIO32 reads one 32-bit register at reg, relative to this
// partition's XCC GFX-hub aperture.
func (p *Partition) ReadMMIO32(reg uint64) (uint32, error) {
	return p.debugfs.MMIO.Read32(p.base + reg)
}

// WriteMMIO32 writes one 32-bit register at reg, relative to this
// partition's XCC GFX-hub aperture.
func (p *Partition) WriteMMIO32(reg uint64, value uint32) error {
	return p.debugfs.MMIO.Write32(p.base+reg, value)
}

// ReadSMN32 reads one SMN register, serialised against every other SMN
// access on this partition since the index/data sequence shares MMIO
// registers.
func (p *Partition) ReadSMN32(reg uint64) (uint32, error) {
	p.topo.Lock()
	defer p.topo.Unlock()

	return p.debugfs.SMN.ReadReg32(reg)
}

// WriteSMN32 writes one SMN register under the same serialisation as
// ReadSMN32.
func (p *Partition) WriteSMN32(reg uint64, value uint32) error {
	p.topo.Lock()
	defer p.topo.Unlock()

	return p.debugfs.SMN.WriteReg32(reg, value)
}

// vramBackend returns this partition's own VRAM accessor, or a
// hive-remapping wrapper when it belongs to an XGMI hive.
func (p *Partition) vramBackend() access.ReadWriter {
	if p.topo.DRMNode != nil && p.topo.DRMNode.XGMI.HiveID != 0 {
		return &xlator.HiveVRAM{Partition: p.topo, Accessors: p.engine.vramAccessors}
	}

	return p.debugfs.VRAM
}

// ReadVRAM reads from this partition's VRAM, transparently remapping
// through the XGMI hive when addr belongs to a peer.
func (p *Partition) ReadVRAM(addr uint64, buf []byte) (int, error) {
	return p.vramBackend().Read(addr, buf)
}

// WriteVRAM writes to this partition's VRAM, transparently remapping
// through the XGMI hive when addr belongs to a peer.
func (p *Partition) WriteVRAM(addr uint64, buf []byte) (int, error) {
	return p.vramBackend().Write(addr, buf)
}

// systemRAMBackend returns the opened system-RAM accessor, or a stub
// that always reports NotPrivileged when neither IOMEM nor /dev/mem
// could be opened for this card.
func (p *Partition) systemRAMBackend() access.ReadWriter {
	if sr := p.debugfs.SystemRAM(); sr != nil {
		return sr
	}

	return unavailableBackend{err: rocerr.New(rocerr.NotPrivileged, "sift.SystemRAM", access.ErrNotPrivileged)}
}

// ReadSystemRAM reads addr from system RAM (IOMEM, falling back to
// /dev/mem), or NotPrivileged if neither backend is available.
func (p *Partition) ReadSystemRAM(addr uint64, buf []byte) (int, error) {
	return p.systemRAMBackend().Read(addr, buf)
}

// WriteSystemRAM writes addr to system RAM under the same fallback rule
// as ReadSystemRAM.
func (p *Partition) WriteSystemRAM(addr uint64, buf []byte) (int, error) {
	return p.systemRAMBackend().Write(addr, buf)
}

// TranslatorForVMID builds a Translator for a known hardware VMID
// directly, skipping PID/PASID resolution.
func (p *Partition) TranslatorForVMID(vmid int) (*Translator, error) {
	return &xlator.Translator{
		VMID:       vmid,
		Offsets:    p.offsets,
		BaseOffset: p.base,
		MMIO:       p.debugfs.MMIO,
		VRAM:       p.vramBackend(),
		SystemRAM:  p.systemRAMBackend(),
	}, nil
}

// TranslatorForPASID resolves pasid to its active VMID via the current
// runlist and returns a Translator for it.
func (p *Partition) TranslatorForPASID(pasid int) (*Translator, error) {
	runlists, err := p.loadRunlists()
	if err != nil {
		return nil, err
	}

	ptBase, err := resolve.PTBaseFromPASID(uint32(pasid), runlists, p.gpuID())
	if err != nil {
		return nil, err
	}

	return p.translatorForPTBase(ptBase)
}

// TranslatorForPID resolves pid to its PASID via the KFD proc list, then
// to its active VMID via the current runlist, and returns a Translator
// for it. A process that exits mid-resolution surfaces as a plain Error,
// not CodeBug: this is an expected race, not an invariant violation.
func (p *Partition) TranslatorForPID(pid int) (*Translator, error) {
	runlists, err := p.loadRunlists()
	if err != nil {
		return nil, err
	}

	ptBase, err := resolve.PTBaseFromPID(p.cfg.procRoot, pid, runlists, p.gpuID())
	if err != nil {
		return nil, err
	}

	return p.translatorForPTBase(ptBase)
}

func (p *Partition) translatorForPTBase(ptBase uint64) (*Translator, error) {
	vmid, err := resolve.VMIDFromPTBase(p.debugfs.MMIO, p.offsets, p.base, ptBase)
	if err != nil {
		return nil, err
	}

	return p.TranslatorForVMID(vmid)
}

// ActiveRunlist returns this partition's own block from the current
// runlist dump, by matching its KFD node's gpu_id.
func (p *Partition) ActiveRunlist() (*pm4.Runlist, error) {
	runlists, err := p.loadRunlists()
	if err != nil {
		return nil, err
	}

	gpuID := p.gpuID()

	for i := range runlists {
		if runlists[i].GPUID == gpuID {
			return &runlists[i], nil
		}
	}

	return nil, rocerr.New(rocerr.Error, "sift.ActiveRunlist",
		fmt.Errorf("no runlist entry for gpu_id %#x", gpuID))
}

func (p *Partition) loadRunlists() (pm4.RunlistSeries, error) {
	data, err := os.ReadFile(p.cfg.rlsPath)
	if err != nil {
		return nil, rocerr.New(rocerr.NotPrivileged, "sift.loadRunlists", err)
	}

	return pm4.ParseAll(string(data))
}

func (p *Partition) gpuID() uint32 {
	if p.topo.KFDNode == nil {
		return 0
	}

	return p.topo.KFDNode.GPUID
}

type unavailableBackend struct{ err error }

func (u unavailableBackend) Read(uint64, []byte) (int, error)  { return 0, u.err }
func (u unavailableBackend) Write(uint64, []byte) (int, error) { return 0, u.err }
