package sift

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mapProcessDwords builds the header + 20 body dwords of one MAP_PROCESS
// (opcode 0xA1) PM4 entry carrying pasid and the given 64-bit page-table
// base, zeroing every other field the decoder reads.
func mapProcessDwords(pasid uint32, ptBaseLo, ptBaseHi uint32) []uint32 {
	const opMapProcess = 0xA1
	const bodyLen = 20 // dword indices 2..21 inclusive, relative to the entry

	header := (uint32(3) << 30) | (uint32(bodyLen-1) << 16) | (uint32(opMapProcess) << 8)

	body := make([]uint32, bodyLen)
	body[0] = pasid & 0xffff
	body[1] = ptBaseLo
	body[2] = ptBaseHi

	return append([]uint32{header}, body...)
}

// runlistDumpText formats one "Node N, gpu_id ...:" block followed by its
// dwords as hex data lines, matching the textual dump pm4.ParseAll expects.
func runlistDumpText(nodeID, gpuID uint32, dwords []uint32) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Node %d, gpu_id %x:\n", nodeID, gpuID)

	for i := 0; i < len(dwords); i += 4 {
		end := i + 4
		if end > len(dwords) {
			end = len(dwords)
		}

		fmt.Fprintf(&b, "%08x:", i*4)

		for _, w := range dwords[i:end] {
			fmt.Fprintf(&b, " %08x", w)
		}

		b.WriteString("\n")
	}

	return b.String()
}

func openSyntheticPartition(t *testing.T) (*Engine, *Partition, *syntheticTree) {
	t.Helper()

	tr := newSyntheticTree(t)
	tr.openDebugFSFiles(t, 0)

	eng, err := Open(tr.options()...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { eng.Close() })

	parts := eng.Partitions()
	if len(parts) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(parts))
	}

	return eng, parts[0], tr
}

func TestPartitionReadWriteMMIO32(t *testing.T) {
	_, p, _ := openSyntheticPartition(t)

	if err := p.WriteMMIO32(0x10, 0xcafef00d); err != nil {
		t.Fatalf("WriteMMIO32: %v", err)
	}

	got, err := p.ReadMMIO32(0x10)
	if err != nil {
		t.Fatalf("ReadMMIO32: %v", err)
	}

	if got != 0xcafef00d {
		t.Fatalf("got %#x, want 0xcafef00d", got)
	}
}

func TestPartitionReadWriteSMN32(t *testing.T) {
	_, p, _ := openSyntheticPartition(t)

	if err := p.WriteSMN32(0x1000, 0x11223344); err != nil {
		t.Fatalf("WriteSMN32: %v", err)
	}

	got, err := p.ReadSMN32(0x1000)
	if err != nil {
		t.Fatalf("ReadSMN32: %v", err)
	}

	if got != 0x11223344 {
		t.Fatalf("got %#x, want 0x11223344", got)
	}
}

func TestPartitionReadWriteVRAM(t *testing.T) {
	_, p, _ := openSyntheticPartition(t)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	if _, err := p.WriteVRAM(0x100, want); err != nil {
		t.Fatalf("WriteVRAM: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := p.ReadVRAM(0x100, got); err != nil {
		t.Fatalf("ReadVRAM: %v", err)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestPartitionReadWriteSystemRAM(t *testing.T) {
	_, p, _ := openSyntheticPartition(t)

	want := []byte{0xaa, 0xbb, 0xcc, 0xdd}

	if _, err := p.WriteSystemRAM(0x200, want); err != nil {
		t.Fatalf("WriteSystemRAM: %v", err)
	}

	got := make([]byte, len(want))
	if _, err := p.ReadSystemRAM(0x200, got); err != nil {
		t.Fatalf("ReadSystemRAM: %v", err)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestPartitionSystemRAMUnavailableReportsNotPrivileged(t *testing.T) {
	tr := newSyntheticTree(t)

	cardDir := filepath.Join(tr.debugfsRoot, "0")
	for _, name := range []string{"amdgpu_regs2", "amdgpu_vram"} {
		writeFile(t, filepath.Join(cardDir, name), "")

		if err := os.Truncate(filepath.Join(cardDir, name), 0x20000); err != nil {
			t.Fatal(err)
		}
	}
	// amdgpu_iomem and the /dev/mem fallback are both left absent, so
	// system RAM access must lazily surface NotPrivileged rather than
	// failing the whole partition open.

	eng, err := Open(tr.options()...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	parts := eng.Partitions()
	if len(parts) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(parts))
	}

	buf := make([]byte, 4)
	if _, err := parts[0].ReadSystemRAM(0, buf); err == nil {
		t.Fatal("expected ReadSystemRAM to fail without an iomem or /dev/mem backend")
	}
}

func TestPartitionTranslatorForVMID(t *testing.T) {
	_, p, _ := openSyntheticPartition(t)

	tr, err := p.TranslatorForVMID(3)
	if err != nil {
		t.Fatalf("TranslatorForVMID: %v", err)
	}

	if tr.VMID != 3 {
		t.Fatalf("got VMID %d, want 3", tr.VMID)
	}
}

func TestPartitionActiveRunlist(t *testing.T) {
	_, p, tr := openSyntheticPartition(t)

	dwords := mapProcessDwords(0x1234, 0, 1)
	writeFile(t, tr.rlsPath, runlistDumpText(0, 0x5678, dwords))

	rl, err := p.ActiveRunlist()
	if err != nil {
		t.Fatalf("ActiveRunlist: %v", err)
	}

	if rl.GPUID != 0x5678 {
		t.Fatalf("got gpu_id %#x, want 0x5678", rl.GPUID)
	}

	if len(rl.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rl.Entries))
	}
}

func TestPartitionActiveRunlistNoMatchingGPUID(t *testing.T) {
	_, p, tr := openSyntheticPartition(t)

	writeFile(t, tr.rlsPath, runlistDumpText(0, 0x9999, mapProcessDwords(1, 0, 0)))

	if _, err := p.ActiveRunlist(); err == nil {
		t.Fatal("expected error when no runlist block matches this partition's gpu_id")
	}
}

// writePTBaseRegister writes the 64-bit page-table base register pair for
// vmid into the synthetic MMIO file at the MI3xx offsets (PTBaseLo32
// 0xA32C, PTBaseHi32 0xA330, stride 8), so resolve.VMIDFromPTBase's linear
// scan can find it.
func writePTBaseRegister(t *testing.T, p *Partition, vmid int, ptBase uint64) {
	t.Helper()

	const ptBaseLo32 = 0xA32C
	const ptBaseHi32 = 0xA330
	const stride = 8

	stride64 := uint64(vmid) * stride

	if err := p.WriteMMIO32(ptBaseLo32+stride64, uint32(ptBase)); err != nil {
		t.Fatal(err)
	}

	if err := p.WriteMMIO32(ptBaseHi32+stride64, uint32(ptBase>>32)); err != nil {
		t.Fatal(err)
	}
}

func TestPartitionTranslatorForPASID(t *testing.T) {
	_, p, tr := openSyntheticPartition(t)

	const pasid = 0x1234
	const ptBase = 0x0000000100000000

	writePTBaseRegister(t, p, 3, ptBase)
	writeFile(t, tr.rlsPath, runlistDumpText(0, 0x5678, mapProcessDwords(pasid, uint32(ptBase), uint32(ptBase>>32))))

	got, err := p.TranslatorForPASID(pasid)
	if err != nil {
		t.Fatalf("TranslatorForPASID: %v", err)
	}

	if got.VMID != 3 {
		t.Fatalf("got VMID %d, want 3", got.VMID)
	}
}

func TestPartitionTranslatorForPID(t *testing.T) {
	_, p, tr := openSyntheticPartition(t)

	const pid = 4242
	const pasid = 0x1234
	const ptBase = 0x0000000100000000

	writePTBaseRegister(t, p, 5, ptBase)
	writeFile(t, tr.rlsPath, runlistDumpText(0, 0x5678, mapProcessDwords(pasid, uint32(ptBase), uint32(ptBase>>32))))
	writeFile(t, filepath.Join(tr.procRoot, fmt.Sprintf("%d", pid), "pasid"), fmt.Sprintf("%d\n", pasid))

	got, err := p.TranslatorForPID(pid)
	if err != nil {
		t.Fatalf("TranslatorForPID: %v", err)
	}

	if got.VMID != 5 {
		t.Fatalf("got VMID %d, want 5", got.VMID)
	}
}

func TestPartitionTranslatorForPIDUnknownPID(t *testing.T) {
	_, p, tr := openSyntheticPartition(t)

	writeFile(t, tr.rlsPath, runlistDumpText(0, 0x5678, mapProcessDwords(1, 0, 0)))

	if _, err := p.TranslatorForPID(999999); err == nil {
		t.Fatal("expected error for a pid absent from the proc root")
	}
}
