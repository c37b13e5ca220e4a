package sift

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rocsift/rocsift-go/internal/topology"
)

// syntheticTree is the full set of sysfs/debugfs roots Open reads from, all
// rooted under one t.TempDir() so a single test can point every Option at
// its own isolated tree.
type syntheticTree struct {
	root        string
	kfdRoot     string
	drmRoot     string
	pciRoot     string
	debugfsRoot string
	devMemPath  string
	rlsPath     string
	procRoot    string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newSyntheticTree builds a single-device, single-partition tree: KFD node
// 1 (gpu_id 0x5678, device_id 0x74a1, num_xcc 1) paired with DRM card0, and
// empty runlist/proc files the individual tests overwrite as needed.
func newSyntheticTree(t *testing.T) *syntheticTree {
	t.Helper()

	root := t.TempDir()
	tr := &syntheticTree{
		root:        root,
		kfdRoot:     filepath.Join(root, "kfd"),
		drmRoot:     filepath.Join(root, "drm"),
		pciRoot:     filepath.Join(root, "pci"),
		debugfsRoot: filepath.Join(root, "debugfs", "dri"),
		devMemPath:  filepath.Join(root, "mem"),
		rlsPath:     filepath.Join(root, "rls"),
		procRoot:    filepath.Join(root, "proc"),
	}

	writeFile(t, filepath.Join(tr.kfdRoot, "1", "properties"),
		"simd_count 256\nlocation_id 768\ndomain 0\ndrm_render_minor 128\nnum_xcc 1\ndevice_id 29857\n")
	writeFile(t, filepath.Join(tr.kfdRoot, "1", "gpu_id"), "22136\n")

	writeFile(t, filepath.Join(tr.drmRoot, "card0", "device", "mem_info_vram_total"), "17179869184\n")

	writeFile(t, tr.rlsPath, "")
	writeFile(t, filepath.Join(tr.procRoot, "placeholder", "pasid"), "")

	return tr
}

// openDebugFSFiles creates the three debugfs backends plus /dev/mem for
// card N, each sized generously past the largest register offset used.
func (tr *syntheticTree) openDebugFSFiles(t *testing.T, card int) {
	t.Helper()

	cardDir := filepath.Join(tr.debugfsRoot, itoa(card))

	for _, name := range []string{"amdgpu_regs2", "amdgpu_vram", "amdgpu_iomem"} {
		writeFile(t, filepath.Join(cardDir, name), "")

		if err := os.Truncate(filepath.Join(cardDir, name), 0x20000); err != nil {
			t.Fatal(err)
		}
	}

	writeFile(t, tr.devMemPath, "")

	if err := os.Truncate(tr.devMemPath, 0x20000); err != nil {
		t.Fatal(err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}

	return digits
}

func (tr *syntheticTree) options() []Option {
	return []Option{
		WithTopologyPaths(topology.Paths{
			KFDTopologyRoot: tr.kfdRoot,
			DRMRoot:         tr.drmRoot,
			PCIDevicesRoot:  tr.pciRoot,
		}),
		WithDebugFSRoot(tr.debugfsRoot),
		WithDevMemPath(tr.devMemPath),
		WithRLSPath(tr.rlsPath),
		WithProcRoot(tr.procRoot),
	}
}

func TestOpenEnumeratesDevicesAndPartitions(t *testing.T) {
	tr := newSyntheticTree(t)
	tr.openDebugFSFiles(t, 0)

	eng, err := Open(tr.options()...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	if len(eng.Devices()) != 1 {
		t.Fatalf("expected 1 device, got %d", len(eng.Devices()))
	}

	parts := eng.Partitions()
	if len(parts) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(parts))
	}

	if parts[0].GlobalID() != 0 {
		t.Fatalf("expected global id 0, got %d", parts[0].GlobalID())
	}

	if len(eng.Devices()[0].Partitions()) != 1 {
		t.Fatalf("expected device to own its partition")
	}

	if eng.Devices()[0].Instance() != 0 {
		t.Fatalf("expected instance 0, got %d", eng.Devices()[0].Instance())
	}

	got, err := eng.PartitionByGlobalID(0)
	if err != nil {
		t.Fatalf("PartitionByGlobalID: %v", err)
	}

	if got != parts[0] {
		t.Fatal("PartitionByGlobalID returned a different partition than Partitions()[0]")
	}

	if _, err := eng.PartitionByGlobalID(7); err == nil {
		t.Fatal("expected error for out-of-range global id")
	}
}

func TestOpenSkipsPartitionWithUnopenableDebugFS(t *testing.T) {
	tr := newSyntheticTree(t)
	// Deliberately never call openDebugFSFiles: card 0's debugfs directory
	// does not exist, so newPartition fails and Open must skip it rather
	// than failing outright.

	eng, err := Open(tr.options()...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer eng.Close()

	if len(eng.Partitions()) != 0 {
		t.Fatalf("expected the bad partition to be skipped, got %d partitions", len(eng.Partitions()))
	}

	if len(eng.Devices()) != 1 {
		t.Fatalf("expected the device to still be enumerated, got %d", len(eng.Devices()))
	}

	if len(eng.Devices()[0].Partitions()) != 0 {
		t.Fatalf("expected device to carry no live partitions")
	}
}
