package topology

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseKFDProperties(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "properties")

	writeFile(t, path, `cpu_cores_count 0
simd_count 256
device_id 29857
vendor_id 4098
location_id 768
domain 0
drm_render_minor 128
num_xcc 8
unknown_key 42
`)

	props, err := parseKFDProperties(path)
	if err != nil {
		t.Fatalf("parseKFDProperties: %v", err)
	}

	if props.SIMDCount != 256 || props.DeviceID != 29857 || props.LocationID != 768 || props.NumXCC != 8 {
		t.Fatalf("unexpected properties: %+v", props)
	}
}

func TestParseKFDPropertiesMissingFile(t *testing.T) {
	if _, err := parseKFDProperties(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing properties file")
	}
}

func TestLoadKFDNodesSkipsZeroSIMD(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "0", "properties"), "simd_count 0\nlocation_id 0\n")
	writeFile(t, filepath.Join(root, "0", "gpu_id"), "0\n")

	writeFile(t, filepath.Join(root, "1", "properties"), "simd_count 256\nlocation_id 768\nnum_xcc 1\n")
	writeFile(t, filepath.Join(root, "1", "gpu_id"), "22136\n")

	nodes, err := loadKFDNodes(root)
	if err != nil {
		t.Fatalf("loadKFDNodes: %v", err)
	}

	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}

	if nodes[0].ID != 1 || nodes[0].GPUID != 22136 {
		t.Fatalf("unexpected node: %+v", nodes[0])
	}
}

func TestLoadIPDiscoveryTableAbsent(t *testing.T) {
	table, err := loadIPDiscoveryTable(t.TempDir())
	if err != nil {
		t.Fatalf("loadIPDiscoveryTable: %v", err)
	}

	if table != nil {
		t.Fatalf("expected nil table, got %+v", table)
	}
}

func TestLoadIPDiscoveryTableParsesGCInstances(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "ip_discovery", "die", "0", "GC", "0", "num_instance"), "0\n")
	writeFile(t, filepath.Join(root, "ip_discovery", "die", "0", "GC", "0", "harvest"), "0\n")
	writeFile(t, filepath.Join(root, "ip_discovery", "die", "0", "GC", "1", "num_instance"), "1\n")
	writeFile(t, filepath.Join(root, "ip_discovery", "die", "0", "GC", "1", "harvest"), "1\n")

	table, err := loadIPDiscoveryTable(root)
	if err != nil {
		t.Fatalf("loadIPDiscoveryTable: %v", err)
	}

	if table == nil || len(table.Dies) != 1 || len(table.Dies[0].GCInstances) != 2 {
		t.Fatalf("unexpected table: %+v", table)
	}

	if table.Dies[0].GCInstances[1].NumInstance != 1 || !table.Dies[0].GCInstances[1].Harvested {
		t.Fatalf("unexpected GC instance: %+v", table.Dies[0].GCInstances[1])
	}
}

func TestLoadDRMNodeWithXGMIPeers(t *testing.T) {
	root := t.TempDir()

	card0 := filepath.Join(root, "card0")
	writeFile(t, filepath.Join(card0, "device", "mem_info_vram_total"), "17179869184\n")
	writeFile(t, filepath.Join(card0, "device", "xgmi_device_id"), "1\n")
	writeFile(t, filepath.Join(card0, "device", "xgmi_physical_id"), "0\n")
	writeFile(t, filepath.Join(card0, "device", "xgmi_hive_info", "xgmi_hive_id"), "99\n")
	writeFile(t, filepath.Join(card0, "device", "xgmi_hive_info", "peer0", "drm", "card0", "x"), "")
	writeFile(t, filepath.Join(card0, "device", "xgmi_hive_info", "peer1", "drm", "card1", "x"), "")

	node, err := loadDRMNode(card0)
	if err != nil {
		t.Fatalf("loadDRMNode: %v", err)
	}

	if node.VRAMTotalBytes != 17179869184 || node.XGMI.HiveID != 99 {
		t.Fatalf("unexpected node: %+v", node)
	}

	if len(node.XGMI.PeerCardNames) != 2 {
		t.Fatalf("expected 2 peer card names, got %v", node.XGMI.PeerCardNames)
	}
}

func TestLoadDRMNodeNoXGMI(t *testing.T) {
	root := t.TempDir()
	card0 := filepath.Join(root, "card0")
	writeFile(t, filepath.Join(card0, "device", "mem_info_vram_total"), "1024\n")

	node, err := loadDRMNode(card0)
	if err != nil {
		t.Fatalf("loadDRMNode: %v", err)
	}

	if node.XGMI.HiveID != 0 || len(node.XGMI.PeerCardNames) != 0 {
		t.Fatalf("expected no xgmi info, got %+v", node.XGMI)
	}
}

func TestResolvePeersSortsByPhysicalID(t *testing.T) {
	nodes := map[string]*DRMNode{
		"card0": {CardName: "card0", XGMI: XGMIInfo{HiveID: 1, PhysicalID: 2, PeerCardNames: []string{"card0", "card1"}}},
		"card1": {CardName: "card1", XGMI: XGMIInfo{HiveID: 1, PhysicalID: 0, PeerCardNames: []string{"card0", "card1"}}},
	}

	resolvePeers(nodes)

	peers := nodes["card0"].Peers
	if len(peers) != 2 || peers[0].CardName != "card1" || peers[1].CardName != "card0" {
		t.Fatalf("unexpected peer order: %+v", peers)
	}
}

func TestParseDevIDOverrides(t *testing.T) {
	overrides, err := parseDevIDOverrides("0000.03:00.0->0x744c,0000.43:00.0->0x74a1")
	if err != nil {
		t.Fatalf("parseDevIDOverrides: %v", err)
	}

	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(overrides))
	}

	if overrides[0].Bus != 0x03 || overrides[0].DeviceID != 0x744c {
		t.Fatalf("unexpected override: %+v", overrides[0])
	}
}

func TestParseDevIDOverridesInvalidEntry(t *testing.T) {
	if _, err := parseDevIDOverrides("garbage"); err == nil {
		t.Fatal("expected error for malformed override entry")
	}
}

func TestParseDevIDOverridesEmpty(t *testing.T) {
	overrides, err := parseDevIDOverrides("")
	if err != nil || overrides != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", overrides, err)
	}
}

func TestApplyDevIDOverridesMatchesLocationID(t *testing.T) {
	nodes := []*KFDNode{
		{ID: 1, Properties: KFDNodeProperties{Domain: 0, LocationID: 0x0300, DeviceID: 0x1234}},
	}

	overrides := []devIDOverride{{Domain: 0, Bus: 0x03, Device: 0, Func: 0, DeviceID: 0x744c}}

	applyDevIDOverrides(nodes, overrides)

	if nodes[0].Properties.DeviceID != 0x744c {
		t.Fatalf("expected override to apply, got %#x", nodes[0].Properties.DeviceID)
	}
}

func TestDevIDOverridesFromEnvAbsent(t *testing.T) {
	overrides, err := devIDOverridesFromEnv(func(string) (string, bool) { return "", false })
	if err != nil || overrides != nil {
		t.Fatalf("expected (nil, nil) when unset, got (%v, %v)", overrides, err)
	}
}

func TestAssignXCCDieIDsWithoutTableSingleXCC(t *testing.T) {
	nodes := []*KFDNode{{ID: 1, Properties: KFDNodeProperties{NumXCC: 1}}}

	xccIDs, err := assignXCCDieIDs(nodes, nil)
	if err != nil {
		t.Fatalf("assignXCCDieIDs: %v", err)
	}

	if len(xccIDs) != 1 || len(xccIDs[0]) != 1 || xccIDs[0][0] != 0 {
		t.Fatalf("unexpected xccIDs: %v", xccIDs)
	}
}

func TestAssignXCCDieIDsWithoutTableMultiXCCFails(t *testing.T) {
	nodes := []*KFDNode{{ID: 1, Properties: KFDNodeProperties{NumXCC: 4}}}

	if _, err := assignXCCDieIDs(nodes, nil); err == nil {
		t.Fatal("expected error when num_xcc>1 with no IP-discovery table")
	}
}

func TestAssignXCCDieIDsWithTableSpreadsAcrossNodes(t *testing.T) {
	nodes := []*KFDNode{
		{ID: 1, Properties: KFDNodeProperties{NumXCC: 2}},
		{ID: 2, Properties: KFDNodeProperties{NumXCC: 2}},
	}

	table := &IPDiscoveryTable{
		Dies: []Die{
			{ID: 0, GCInstances: []IPInstance{{NumInstance: 0}, {NumInstance: 1}}},
			{ID: 1, GCInstances: []IPInstance{{NumInstance: 2}, {NumInstance: 3, Harvested: true}}},
		},
	}

	xccIDs, err := assignXCCDieIDs(nodes, table)
	if err != nil {
		t.Fatalf("assignXCCDieIDs: %v", err)
	}

	if len(xccIDs[0]) != 2 || xccIDs[0][0] != 0 || xccIDs[0][1] != 1 {
		t.Fatalf("unexpected node 0 xccIDs: %v", xccIDs[0])
	}

	if len(xccIDs[1]) != 1 || xccIDs[1][0] != 2 {
		t.Fatalf("unexpected node 1 xccIDs: %v", xccIDs[1])
	}
}

func TestEnumerateSyntheticTree(t *testing.T) {
	root := t.TempDir()

	kfdRoot := filepath.Join(root, "kfd")
	drmRoot := filepath.Join(root, "drm")
	pciRoot := filepath.Join(root, "pci")

	writeFile(t, filepath.Join(kfdRoot, "1", "properties"),
		"simd_count 256\nlocation_id 768\ndomain 0\ndrm_render_minor 128\nnum_xcc 1\ndevice_id 29857\n")
	writeFile(t, filepath.Join(kfdRoot, "1", "gpu_id"), "22136\n")

	writeFile(t, filepath.Join(drmRoot, "card0", "device", "mem_info_vram_total"), "17179869184\n")

	_ = pciRoot

	eng, err := Enumerate(Paths{KFDTopologyRoot: kfdRoot, DRMRoot: drmRoot, PCIDevicesRoot: pciRoot})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	if len(eng.Devices) != 1 || len(eng.Partitions) != 1 {
		t.Fatalf("expected 1 device/partition, got %d/%d", len(eng.Devices), len(eng.Partitions))
	}

	p := eng.Partitions[0]
	if p.GlobalID != 0 || p.KFDNode.GPUID != 22136 || p.DRMNode.CardName != "card0" {
		t.Fatalf("unexpected partition: %+v", p)
	}
}

func TestLoadDRMNodesAliasesRenderName(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "card0", "device", "mem_info_vram_total"), "111\n")
	writeFile(t, filepath.Join(root, "card0", "device", "drm", "card0", "x"), "")
	writeFile(t, filepath.Join(root, "card0", "device", "drm", "renderD128", "x"), "")
	writeFile(t, filepath.Join(root, "renderD128", "device", "drm", "card0", "x"), "")
	writeFile(t, filepath.Join(root, "renderD128", "device", "drm", "renderD128", "x"), "")

	nodes, err := loadDRMNodes(root)
	if err != nil {
		t.Fatalf("loadDRMNodes: %v", err)
	}

	card, ok := nodes["card0"]
	if !ok {
		t.Fatal("expected card0 in nodes")
	}

	render, ok := nodes["renderD128"]
	if !ok {
		t.Fatal("expected renderD128 alias in nodes")
	}

	if card != render {
		t.Fatalf("expected renderD128 to alias the same *DRMNode as card0, got %+v vs %+v", card, render)
	}
}

func TestEnumerateMultiGPUResolvesRenderMinor(t *testing.T) {
	root := t.TempDir()

	kfdRoot := filepath.Join(root, "kfd")
	drmRoot := filepath.Join(root, "drm")
	pciRoot := filepath.Join(root, "pci")

	writeFile(t, filepath.Join(kfdRoot, "1", "properties"),
		"simd_count 256\nlocation_id 768\ndomain 0\ndrm_render_minor 128\nnum_xcc 1\ndevice_id 1\n")
	writeFile(t, filepath.Join(kfdRoot, "1", "gpu_id"), "100\n")

	writeFile(t, filepath.Join(kfdRoot, "2", "properties"),
		"simd_count 256\nlocation_id 17152\ndomain 0\ndrm_render_minor 129\nnum_xcc 1\ndevice_id 2\n")
	writeFile(t, filepath.Join(kfdRoot, "2", "gpu_id"), "200\n")

	for _, card := range []struct{ card, render string }{{"card0", "renderD128"}, {"card1", "renderD129"}} {
		writeFile(t, filepath.Join(drmRoot, card.card, "device", "mem_info_vram_total"), "1\n")
		writeFile(t, filepath.Join(drmRoot, card.card, "device", "drm", card.card, "x"), "")
		writeFile(t, filepath.Join(drmRoot, card.card, "device", "drm", card.render, "x"), "")
		writeFile(t, filepath.Join(drmRoot, card.render, "device", "drm", card.card, "x"), "")
		writeFile(t, filepath.Join(drmRoot, card.render, "device", "drm", card.render, "x"), "")
	}

	eng, err := Enumerate(Paths{KFDTopologyRoot: kfdRoot, DRMRoot: drmRoot, PCIDevicesRoot: pciRoot})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	if len(eng.Devices) != 2 || len(eng.Partitions) != 2 {
		t.Fatalf("expected 2 devices/partitions, got %d/%d", len(eng.Devices), len(eng.Partitions))
	}

	byGPUID := make(map[uint32]string)
	for _, p := range eng.Partitions {
		byGPUID[p.KFDNode.GPUID] = p.DRMNode.CardName
	}

	if byGPUID[100] != "card0" || byGPUID[200] != "card1" {
		t.Fatalf("expected render-minor resolution to pick each partition's own card, got %+v", byGPUID)
	}
}

func TestEnumerateMultiXCCWithoutIPDiscoveryFails(t *testing.T) {
	root := t.TempDir()

	kfdRoot := filepath.Join(root, "kfd")
	drmRoot := filepath.Join(root, "drm")

	writeFile(t, filepath.Join(kfdRoot, "1", "properties"),
		"simd_count 256\nlocation_id 768\ndomain 0\ndrm_render_minor 128\nnum_xcc 4\ndevice_id 29857\n")
	writeFile(t, filepath.Join(kfdRoot, "1", "gpu_id"), "22136\n")

	writeFile(t, filepath.Join(drmRoot, "card0", "device", "mem_info_vram_total"), "1\n")

	_, err := Enumerate(Paths{KFDTopologyRoot: kfdRoot, DRMRoot: drmRoot, PCIDevicesRoot: filepath.Join(root, "pci")})
	if err == nil {
		t.Fatal("expected enumeration to fail without an IP-discovery table for a multi-XCC node")
	}
}
