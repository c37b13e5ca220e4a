package topology

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rocsift/rocsift-go/internal/rlog"
	"github.com/rocsift/rocsift-go/rocerr"
)

// parseKFDProperties parses a KFD topology node's whitespace "key value"
// properties file. Unrecognised keys are ignored; missing keys default to
// zero in the returned struct.
func parseKFDProperties(path string) (KFDNodeProperties, error) {
	f, err := os.Open(path)
	if err != nil {
		return KFDNodeProperties{}, rocerr.New(rocerr.Error, "topology.parseKFDProperties", err)
	}
	defer f.Close()

	var props KFDNodeProperties

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}

		v, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}

		switch fields[0] {
		case "cpu_cores_count":
			props.CPUCoresCount = uint32(v)
		case "simd_count":
			props.SIMDCount = uint32(v)
		case "device_id":
			props.DeviceID = uint32(v)
		case "vendor_id":
			props.VendorID = uint32(v)
		case "location_id":
			props.LocationID = uint32(v)
		case "domain":
			props.Domain = uint32(v)
		case "drm_render_minor":
			props.DRMRenderMinor = uint32(v)
		case "num_xcc":
			props.NumXCC = uint32(v)
		}
	}

	if err := scanner.Err(); err != nil {
		return KFDNodeProperties{}, rocerr.New(rocerr.Error, "topology.parseKFDProperties", err)
	}

	return props, nil
}

func readDecimalFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// loadKFDNodes reads every numeric subdirectory of topologyRoot into a
// KFDNode, skipping nodes that report no compute units.
func loadKFDNodes(topologyRoot string) ([]*KFDNode, error) {
	entries, err := os.ReadDir(topologyRoot)
	if err != nil {
		return nil, rocerr.New(rocerr.Error, "topology.loadKFDNodes", err)
	}

	var nodes []*KFDNode

	for _, e := range entries {
		id, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		dir := filepath.Join(topologyRoot, e.Name())

		props, err := parseKFDProperties(filepath.Join(dir, "properties"))
		if err != nil {
			return nil, err
		}

		if props.SIMDCount == 0 {
			continue
		}

		gpuID, err := readDecimalFile(filepath.Join(dir, "gpu_id"))
		if err != nil {
			return nil, rocerr.New(rocerr.Error, "topology.loadKFDNodes", err)
		}

		nodes = append(nodes, &KFDNode{ID: id, Properties: props, GPUID: uint32(gpuID)})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return nodes, nil
}

// loadIPDiscoveryTable parses <pciRoot>/ip_discovery/die/<n>/<ip>/<inst>/*
// for one device, or returns (nil, nil) if the device has no ip_discovery
// directory (not every chip family exposes one).
func loadIPDiscoveryTable(pciDeviceRoot string) (*IPDiscoveryTable, error) {
	dieRoot := filepath.Join(pciDeviceRoot, "ip_discovery", "die")

	dieEntries, err := os.ReadDir(dieRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, rocerr.New(rocerr.Error, "topology.loadIPDiscoveryTable", err)
	}

	var dies []Die

	for _, de := range dieEntries {
		if !de.IsDir() {
			continue
		}

		dieID, err := strconv.Atoi(de.Name())
		if err != nil {
			continue
		}

		diePath := filepath.Join(dieRoot, de.Name())

		gc, err := loadGCInstances(filepath.Join(diePath, "GC"))
		if err != nil {
			return nil, err
		}

		dies = append(dies, Die{ID: dieID, GCInstances: gc})
	}

	sort.Slice(dies, func(i, j int) bool { return dies[i].ID < dies[j].ID })

	return &IPDiscoveryTable{Dies: dies}, nil
}

func loadGCInstances(gcRoot string) ([]IPInstance, error) {
	entries, err := os.ReadDir(gcRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, rocerr.New(rocerr.Error, "topology.loadGCInstances", err)
	}

	var insts []IPInstance

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		instPath := filepath.Join(gcRoot, e.Name())

		numInstance, err := readDecimalFile(filepath.Join(instPath, "num_instance"))
		if err != nil {
			return nil, rocerr.New(rocerr.Error, "topology.loadGCInstances", err)
		}

		harvest, err := readDecimalFile(filepath.Join(instPath, "harvest"))
		if err != nil {
			return nil, rocerr.New(rocerr.Error, "topology.loadGCInstances", err)
		}

		insts = append(insts, IPInstance{NumInstance: uint8(numInstance), Harvested: harvest != 0})
	}

	sort.Slice(insts, func(i, j int) bool { return insts[i].NumInstance < insts[j].NumInstance })

	return insts, nil
}

// loadDRMNode parses one /sys/class/drm/card<N> directory into a DRMNode,
// including XGMI hive membership when present.
func loadDRMNode(cardPath string) (*DRMNode, error) {
	node := &DRMNode{CardName: filepath.Base(cardPath)}

	if v, err := readDecimalFile(filepath.Join(cardPath, "device", "mem_info_vram_total")); err == nil {
		node.VRAMTotalBytes = v
	}

	devIDPath := filepath.Join(cardPath, "device", "xgmi_device_id")
	if _, err := os.Stat(devIDPath); err != nil {
		return node, nil
	}

	devID, err := readDecimalFile(devIDPath)
	if err != nil {
		return nil, rocerr.New(rocerr.Error, "topology.loadDRMNode", err)
	}

	node.XGMI.DeviceID = devID

	if v, err := readDecimalFile(filepath.Join(cardPath, "device", "xgmi_physical_id")); err == nil {
		node.XGMI.PhysicalID = v
	}

	hiveIDPath := filepath.Join(cardPath, "device", "xgmi_hive_info", "xgmi_hive_id")

	hiveID, err := readDecimalFile(hiveIDPath)
	if err != nil {
		rlog.Debugf("topology: %s has no xgmi hive info: %v", node.CardName, err)
		return node, nil
	}

	node.XGMI.HiveID = hiveID

	hiveInfoRoot := filepath.Join(cardPath, "device", "xgmi_hive_info")

	peerEntries, err := os.ReadDir(hiveInfoRoot)
	if err != nil {
		return node, nil
	}

	for _, pe := range peerEntries {
		if !pe.IsDir() {
			continue
		}

		drmSub := filepath.Join(hiveInfoRoot, pe.Name(), "drm")

		cardEntries, err := os.ReadDir(drmSub)
		if err != nil {
			continue
		}

		for _, ce := range cardEntries {
			if strings.HasPrefix(ce.Name(), "card") {
				node.XGMI.PeerCardNames = append(node.XGMI.PeerCardNames, ce.Name())
			}
		}
	}

	return node, nil
}

// loadDRMNodes parses every card directory under drmRoot, then keys the
// returned map by every sibling DRM minor name (renderD*, controlD*) as
// well as the card name itself, so a KFD node's drm_render_minor resolves
// straight to the card that owns it.
func loadDRMNodes(drmRoot string) (map[string]*DRMNode, error) {
	entries, err := os.ReadDir(drmRoot)
	if err != nil {
		return nil, rocerr.New(rocerr.Error, "topology.loadDRMNodes", err)
	}

	cardNodes := make(map[string]*DRMNode)

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "card") {
			continue
		}

		node, err := loadDRMNode(filepath.Join(drmRoot, e.Name()))
		if err != nil {
			return nil, err
		}

		cardNodes[node.CardName] = node
	}

	nodes := make(map[string]*DRMNode, len(cardNodes))
	for name, node := range cardNodes {
		nodes[name] = node
	}

	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), "card") {
			continue
		}

		cardName := siblingCardName(filepath.Join(drmRoot, e.Name()))
		if node, ok := cardNodes[cardName]; ok {
			nodes[e.Name()] = node
		}
	}

	return nodes, nil
}

// siblingCardName resolves the card directory name sharing one DRM
// minor's underlying device, by reading <entryPath>/device/drm - every
// minor of one physical GPU (card0, renderD128, ...) has a "device"
// symlink to the same PCI device directory, whose drm/ subdirectory
// lists all of them as siblings. Returns "" if the linkage isn't there.
func siblingCardName(entryPath string) string {
	drmSub := filepath.Join(entryPath, "device", "drm")

	entries, err := os.ReadDir(drmSub)
	if err != nil {
		return ""
	}

	for _, de := range entries {
		if strings.HasPrefix(de.Name(), "card") {
			return de.Name()
		}
	}

	return ""
}

// resolvePeers turns every DRMNode's XGMI.PeerCardNames into Peers,
// sorted by PhysicalID.
func resolvePeers(nodes map[string]*DRMNode) {
	for _, n := range nodes {
		if n.XGMI.HiveID == 0 {
			continue
		}

		// nodes also holds each card under its render/control alias names;
		// start over so a node visited again does not collect its peers twice.
		n.Peers = nil

		for _, name := range n.XGMI.PeerCardNames {
			if peer, ok := nodes[name]; ok {
				n.Peers = append(n.Peers, peer)
			}
		}

		sort.Slice(n.Peers, func(i, j int) bool {
			return n.Peers[i].XGMI.PhysicalID < n.Peers[j].XGMI.PhysicalID
		})

		n.XGMI.Peers = n.Peers
	}
}
