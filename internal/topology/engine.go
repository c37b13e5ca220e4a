package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rocsift/rocsift-go/internal/rlog"
	"github.com/rocsift/rocsift-go/rocerr"
)

// Paths holds the sysfs roots Enumerate reads from. The zero value is not
// usable; use DefaultPaths for a real system or build a Paths pointing at
// a synthetic tree in tests.
type Paths struct {
	KFDTopologyRoot string
	DRMRoot         string
	PCIDevicesRoot  string
}

// DefaultPaths returns the real kernel sysfs locations documented for this
// system.
func DefaultPaths() Paths {
	return Paths{
		KFDTopologyRoot: "/sys/class/kfd/kfd/topology/nodes",
		DRMRoot:         "/sys/class/drm",
		PCIDevicesRoot:  "/sys/bus/pci/devices",
	}
}

// Engine is the enumerated set of devices and partitions, with global and
// per-device indices already assigned.
type Engine struct {
	Devices    []*Device
	Partitions []*Partition
}

// Enumerate runs the five-step enumeration protocol: load compute-capable
// KFD nodes, bucket them into devices by bus+device, read each device's
// IP-discovery table to assign XCC die IDs, resolve each partition's DRM
// node, and assign global partition indices in enumeration order.
func Enumerate(paths Paths) (*Engine, error) {
	overrides, err := devIDOverridesFromEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	nodes, err := loadKFDNodes(paths.KFDTopologyRoot)
	if err != nil {
		return nil, err
	}

	applyDevIDOverrides(nodes, overrides)

	drmNodes, err := loadDRMNodes(paths.DRMRoot)
	if err != nil {
		return nil, err
	}

	resolvePeers(drmNodes)

	buckets := bucketByBusDevice(nodes)

	engine := &Engine{}

	globalID := 0

	for _, key := range sortedBucketKeys(buckets) {
		device, err := buildDevice(paths, len(engine.Devices), key, buckets[key], drmNodes)
		if err != nil {
			return nil, err
		}

		for _, p := range device.Partitions {
			p.GlobalID = globalID
			globalID++
			engine.Partitions = append(engine.Partitions, p)
		}

		engine.Devices = append(engine.Devices, device)
	}

	return engine, nil
}

// PartitionByGlobalID returns the partition with the given global index,
// or (nil, false) if out of range.
func (e *Engine) PartitionByGlobalID(id int) (*Partition, bool) {
	if id < 0 || id >= len(e.Partitions) {
		return nil, false
	}

	return e.Partitions[id], true
}

type busDeviceKey struct {
	Domain       uint32
	BusDevice    uint32 // location_id & ~0x7
}

func bucketByBusDevice(nodes []*KFDNode) map[busDeviceKey][]*KFDNode {
	buckets := make(map[busDeviceKey][]*KFDNode)

	for _, n := range nodes {
		key := busDeviceKey{Domain: n.Properties.Domain, BusDevice: n.Properties.LocationID &^ 0x7}
		buckets[key] = append(buckets[key], n)
	}

	return buckets
}

func sortedBucketKeys(buckets map[busDeviceKey][]*KFDNode) []busDeviceKey {
	keys := make([]busDeviceKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Domain != keys[j].Domain {
			return keys[i].Domain < keys[j].Domain
		}

		return keys[i].BusDevice < keys[j].BusDevice
	})

	return keys
}

func buildDevice(paths Paths, instance int, key busDeviceKey, nodes []*KFDNode, drmNodes map[string]*DRMNode) (*Device, error) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	bus := (key.BusDevice >> 8) & 0xff
	pciDevice := (key.BusDevice >> 3) & 0x1f
	fn := nodes[0].Properties.LocationID & 0x7

	device := &Device{
		Domain:    key.Domain,
		Bus:       bus,
		PCIDevice: pciDevice,
		Function:  fn,
		Instance:  instance,
	}

	pciDeviceDir := fmt.Sprintf("%04x:%02x:%02x.%x", key.Domain, bus, pciDevice, fn)

	table, err := loadIPDiscoveryTable(filepath.Join(paths.PCIDevicesRoot, pciDeviceDir))
	if err != nil {
		return nil, err
	}

	xccIDs, err := assignXCCDieIDs(nodes, table)
	if err != nil {
		return nil, err
	}

	for i, n := range nodes {
		drmName := fmt.Sprintf("renderD%d", n.Properties.DRMRenderMinor)

		drm := lookupDRMByRenderName(drmNodes, drmName)
		if drm == nil {
			return nil, rocerr.New(rocerr.OutOfRange, "topology.buildDevice",
				fmt.Errorf("no DRM node found for render minor %d", n.Properties.DRMRenderMinor))
		}

		partition := &Partition{
			LocalID:   i,
			XCCDieIDs: xccIDs[i],
			Device:    device,
			DRMNode:   drm,
			KFDNode:   n,
		}
		drm.Partition = partition

		device.Partitions = append(device.Partitions, partition)
	}

	return device, nil
}

// lookupDRMByRenderName resolves a drm_render_minor-derived name like
// "renderD128" against drmNodes, which loadDRMNodes keys by every DRM
// minor name (card and render alike) that shares one device. The
// single-node fallback covers trees where the render alias couldn't be
// resolved (no device/drm linkage) and there is nothing else it could be.
func lookupDRMByRenderName(drmNodes map[string]*DRMNode, drmName string) *DRMNode {
	if n, ok := drmNodes[drmName]; ok {
		return n
	}

	if len(drmNodes) == 1 {
		for _, n := range drmNodes {
			return n
		}
	}

	return nil
}

// assignXCCDieIDs implements the per-device XCC die-ID assignment: walk
// the IP-discovery table's non-harvested GC instances in die order,
// handing each one's NumInstance to the next KFD node (in nodes order)
// that still has capacity (num_xcc). Without a table, every multi-XCC
// node is fatal; single-XCC nodes default to [0].
func assignXCCDieIDs(nodes []*KFDNode, table *IPDiscoveryTable) ([][]int, error) {
	xccIDs := make([][]int, len(nodes))

	if table == nil {
		for i, n := range nodes {
			if n.Properties.NumXCC > 1 {
				return nil, rocerr.New(rocerr.Error, "topology.assignXCCDieIDs",
					fmt.Errorf("node %d reports num_xcc=%d but no IP-discovery table was found",
						n.ID, n.Properties.NumXCC))
			}

			xccIDs[i] = []int{0}
		}

		return xccIDs, nil
	}

	current := 0

	for _, die := range table.Dies {
		for _, inst := range die.GCInstances {
			if inst.Harvested {
				continue
			}

			placed := false

			for ; current < len(nodes); current++ {
				if len(xccIDs[current]) < int(nodes[current].Properties.NumXCC) {
					xccIDs[current] = append(xccIDs[current], int(inst.NumInstance))
					placed = true

					break
				}
			}

			if !placed {
				rlog.Warnf("topology: GC instance %d has no KFD node with remaining XCC capacity", inst.NumInstance)
			}
		}
	}

	return xccIDs, nil
}
