// Package topology enumerates AMD GPU devices and their compute
// partitions from KFD topology, DRM, and IP-discovery sysfs trees.
package topology

import (
	"strconv"
	"strings"
	"sync"
)

// KFDNodeProperties is a parsed record of one KFD topology node's
// properties file. Only the keys the rest of the system consumes are
// kept; any missing key defaults to zero.
type KFDNodeProperties struct {
	CPUCoresCount  uint32
	SIMDCount      uint32
	DeviceID       uint32
	VendorID       uint32
	LocationID     uint32
	Domain         uint32
	DRMRenderMinor uint32
	NumXCC         uint32
}

// KFDNode is one node directory under the KFD topology tree.
type KFDNode struct {
	ID         int
	Properties KFDNodeProperties
	GPUID      uint32
}

// IPInstance is one GC (graphics/compute) instance entry from a device's
// IP-discovery die.
type IPInstance struct {
	NumInstance uint8
	Harvested   bool
}

// Die is one IP-discovery die, holding the GC instances relevant to
// partition assignment.
type Die struct {
	ID          int
	GCInstances []IPInstance
}

// IPDiscoveryTable is the parsed ip_discovery/die tree for one device.
type IPDiscoveryTable struct {
	Dies []Die
}

// XGMIInfo is the per-DRM-node XGMI hive membership, if any.
type XGMIInfo struct {
	HiveID     uint64
	DeviceID   uint64
	PhysicalID uint64
	// PeerCardNames lists the DRM card directory names of every node in
	// the hive (this node included), in the order sysfs reported them;
	// resolvePeers sorts them by PhysicalID and resolves them to *DRMNode,
	// mirroring the result into both DRMNode.Peers and Peers here so
	// package xgmi can walk a hive through the XGMIInfo value alone.
	PeerCardNames []string
	Peers         []*DRMNode
}

// DRMNode is one /sys/class/drm/card<N> entry.
type DRMNode struct {
	CardName       string
	VRAMTotalBytes uint64
	XGMI           XGMIInfo
	// Peers is populated by the engine after all DRM nodes are parsed,
	// sorted by XGMI.PhysicalID, this node included.
	Peers []*DRMNode
	// Partition is set once Enumerate assigns this DRM node to a
	// partition, letting xgmi.Remap resolve a peer node straight back to
	// the accessor that owns it.
	Partition *Partition
}

// CardNumber parses the trailing integer off CardName ("card7" -> 7),
// which doubles as the debugfs dri/<N> directory index for the same GPU.
func (d *DRMNode) CardNumber() (int, error) {
	return strconv.Atoi(strings.TrimPrefix(d.CardName, "card"))
}

// Device is a physical GPU identified by PCI domain+BDF. It owns the
// partitions carved out of its KFD nodes.
type Device struct {
	Domain     uint32
	Bus        uint32
	PCIDevice  uint32
	Function   uint32
	Instance   int
	Partitions []*Partition
}

// Partition is a spatial slice of a Device: one KFD node's worth of
// compute, with the XCC die IDs it owns and its DRM/KFD node references.
// The embedded Mutex guards the three-register SMN index/data sequence;
// MMIO register access itself is safe without it across partitions.
type Partition struct {
	sync.Mutex

	LocalID   int
	GlobalID  int
	XCCDieIDs []int
	Device    *Device
	DRMNode   *DRMNode
	KFDNode   *KFDNode
}
