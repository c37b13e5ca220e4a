// Package sift is the public facade over rocsift-go's internal GPU
// introspection packages: topology enumeration, register/VRAM/system-RAM
// access, and page-table translation, composed the way vmm.VMM composes
// gokvm's machine/kvm/pci packages into one entry point.
package sift

import (
	"fmt"

	"github.com/rocsift/rocsift-go/internal/access"
	"github.com/rocsift/rocsift-go/internal/rlog"
	"github.com/rocsift/rocsift-go/internal/topology"
	"github.com/rocsift/rocsift-go/rocerr"
)

const (
	defaultDebugFSRoot = "/sys/kernel/debug/dri"
	defaultDevMemPath  = "/dev/mem"
	defaultRLSPath     = "/sys/kernel/debug/kfd/rls"
	defaultProcRoot    = "/sys/class/kfd/kfd/proc"
)

type config struct {
	paths       topology.Paths
	debugFSRoot string
	devMemPath  string
	rlsPath     string
	procRoot    string
}

func defaultConfig() config {
	return config{
		paths:       topology.DefaultPaths(),
		debugFSRoot: defaultDebugFSRoot,
		devMemPath:  defaultDevMemPath,
		rlsPath:     defaultRLSPath,
		procRoot:    defaultProcRoot,
	}
}

// Option customises Open. The zero-option call targets the real kernel
// surfaces; tests point individual roots at a synthetic tree instead.
type Option func(*config)

func WithTopologyPaths(p topology.Paths) Option { return func(c *config) { c.paths = p } }
func WithDebugFSRoot(path string) Option        { return func(c *config) { c.debugFSRoot = path } }
func WithDevMemPath(path string) Option         { return func(c *config) { c.devMemPath = path } }
func WithRLSPath(path string) Option            { return func(c *config) { c.rlsPath = path } }
func WithProcRoot(path string) Option           { return func(c *config) { c.procRoot = path } }

// Engine is the enumerated, live-wired view of every GPU partition on the
// system: topology metadata plus each partition's opened register, VRAM,
// and system-RAM accessors.
type Engine struct {
	cfg           config
	devices       []*Device
	partitions    []*Partition
	vramAccessors map[*topology.Partition]access.ReadWriter
}

// Open enumerates every device and partition and opens their debugfs
// accessors. A partition whose debugfs backends fail to open (commonly a
// permissions problem on one card) is logged and skipped rather than
// failing the whole call, so one bad card doesn't blind the rest of a
// multi-GPU box.
func Open(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	topo, err := topology.Enumerate(cfg.paths)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, vramAccessors: make(map[*topology.Partition]access.ReadWriter)}

	devicePartitions := make(map[*topology.Device][]*Partition)

	for _, tp := range topo.Partitions {
		p, err := newPartition(cfg, tp)
		if err != nil {
			rlog.Warnf("sift: skipping partition (global id %d): %v", tp.GlobalID, err)

			continue
		}

		p.engine = e

		e.partitions = append(e.partitions, p)
		e.vramAccessors[tp] = p.debugfs.VRAM

		devicePartitions[tp.Device] = append(devicePartitions[tp.Device], p)
	}

	for _, td := range topo.Devices {
		e.devices = append(e.devices, &Device{topo: td, partitions: devicePartitions[td]})
	}

	return e, nil
}

// Devices returns every enumerated device in enumeration order.
func (e *Engine) Devices() []*Device { return e.devices }

// Partitions returns every successfully opened partition in global-index
// order.
func (e *Engine) Partitions() []*Partition { return e.partitions }

// PartitionByGlobalID returns the partition with the given global index.
func (e *Engine) PartitionByGlobalID(id int) (*Partition, error) {
	for _, p := range e.partitions {
		if p.topo.GlobalID == id {
			return p, nil
		}
	}

	return nil, rocerr.New(rocerr.OutOfRange, "sift.PartitionByGlobalID",
		fmt.Errorf("no partition with global id %d", id))
}

// Close releases every partition's debugfs accessors.
func (e *Engine) Close() error {
	var firstErr error

	for _, p := range e.partitions {
		if err := p.debugfs.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Device is a physical GPU and the partitions carved out of it.
type Device struct {
	topo       *topology.Device
	partitions []*Partition
}

// Partitions returns this device's partitions in local-index order.
func (d *Device) Partitions() []*Partition { return d.partitions }

// Instance is the device's dense enumeration index (0, 1, 2, ...).
func (d *Device) Instance() int { return d.topo.Instance }
