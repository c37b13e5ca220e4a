package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rocsift/rocsift-go/internal/pm4"
	"github.com/rocsift/rocsift-go/sift"
)

// parseAddr accepts plain decimal or 0x-prefixed hex, the same shape
// ParseSize.ParseSize takes for -m/-T in this tool's predecessor.
func parseAddr(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

func openPartition(globalID int) (*sift.Engine, *sift.Partition, error) {
	eng, err := sift.Open()
	if err != nil {
		return nil, nil, err
	}

	p, err := eng.PartitionByGlobalID(globalID)
	if err != nil {
		eng.Close()

		return nil, nil, err
	}

	return eng, p, nil
}

type RegPeekCmd struct {
	Partition int    `help:"Partition global id." default:"0"`
	Reg       string `arg:"" help:"Register offset (decimal or 0x-prefixed hex)."`
}

func (c *RegPeekCmd) Run() error {
	reg, err := parseAddr(c.Reg)
	if err != nil {
		return err
	}

	eng, p, err := openPartition(c.Partition)
	if err != nil {
		return err
	}
	defer eng.Close()

	v, err := p.ReadMMIO32(reg)
	if err != nil {
		return err
	}

	fmt.Printf("%#08x: %#08x\n", reg, v)

	return nil
}

type RegPokeCmd struct {
	Partition int    `help:"Partition global id." default:"0"`
	Reg       string `arg:"" help:"Register offset (decimal or 0x-prefixed hex)."`
	Value     string `arg:"" help:"Value to write (decimal or 0x-prefixed hex)."`
}

func (c *RegPokeCmd) Run() error {
	reg, err := parseAddr(c.Reg)
	if err != nil {
		return err
	}

	value, err := parseAddr(c.Value)
	if err != nil {
		return err
	}

	eng, p, err := openPartition(c.Partition)
	if err != nil {
		return err
	}
	defer eng.Close()

	return p.WriteMMIO32(reg, uint32(value))
}

type DumpRLSCmd struct {
	Partition int `help:"Partition global id." default:"0"`
}

func (c *DumpRLSCmd) Run() error {
	eng, p, err := openPartition(c.Partition)
	if err != nil {
		return err
	}
	defer eng.Close()

	rl, err := p.ActiveRunlist()
	if err != nil {
		return err
	}

	fmt.Printf("node %d, gpu_id %#x: %d entries\n", rl.NodeID, rl.GPUID, len(rl.Entries))

	for i, e := range rl.Entries {
		fmt.Printf("  entry %d: type %d opcode %#02x\n", i, e.Header.Type, e.Header.Opcode)

		switch body := e.Body.(type) {
		case *pm4.MapProcessBody:
			fmt.Printf("    MAP_PROCESS pasid %#x pt_base %#016x\n", body.PASID, body.PTBase64())
		case *pm4.MapQueuesBody:
			fmt.Printf("    MAP_QUEUES vmid %d queue %d\n", body.VMID, body.Queue)
		}
	}

	return nil
}

type PSCmd struct{}

func (c *PSCmd) Run() error {
	eng, err := sift.Open()
	if err != nil {
		return err
	}
	defer eng.Close()

	for _, d := range eng.Devices() {
		fmt.Printf("device %d\n", d.Instance())

		for _, p := range d.Partitions() {
			fmt.Printf("  partition %d\n", p.GlobalID())
		}
	}

	return nil
}

type VA2PACmd struct {
	Partition int    `help:"Partition global id." default:"0"`
	PID       int    `help:"Resolve the translator from this process id."`
	PASID     int    `help:"Resolve the translator from this PASID."`
	VMID      int    `help:"Resolve the translator from this raw VMID."`
	Addr      string `arg:"" help:"Virtual address to translate (decimal or 0x-prefixed hex)."`
}

func (c *VA2PACmd) Run() error {
	addr, err := parseAddr(c.Addr)
	if err != nil {
		return err
	}

	eng, p, err := openPartition(c.Partition)
	if err != nil {
		return err
	}
	defer eng.Close()

	var tr *sift.Translator

	switch {
	case c.PID != 0:
		tr, err = p.TranslatorForPID(c.PID)
	case c.PASID != 0:
		tr, err = p.TranslatorForPASID(c.PASID)
	default:
		tr, err = p.TranslatorForVMID(c.VMID)
	}

	if err != nil {
		return err
	}

	frag, err := tr.Translate(context.Background(), addr)
	if err != nil {
		return err
	}

	fmt.Printf("%#016x -> %#016x (size %#x)\n", frag.VA, frag.PA, frag.Size)

	return nil
}
