// Package xlator walks the GPU's software page tables: given a VMID's
// register aperture, it reproduces the memory controller's own
// translation pipeline to turn a GPU virtual address into a physical one.
package xlator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rocsift/rocsift-go/internal/access"
	"github.com/rocsift/rocsift-go/internal/regs"
	"github.com/rocsift/rocsift-go/rocerr"
)

const maxDepth = 4 // PT_MAX_DEPTH(3) + 1

var ErrTranslateFurtherSize = errors.New("translate-further requires a 2 MiB leaf")

// Translator walks one VMID's page tables on one partition. VMID
// identifies which of the 16 hardware address spaces to translate
// through; the register offsets and XCC aperture come from the
// partition's chip family.
type Translator struct {
	VMID       int
	Offsets    regs.Offsets
	BaseOffset uint64
	MMIO       *access.MMIOAccessor
	VRAM       access.ReadWriter
	SystemRAM  access.ReadWriter
}

type cacheEntry struct {
	addr  uint64
	raw   uint64
	valid bool
}

// Translate walks the page tables for va and returns the fragment it
// falls in: the aligned VA/PA pair, the fragment's power-of-two size,
// and the leaf PTE's decoded flags.
func (t *Translator) Translate(ctx context.Context, va uint64) (Fragment, error) {
	pre, err := readPreamble(t.MMIO, t.Offsets, t.BaseOffset, t.VMID)
	if err != nil {
		return Fragment{}, err
	}

	normVA := va - pre.PTStart
	vaRange := pre.PTEnd - pre.PTStart + 4096

	var cache [maxDepth]cacheEntry

	base := pre.PTBase

	var lastPDE PDE

	pdeIsPTE := false

	depth := int(pre.PTDepth)
	for depth >= 0 {
		if err := ctx.Err(); err != nil {
			return Fragment{}, err
		}

		pde := DecodePDE(base)
		lastPDE = pde

		if pde.AsPTE {
			pdeIsPTE = true
			depth--

			break
		}

		childBase := pde.BaseAddress
		if !pde.System {
			childBase -= pre.FBOffset
		}

		shift := levelPDESizeShift(depth, pre.PTBlockSize)
		numPDEs := levelNumPDEs(depth, pre.PTDepth, vaRange, pre.PTBlockSize)
		pdeIdx := (normVA >> shift) & (numPDEs - 1)
		childAddr := childBase + pdeIdx*8

		if cache[depth].valid && cache[depth].addr == childAddr {
			base = cache[depth].raw
		} else {
			raw, err := t.readEntry(childAddr, pde.System)
			if err != nil {
				return Fragment{}, err
			}

			base = raw
			cache[depth] = cacheEntry{addr: childAddr, raw: raw, valid: true}
		}

		depth--
	}

	pte := DecodePTE(base)

	var size uint64
	if pdeIsPTE {
		if depth == -1 {
			size = 1 << (pre.PTBlockSize + 21)
		} else {
			size = 512 * 8
		}
	} else {
		size = 1 << (uint(lastPDE.BlockFragmentSize) + 12)
	}

	if pte.Valid && !lastPDE.AsPTE && pte.TranslateFurther {
		if size != 1<<21 {
			return Fragment{}, rocerr.New(rocerr.Error, "xlator.Translate",
				fmt.Errorf("%w: got %#x", ErrTranslateFurtherSize, size))
		}

		const numPTEs = 512

		pteIdx := (normVA >> 12) & (numPTEs - 1)
		size /= numPTEs

		fPDE := DecodePDE(base)
		pteAddr := fPDE.BaseAddress + pteIdx*8

		raw, err := t.readEntry(pteAddr, fPDE.System)
		if err != nil {
			return Fragment{}, err
		}

		pte = DecodePTE(raw)
	}

	mask := size - 1

	return Fragment{
		VA:    va &^ mask,
		PA:    pte.BaseAddress,
		Size:  size,
		Flags: pte,
	}, nil
}

func (t *Translator) readEntry(addr uint64, system bool) (uint64, error) {
	var buf [8]byte

	backend := t.VRAM
	if system {
		backend = t.SystemRAM
	}

	n, err := backend.Read(addr, buf[:])
	if err != nil {
		return 0, err
	}

	if n != 8 {
		return 0, rocerr.New(rocerr.Error, "xlator.readEntry", access.ErrShortReadWrite)
	}

	return leUint64(buf[:]), nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}
