package xlator

// PDE is a page-directory entry decoded from 64 raw bits. BaseAddress
// points at either the next level's table or, when AsPTE is set, is
// reinterpreted as a leaf.
type PDE struct {
	Valid             bool
	System            bool
	Coherent          bool
	BaseAddress       uint64
	AsPTE             bool
	BlockFragmentSize uint8
	Raw               uint64
}

// DecodePDE decodes a 64-bit page-directory entry per the fixed bit
// layout: base_address is bits 47:6 shifted left by 6.
func DecodePDE(raw uint64) PDE {
	return PDE{
		Valid:             sliceBits(raw, 0, 0) != 0,
		System:            sliceBits(raw, 1, 1) != 0,
		Coherent:          sliceBits(raw, 2, 2) != 0,
		BaseAddress:       sliceBits(raw, 47, 6) << 6,
		AsPTE:             sliceBits(raw, 54, 54) != 0,
		BlockFragmentSize: uint8(sliceBits(raw, 63, 59)),
		Raw:               raw,
	}
}

// PTE is a leaf page-table entry decoded from 64 raw bits.
type PTE struct {
	Valid            bool
	System           bool
	Coherent         bool
	TMZ              bool
	Execute          bool
	Read             bool
	Write            bool
	Fragment         uint8
	BaseAddress      uint64
	Tiled            bool
	SW               uint8
	AsPTE            bool
	Log              bool
	TranslateFurther bool
	MType            uint8
	Raw              uint64
}

// DecodePTE decodes a 64-bit leaf page-table entry: base_address is bits
// 47:12 shifted left by 12.
func DecodePTE(raw uint64) PTE {
	return PTE{
		Valid:            sliceBits(raw, 0, 0) != 0,
		System:           sliceBits(raw, 1, 1) != 0,
		Coherent:         sliceBits(raw, 2, 2) != 0,
		TMZ:              sliceBits(raw, 3, 3) != 0,
		Execute:          sliceBits(raw, 4, 4) != 0,
		Read:             sliceBits(raw, 5, 5) != 0,
		Write:            sliceBits(raw, 6, 6) != 0,
		Fragment:         uint8(sliceBits(raw, 11, 7)),
		BaseAddress:      sliceBits(raw, 47, 12) << 12,
		Tiled:            sliceBits(raw, 51, 51) != 0,
		SW:               uint8(sliceBits(raw, 53, 52)),
		AsPTE:            sliceBits(raw, 54, 54) != 0,
		Log:              sliceBits(raw, 55, 55) != 0,
		TranslateFurther: sliceBits(raw, 56, 56) != 0,
		MType:            uint8(sliceBits(raw, 58, 57)),
		Raw:              raw,
	}
}

// flagsEqual reports whether every flag field coalescing cares about
// matches between two leaf entries (base_address and fragment-local
// offsets are compared separately by the caller).
func flagsEqual(a, b PTE) bool {
	return a.Valid == b.Valid &&
		a.System == b.System &&
		a.Coherent == b.Coherent &&
		a.TMZ == b.TMZ &&
		a.Execute == b.Execute &&
		a.Read == b.Read &&
		a.Write == b.Write &&
		a.Fragment == b.Fragment &&
		a.Tiled == b.Tiled &&
		a.SW == b.SW &&
		a.AsPTE == b.AsPTE &&
		a.Log == b.Log &&
		a.TranslateFurther == b.TranslateFurther &&
		a.MType == b.MType
}

// Fragment is one translated, aligned slice of address space: Size is a
// power of two and both VA and PA are multiples of it.
type Fragment struct {
	VA, PA uint64
	Size   uint64
	Flags  PTE
}
