package xlator

// sliceBits extracts bits [msb:lsb] (inclusive, lsb-justified) from val,
// the same fixed-width field extraction the original C walker performs
// with its get_bits()/slice() free functions.
func sliceBits(val uint64, msb, lsb int) uint64 {
	mask := ((uint64(1) << msb) - 1) * 2 + 1

	return (val & mask) >> lsb
}
