package regs

import "fmt"

// Offsets is one chip family's VM context register layout.
type Offsets struct {
	PTBaseLo32  uint64
	PTBaseHi32  uint64
	PTStartLo32 uint64
	PTStartHi32 uint64
	PTEndLo32   uint64
	PTEndHi32   uint64
	CNTL        uint64
	FBOffset    uint64
}

var (
	offsetsMI3xx = Offsets{
		PTBaseLo32:  0xA32C,
		PTBaseHi32:  0xA330,
		PTStartLo32: 0xA3AC,
		PTStartHi32: 0xA3B0,
		PTEndLo32:   0xA42C,
		PTEndHi32:   0xA430,
		CNTL:        0xA180,
		FBOffset:    0xA51C,
	}
	offsetsVega20MI200 = Offsets{
		PTBaseLo32:  0xA3AC,
		PTBaseHi32:  0xA3B0,
		PTStartLo32: 0xA42C,
		PTStartHi32: 0xA430,
		PTEndLo32:   0xA4AC,
		PTEndHi32:   0xA4B0,
		CNTL:        0xA200,
		FBOffset:    0xA5AC,
	}
)

// PerVMIDStride64 is the byte stride between two VMIDs' 64-bit base/start/end
// registers.
const PerVMIDStride64 = 8

// PerVMIDStride32 is the byte stride between two VMIDs' 32-bit control
// register.
const PerVMIDStride32 = 4

// PerXCCStride is the byte stride added per XCC die ID.
const PerXCCStride = 0x40000

// OffsetsFor returns the register-offset table for deviceID, or an error if
// deviceID does not belong to one of the two families that carry a
// translator register layout.
func OffsetsFor(deviceID uint32) (Offsets, error) {
	switch FamilyOf(deviceID) {
	case FamilyMI3xx:
		return offsetsMI3xx, nil
	case FamilyVega20MI200:
		return offsetsVega20MI200, nil
	default:
		return Offsets{}, fmt.Errorf("device_id %#04x not currently supported", deviceID)
	}
}

// GFXHubOffset computes the per-XCC register base offset used for every
// register access through a partition: addr = 0x40000*xcc_die_id + offset.
func GFXHubOffset(xccDieID int) uint64 {
	return PerXCCStride * uint64(xccDieID)
}
