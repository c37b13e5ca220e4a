// Package regs holds the chip-family detection, per-family register-offset
// tables, and MType decode tables, shared between the page-table walker and
// the address-space resolver, since both need the same VM_CONTEXTx_*
// register addresses for a given device_id.
package regs

// Family identifies the chip family of a device_id. Only FamilyVega20MI200
// and FamilyMI3xx carry a translator register layout (see Supported).
type Family uint8

const (
	FamilyUnsupported Family = iota
	FamilyVega20MI200
	FamilyMI3xx
	FamilyNavi1x2x3x
)

// Known PCI device IDs, grounded on include/rocsift/chipid.h.
const (
	chipNavi10W5700X  = 0x7310
	chipNavi10W5700   = 0x7312
	chipNavi10_5700   = 0x731B
	chipNavi10_5600   = 0x731F
	chipNavi21V620    = 0x73A1
	chipNavi21W6900X  = 0x73A2
	chipNavi21W6800   = 0x73A3
	chipNavi21_6950XT = 0x73A5
	chipNavi21W6800X  = 0x73AB
	chipNavi21V620MX  = 0x73AE
	chipNavi21_6900XT = 0x73AF
	chipNavi21_6800XT = 0x73BF
	chipNavi31W7900   = 0x7448
	chipNavi31_7900XT = 0x744C
	chipNavi31W7800   = 0x745E

	chipVega20Instinct = 0x66A0
	chipVega20MI50     = 0x66A1
	chipVega20         = 0x66A2
	chipVega20VegaII   = 0x66A3
	chipVega20VII      = 0x66AF

	chipMI100_0 = 0x7388
	chipMI100_1 = 0x738C
	chipMI100_2 = 0x738E

	chipMI210          = 0x740F
	chipMI250X         = 0x7408
	chipMI250X_MI250   = 0x740C
	chipMI300X         = 0x74A1
	chipMI300X_SRIOV   = 0x74B5
	chipMI300X_HF      = 0x74A9
	chipMI300X_HF_VIOV = 0x74BD
	chipMI300A         = 0x74A0
	chipMI300A_SRIOV   = 0x74B4
	chipMI325X         = 0x74A5
	chipMI325X_SRIOV   = 0x74B9
)

func isVega20(id uint32) bool {
	switch id {
	case chipVega20Instinct, chipVega20MI50, chipVega20, chipVega20VegaII, chipVega20VII:
		return true
	default:
		return false
	}
}

func isMI100(id uint32) bool {
	switch id {
	case chipMI100_0, chipMI100_1, chipMI100_2:
		return true
	default:
		return false
	}
}

func isMI200(id uint32) bool {
	switch id {
	case chipMI210, chipMI250X, chipMI250X_MI250:
		return true
	default:
		return false
	}
}

func isMI300X(id uint32) bool {
	return id == chipMI300X || id == chipMI300X_SRIOV
}

func isMI300XHF(id uint32) bool {
	return id == chipMI300X_HF || id == chipMI300X_HF_VIOV
}

func isMI300A(id uint32) bool {
	return id == chipMI300A || id == chipMI300A_SRIOV
}

func isMI325X(id uint32) bool {
	return id == chipMI325X || id == chipMI325X_SRIOV
}

func isMI300(id uint32) bool {
	return isMI300A(id) || isMI300X(id) || isMI300XHF(id)
}

func isMI3xx(id uint32) bool {
	return isMI300(id) || isMI325X(id) || isMI300XHF(id)
}

func isNavi10(id uint32) bool {
	switch id {
	case chipNavi10W5700X, chipNavi10W5700, chipNavi10_5700, chipNavi10_5600:
		return true
	default:
		return false
	}
}

func isNavi21(id uint32) bool {
	switch id {
	case chipNavi21V620, chipNavi21W6900X, chipNavi21W6800, chipNavi21_6950XT,
		chipNavi21W6800X, chipNavi21V620MX, chipNavi21_6900XT, chipNavi21_6800XT:
		return true
	default:
		return false
	}
}

func isNavi31(id uint32) bool {
	switch id {
	case chipNavi31W7900, chipNavi31_7900XT, chipNavi31W7800:
		return true
	default:
		return false
	}
}

// FamilyOf classifies a 16-bit PCI device_id into the chip family that
// determines register offsets and MType decode. Only Vega20/MI200 and
// MI3xx families have a translator register layout; Navi parts are
// recognised for MType decode purposes only and are otherwise unsupported.
func FamilyOf(deviceID uint32) Family {
	switch {
	case isMI3xx(deviceID):
		return FamilyMI3xx
	case isVega20(deviceID) || isMI200(deviceID):
		return FamilyVega20MI200
	case isNavi10(deviceID) || isNavi21(deviceID) || isNavi31(deviceID):
		return FamilyNavi1x2x3x
	default:
		return FamilyUnsupported
	}
}

// Supported reports whether the translator can be built for deviceID at
// all: only Vega20/MI200 and MI3xx carry the register layout the walker
// depends on.
func Supported(deviceID uint32) bool {
	switch FamilyOf(deviceID) {
	case FamilyVega20MI200, FamilyMI3xx:
		return true
	default:
		return false
	}
}
