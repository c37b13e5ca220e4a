package regs

// MType names, grounded on include/rocsift/mtype.h.
const (
	MTypeNC       = "NC"
	MTypeWC       = "WC"
	MTypeRW       = "RW"
	MTypeCC       = "CC"
	MTypeUC       = "UC"
	MTypeCRWUS    = "C_RW_US"
	MTypeCRWS     = "C_RW_S"
	MTypeCROUS    = "C_RO_US"
	MTypeCROS     = "C_RO_S"
	MTypeReserved = "RESERVED"
)

var mi100MI200MI3xxMType = map[uint8]string{
	0: MTypeNC,
	1: MTypeRW,
	2: MTypeCC,
	3: MTypeUC,
}

var naviMType = map[uint8]string{
	0: MTypeCRWUS,
	1: MTypeReserved,
	2: MTypeCROS,
	3: MTypeUC,
	4: MTypeCRWS,
	5: MTypeReserved,
	6: MTypeCROUS,
	7: MTypeReserved,
}

// DecodeMType maps a PTE's 2- or 3-bit mtype field to its family-specific
// name. deviceID selects the table (MI100/MI200/MI3xx vs Navi1x/2x/3x); an
// unrecognised family or out-of-table value reports ok=false.
func DecodeMType(deviceID uint32, mtype uint8) (name string, ok bool) {
	switch {
	case isMI100(deviceID) || isMI200(deviceID) || isMI3xx(deviceID):
		name, ok = mi100MI200MI3xxMType[mtype]
	case isNavi10(deviceID) || isNavi21(deviceID) || isNavi31(deviceID):
		name, ok = naviMType[mtype]
	}

	return name, ok
}
