package pm4

import (
	"errors"
	"fmt"

	"github.com/rocsift/rocsift-go/internal/rlog"
	"github.com/rocsift/rocsift-go/rocerr"
)

var (
	ErrInvalidPacketType   = errors.New("packet type field out of range")
	ErrUndersizedEntry     = errors.New("entry dword count exceeds available data")
	ErrEmptyEntryData      = errors.New("attempted to parse entry from empty dword slice")
	ErrEntryLengthMismatch = errors.New("cumulative entry lengths do not match available dword count")
)

// sliceBits extracts bits [msb:lsb] from val, mirroring the C original's
// slice()/get_bits() helpers.
func sliceBits(val uint32, msb, lsb int) uint32 {
	mask := uint32((uint64(1)<<msb)-1)*2 + 1

	return (val & mask) >> lsb
}

// decodeHeader decodes one PM4 entry header dword: [31:30] packet type − 1,
// [29:16] count-1, [15:8] opcode, [7:0] reserved.
func decodeHeader(header uint32) (EntryHeader, error) {
	reserved := sliceBits(header, 7, 0)
	if reserved != 0 {
		rlog.Warnf("pm4: reserved bits non-zero in header %#08x: %#x", header, reserved)
	}

	ptype := sliceBits(header, 31, 30) - 1
	if ptype > 2 {
		return EntryHeader{}, rocerr.New(rocerr.Error, "pm4.decodeHeader",
			fmt.Errorf("%w: %#x", ErrInvalidPacketType, ptype))
	}

	return EntryHeader{
		Type:   PacketType(ptype),
		Opcode: uint8(sliceBits(header, 15, 8)),
		Count:  sliceBits(header, 29, 16) + 1,
	}, nil
}

// bodySlice extracts bits [msb:lsb] from dword index (1-based relative to
// the full entry, i.e. dword 2 is the first body dword) of the body data
// (which is indexed from 0 = the first body dword = entry dword 2). A
// dword past the end of a short body reads as zero.
func bodySlice(body []uint32, dwordIndex, msb, lsb int) uint32 {
	if dwordIndex-2 >= len(body) {
		return 0
	}

	return sliceBits(body[dwordIndex-2], msb, lsb)
}

func decodeMapProcess(body []uint32) MapProcessBody {
	return MapProcessBody{
		PASID:                          bodySlice(body, 2, 15, 0),
		SingleMemop:                    bodySlice(body, 2, 16, 16) != 0,
		DebugVMID:                      uint16(bodySlice(body, 2, 21, 18)),
		DebugFlag:                      bodySlice(body, 2, 22, 22) != 0,
		TMZ:                            bodySlice(body, 2, 23, 23) != 0,
		DIQEnable:                      bodySlice(body, 2, 24, 24) != 0,
		ProcessQuantum:                 uint8(bodySlice(body, 2, 31, 25)),
		VMContextPageTableBaseAddrLo32: bodySlice(body, 3, 31, 0),
		VMContextPageTableBaseAddrHi32: bodySlice(body, 4, 31, 0),
		SHMemBases:                     bodySlice(body, 5, 31, 0),
		SHMemConfig:                    bodySlice(body, 6, 31, 0),
		SQShaderTBALo:                  bodySlice(body, 7, 31, 0),
		SQShaderTBAHi:                  bodySlice(body, 8, 31, 0),
		SQShaderTMALo:                  bodySlice(body, 9, 31, 0),
		SQShaderTMAHi:                  bodySlice(body, 10, 31, 0),
		GDSAddrLo:                      bodySlice(body, 12, 31, 0),
		GDSAddrHi:                      bodySlice(body, 13, 31, 0),
		NumGWS:                         uint8(bodySlice(body, 14, 6, 0)),
		SDMAEnable:                     bodySlice(body, 14, 7, 7) != 0,
		NumOAC:                         uint8(bodySlice(body, 14, 11, 8)),
		GDSSizeHi:                      uint8(bodySlice(body, 14, 15, 12)),
		GDSSizeLo:                      uint8(bodySlice(body, 14, 21, 16)),
		NumQueues:                      uint16(bodySlice(body, 14, 31, 22)),
		SPIGDBGPerVMIDCntl:             bodySlice(body, 15, 31, 0),
		TCPWatch0Cntl:                  bodySlice(body, 16, 31, 0),
		TCPWatch1Cntl:                  bodySlice(body, 17, 31, 0),
		TCPWatch2Cntl:                  bodySlice(body, 18, 31, 0),
		TCPWatch3Cntl:                  bodySlice(body, 19, 31, 0),
		CompletionSignalLo32:           bodySlice(body, 20, 31, 0),
		CompletionSignalHi32:           bodySlice(body, 21, 31, 0),
	}
}

func decodeMapQueues(body []uint32) MapQueuesBody {
	return MapQueuesBody{
		ExtendedEngineSel: uint8(bodySlice(body, 2, 3, 2)),
		QueueSel:          uint8(bodySlice(body, 2, 5, 4)),
		VMID:              uint8(bodySlice(body, 2, 11, 8)),
		GWSEnabled:        bodySlice(body, 2, 12, 12) != 0,
		Queue:             uint8(bodySlice(body, 2, 20, 13)),
		QueueType:         uint8(bodySlice(body, 2, 23, 21)),
		StaticQueueGroup:  uint8(bodySlice(body, 2, 25, 24)),
		EngineSel:         uint8(bodySlice(body, 2, 28, 26)),
		NumQueues:         uint8(bodySlice(body, 2, 31, 29)),
		CheckDisable:      bodySlice(body, 3, 1, 1) != 0,
		DoorbellOffset:    bodySlice(body, 3, 27, 2),
		MQDAddrLo:         bodySlice(body, 4, 31, 0),
		MQDAddrHi:         bodySlice(body, 5, 31, 0),
		WPTRAddrLo:        bodySlice(body, 6, 31, 0),
		WPTRAddrHi:        bodySlice(body, 7, 31, 0),
	}
}

// parseEntry decodes a single PM4 entry from data, where data[0] is the
// header dword and data[1:] is the body.
func parseEntry(data []uint32) (Entry, error) {
	if len(data) == 0 {
		return Entry{}, rocerr.New(rocerr.Error, "pm4.parseEntry", ErrEmptyEntryData)
	}

	header, err := decodeHeader(data[0])
	if err != nil {
		return Entry{}, err
	}

	if uint32(len(data)-1) < header.Count {
		return Entry{}, rocerr.New(rocerr.Error, "pm4.parseEntry",
			fmt.Errorf("%w: opcode %#02x", ErrUndersizedEntry, header.Opcode))
	}

	entry := Entry{Header: header}

	if header.Type != Type3 {
		return entry, nil
	}

	body := data[1:]

	switch header.Opcode {
	case OpMapProcess:
		b := decodeMapProcess(body)
		entry.Body = &b
	case OpMapQueues:
		b := decodeMapQueues(body)
		entry.Body = &b
	default:
		rlog.Warnf("pm4: preserving undecoded body for opcode %#02x", header.Opcode)
		entry.Body = RawBody(append([]uint32(nil), body...))
	}

	return entry, nil
}

// parseEntries splits a runlist's raw dword stream into framed entries,
// verifying the cumulative entry lengths exactly match the available
// dword count.
func parseEntries(dwords []uint32) ([]Entry, error) {
	if len(dwords) == 0 {
		return nil, nil
	}

	var entrySizes []int

	total := 0
	for total < len(dwords) {
		bodySize := int(sliceBits(dwords[total], 29, 16)) + 1
		size := bodySize + 1
		total += size

		entrySizes = append(entrySizes, size)
	}

	if total != len(dwords) {
		return nil, rocerr.New(rocerr.Error, "pm4.parseEntries",
			fmt.Errorf("%w: got %d, want %d", ErrEntryLengthMismatch, total, len(dwords)))
	}

	entries := make([]Entry, 0, len(entrySizes))

	start := 0

	for _, size := range entrySizes {
		entry, err := parseEntry(dwords[start : start+size])
		if err != nil {
			return nil, err
		}

		if entry.Header.Type != Type3 {
			rlog.Warnf("pm4: unsupported packet TYPE%d, only TYPE3 is supported", entry.Header.Type)
		}

		entries = append(entries, entry)
		start += size
	}

	return entries, nil
}
