package topology

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rocsift/rocsift-go/internal/rlog"
	"github.com/rocsift/rocsift-go/rocerr"
)

const devIDOverrideEnv = "ROCSIFT_DEVID_OVERRIDE"

var overrideEntryRe = regexp.MustCompile(
	`^([0-9a-fA-F]+)[.:]([0-9a-fA-F]+):([0-9a-fA-F]+)\.([0-9a-fA-F]+)->(?:0[xX])?([0-9a-fA-F]+)$`)

// devIDOverride is one parsed entry of ROCSIFT_DEVID_OVERRIDE: replace the
// device_id of any node whose PCI coordinates match Domain/Bus/Device/Func
// with DeviceID.
type devIDOverride struct {
	Domain, Bus, Device, Func, DeviceID uint32
}

// parseDevIDOverrides parses the comma-separated
// "<domain>.<bus>:<device>.<function>-><0xdevid>" list. An invalid entry
// fails the whole parse, matching the original's all-or-nothing behavior.
func parseDevIDOverrides(s string) ([]devIDOverride, error) {
	if s == "" {
		return nil, nil
	}

	var overrides []devIDOverride

	for _, entry := range strings.Split(s, ",") {
		m := overrideEntryRe.FindStringSubmatch(entry)
		if m == nil {
			return nil, rocerr.New(rocerr.Error, "topology.parseDevIDOverrides",
				fmt.Errorf("invalid devid override entry %q", entry))
		}

		parse := func(s string) uint32 {
			v, _ := strconv.ParseUint(s, 16, 32)
			return uint32(v)
		}

		overrides = append(overrides, devIDOverride{
			Domain:   parse(m[1]),
			Bus:      parse(m[2]),
			Device:   parse(m[3]),
			Func:     parse(m[4]),
			DeviceID: parse(m[5]),
		})
	}

	return overrides, nil
}

// applyDevIDOverrides rewrites the device_id of every node whose PCI
// coordinates (derived from location_id, per the bit layout below) match
// one of overrides. The location_id packs bus at [15:8], device at [7:3],
// function at [2:0].
func applyDevIDOverrides(nodes []*KFDNode, overrides []devIDOverride) {
	for _, n := range nodes {
		bus := (n.Properties.LocationID >> 8) & 0xff
		device := (n.Properties.LocationID >> 3) & 0x1f
		fn := n.Properties.LocationID & 0x7

		for _, o := range overrides {
			if o.Domain == n.Properties.Domain && o.Bus == bus && o.Device == device && o.Func == fn {
				rlog.Debugf("topology: devid override %04x:%02x:%02x.%x %#04x -> %#04x",
					o.Domain, o.Bus, o.Device, o.Func, n.Properties.DeviceID, o.DeviceID)
				n.Properties.DeviceID = o.DeviceID
			}
		}
	}
}

// devIDOverridesFromEnv reads and parses ROCSIFT_DEVID_OVERRIDE.
func devIDOverridesFromEnv(lookup func(string) (string, bool)) ([]devIDOverride, error) {
	v, ok := lookup(devIDOverrideEnv)
	if !ok {
		return nil, nil
	}

	return parseDevIDOverrides(v)
}
