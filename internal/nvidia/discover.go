package nvidia

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoDevices means there is nothing to configure on this host.
var ErrNoDevices = errors.New("nvidia: no GPUs detected")

const uuidPattern = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

// nvidia-smi -L:
//
//	GPU 0: NVIDIA GeForce GTX 1070 (UUID: GPU-04546190-b68d-65ac-101b-035f8faed77d)
var smiListRe = regexp.MustCompile(`(?m)^GPU (\d+): (.+?) \(UUID: GPU-(` + uuidPattern + `)\)`)

// nvidia-xconfig --query-gpu-info:
//
//	GPU #0:
//	  Name      : GeForce GTX 1070
//	  UUID      : GPU-04546190-b68d-65ac-101b-035f8faed77d
//	  PCI BusID : PCI:1:0:0
var xconfigInfoRe = regexp.MustCompile(
	`GPU #(\d+):\s+` +
		`Name\s*:\s*([^\n]+?)\s*\n\s*` +
		`UUID\s*:\s*GPU-(` + uuidPattern + `)\s+` +
		`PCI BusID\s*:\s*PCI:(\S+)`)

func parseSMIList(out string) []Device {
	var devices []Device
	for _, m := range smiListRe.FindAllStringSubmatch(out, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		devices = append(devices, Device{
			Index: idx,
			Name:  strings.TrimSpace(m[2]),
			UUID:  strings.ToLower(m[3]),
		})
	}
	return devices
}

func parseXConfigInfo(out string) []Device {
	var devices []Device
	for _, m := range xconfigInfoRe.FindAllStringSubmatch(out, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		devices = append(devices, Device{
			Index: idx,
			Name:  strings.TrimSpace(m[2]),
			UUID:  strings.ToLower(m[3]),
			BusID: m[4],
		})
	}
	return devices
}

// crossValidate keeps the devices both passes agree on (same UUID and index).
// Names come from the primary pass and bus IDs from the secondary one.
func crossValidate(primary, secondary []Device) (kept, dropped []Device) {
	matched := make([]bool, len(primary))
	for _, s := range secondary {
		found := -1
		for i, p := range primary {
			if p.same(s) {
				found = i
				break
			}
		}
		if found < 0 {
			dropped = append(dropped, s)
			continue
		}
		matched[found] = true
		d := primary[found]
		d.BusID = s.BusID
		kept = append(kept, d)
	}
	for i, p := range primary {
		if !matched[i] {
			dropped = append(dropped, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Index < kept[j].Index })
	return kept, dropped
}

// DiscoverDevices enumerates GPUs with nvidia-smi and corroborates them with
// nvidia-xconfig. Devices reported by only one of the two are dropped.
func (c *Client) DiscoverDevices(ctx context.Context) ([]Device, error) {
	res, err := c.exec.Run(ctx, c.tools.SMI, "-L")
	if err != nil {
		return nil, fmt.Errorf("nvidia: run %s -L: %w", c.tools.SMI, err)
	}
	if res.ExitCode != 0 {
		// Exit status 9 is "NVIDIA driver is not loaded"; anything else is
		// still worth trying to parse.
		c.log.Warn("nvidia-smi -L failed", "exit_code", res.ExitCode, "output", strings.TrimSpace(res.Output))
	}
	primary := parseSMIList(res.Output)
	if len(primary) == 0 {
		return nil, fmt.Errorf("%w via '%s -L'", ErrNoDevices, c.tools.SMI)
	}

	res, err = c.exec.Run(ctx, c.tools.XConfig, "--query-gpu-info")
	if err != nil {
		return nil, fmt.Errorf("nvidia: run %s --query-gpu-info: %w", c.tools.XConfig, err)
	}
	if res.ExitCode != 0 {
		c.log.Warn("nvidia-xconfig --query-gpu-info failed", "exit_code", res.ExitCode, "output", strings.TrimSpace(res.Output))
	}
	secondary := parseXConfigInfo(res.Output)
	if len(secondary) == 0 {
		c.log.Warn("nvidia-xconfig reported no GPUs")
	}

	kept, dropped := crossValidate(primary, secondary)
	for _, d := range dropped {
		c.log.Warn("gpu not detected by both methods, ignoring it", "gpu", d)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w by both nvidia-smi and nvidia-xconfig", ErrNoDevices)
	}
	return kept, nil
}
