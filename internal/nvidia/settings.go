package nvidia

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"headless-oc/internal/tuning"
)

// DefaultCoolBits unlocks manual fan control (4), clock offsets (8) and
// overvoltage (16).
const DefaultCoolBits = 28

var errNoDisplay = errors.New("nvidia: no display attached")

// ApplyError reports that nvidia-settings exited non-zero for one device.
type ApplyError struct {
	Device   Device
	ExitCode int
	Output   string
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("nvidia: configuring GPU:%d failed: exit status %d", e.Device.Index, e.ExitCode)
}

// GenerateDisplayConfig writes a synthetic xorg.conf covering every GPU to
// path, with empty initial configuration allowed so X starts without a
// monitor.
func (c *Client) GenerateDisplayConfig(ctx context.Context, path string, coolBits int) error {
	res, err := c.exec.Run(ctx, c.tools.XConfig,
		"--enable-all-gpus",
		"--cool-bits="+strconv.Itoa(coolBits),
		"--allow-empty-initial-configuration",
		"--output-xconfig="+path)
	if err != nil {
		return fmt.Errorf("nvidia: generate display config: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("nvidia: generate display config: exit status %d, output: %s", res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}

// runSettings runs nvidia-settings under the attached X server.
func (c *Client) runSettings(ctx context.Context, args []string) (Result, error) {
	if c.server == nil {
		return Result{}, errNoDisplay
	}
	name, xargs, err := c.server.Command(c.tools.Settings, args)
	if err != nil {
		return Result{}, err
	}
	return c.exec.Run(ctx, name, xargs...)
}

// nvidia-settings -q [gpu:0]/GPUPerfModes:
//
//	Attribute 'GPUPerfModes' (host:1[gpu:0]): perf=0, nvclock=139, ... ; perf=1, ... ; perf=3, ...
var perfModeRe = regexp.MustCompile(`\bperf=(\d+)`)

func parsePerfModes(out string) []int {
	seen := make(map[int]bool)
	var levels []int
	for _, m := range perfModeRe.FindAllStringSubmatch(out, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		levels = append(levels, n)
	}
	return levels
}

// QueryPerformanceLevels lists the performance levels the driver reports for
// d. No match yields an empty list rather than an error.
func (c *Client) QueryPerformanceLevels(ctx context.Context, d Device) ([]int, error) {
	res, err := c.runSettings(ctx, []string{"-q", fmt.Sprintf("[gpu:%d]/GPUPerfModes", d.Index)})
	if err != nil {
		return nil, fmt.Errorf("nvidia: query performance levels on GPU:%d: %w", d.Index, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("nvidia: query performance levels on GPU:%d: exit status %d", d.Index, res.ExitCode)
	}
	return parsePerfModes(res.Output), nil
}

// HighestLevel returns the largest level, or 0 when there are none.
func HighestLevel(levels []int) int {
	top := 0
	for _, l := range levels {
		if l > top {
			top = l
		}
	}
	return top
}

// ResolvePerformanceLevel queries d once and picks the level offsets are
// written to. Failures fall back to level 0.
func ResolvePerformanceLevel(ctx context.Context, q Discoverer, d Device) (int, error) {
	levels, err := q.QueryPerformanceLevels(ctx, d)
	if err != nil {
		return 0, err
	}
	return HighestLevel(levels), nil
}

// ApplySettings runs nvidia-settings with args for d. A non-zero exit is
// returned as *ApplyError.
func (c *Client) ApplySettings(ctx context.Context, d Device, args tuning.Arguments) error {
	if len(args) == 0 {
		return nil
	}
	res, err := c.runSettings(ctx, args)
	if err != nil {
		return fmt.Errorf("nvidia: configuring GPU:%d: %w", d.Index, err)
	}
	if res.ExitCode != 0 {
		return &ApplyError{Device: d, ExitCode: res.ExitCode, Output: strings.TrimSpace(res.Output)}
	}
	return nil
}
