package nvidia

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"headless-oc/internal/tuning"
)

// EnablePersistence turns on driver persistence mode for all GPUs so the
// settings survive the X server exiting.
func (c *Client) EnablePersistence(ctx context.Context) error {
	res, err := c.exec.Run(ctx, c.tools.SMI, "-pm", "1")
	if err != nil {
		return fmt.Errorf("nvidia: enable persistence mode: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("nvidia: enable persistence mode: exit status %d, output: %s", res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}

// parsePowerRange parses
//
//	nvidia-smi --query-gpu=power.min_limit,power.max_limit --format=csv,noheader,nounits
//
// which prints e.g. "100.00, 200.00", or "[N/A], [N/A]" / "[Not Supported]"
// when the board does not allow changing the limit.
func parsePowerRange(out string) (tuning.Range, bool) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return tuning.Range{}, false
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return tuning.Range{}, false
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return tuning.Range{}, false
	}
	r := tuning.Range{Min: int(math.Ceil(lo)), Max: int(math.Floor(hi))}
	if r.Min > r.Max {
		return tuning.Range{}, false
	}
	return r, true
}

// PowerRange returns the power limit range in watts the device accepts, or
// nil when the query fails or the device does not support a power limit.
func (c *Client) PowerRange(ctx context.Context, d Device) *tuning.Range {
	res, err := c.exec.Run(ctx, c.tools.SMI,
		"-i", strconv.Itoa(d.Index),
		"--query-gpu=power.min_limit,power.max_limit",
		"--format=csv,noheader,nounits")
	if err != nil {
		c.log.Warn("power limit query failed", "gpu", d, "err", err)
		return nil
	}
	if res.ExitCode != 0 {
		c.log.Warn("power limit query failed", "gpu", d, "exit_code", res.ExitCode, "output", strings.TrimSpace(res.Output))
		return nil
	}
	r, ok := parsePowerRange(res.Output)
	if !ok {
		c.log.Info("power limit not supported", "gpu", d, "output", strings.TrimSpace(res.Output))
		return nil
	}
	return &r
}

// SetPowerLimit sets the board power limit in watts.
func (c *Client) SetPowerLimit(ctx context.Context, d Device, watts int) error {
	res, err := c.exec.Run(ctx, c.tools.SMI, "-i", strconv.Itoa(d.Index), "-pl", strconv.Itoa(watts))
	if err != nil {
		return fmt.Errorf("nvidia: set power limit on GPU:%d: %w", d.Index, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("nvidia: set power limit on GPU:%d: exit status %d, output: %s", d.Index, res.ExitCode, strings.TrimSpace(res.Output))
	}
	return nil
}
