package runner

import (
	"fmt"

	"headless-oc/internal/nvidia"
	"headless-oc/internal/tuning"
)

// DeviceResult records what happened to one GPU.
type DeviceResult struct {
	Device nvidia.Device
	// Configured is false when the GPU has no entry in the configuration.
	Configured bool
	PerfLevel  int

	Rejected []tuning.Rejection
	// PowerMizerQuirk is set when PowerMizer was enabled only because an
	// invalid clock or memory offset key was present.
	PowerMizerQuirk bool

	PowerLimit *int
	PowerErr   error

	Args     tuning.Arguments
	ApplyErr error
}

// Failed reports whether any subprocess for this device failed.
func (d DeviceResult) Failed() bool {
	return d.PowerErr != nil || d.ApplyErr != nil
}

// Report summarises a run.
type Report struct {
	State   State
	Devices []DeviceResult
}

// Failures counts devices with at least one failed apply step.
func (r Report) Failures() int {
	n := 0
	for _, d := range r.Devices {
		if d.Failed() {
			n++
		}
	}
	return n
}

// String renders a one-line summary for the CLI.
func (d DeviceResult) String() string {
	switch {
	case !d.Configured:
		return fmt.Sprintf("%s: skipped (no configuration)", d.Device)
	case d.Failed():
		return fmt.Sprintf("%s: failed", d.Device)
	case len(d.Args) == 0 && d.PowerLimit == nil:
		return fmt.Sprintf("%s: nothing applied", d.Device)
	default:
		return fmt.Sprintf("%s: ok", d.Device)
	}
}
