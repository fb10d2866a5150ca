// Package runner sequences one configuration run: privilege check, GPU
// discovery, persistence mode, display config, performance levels and then the
// per-device apply steps.
package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"headless-oc/internal/config"
	"headless-oc/internal/host"
	"headless-oc/internal/nvidia"
	"headless-oc/internal/tuning"
	"headless-oc/internal/xdisplay"
)

// GPU is the vendor tooling a run needs. *nvidia.Client implements it.
type GPU interface {
	nvidia.Discoverer
	EnablePersistence(ctx context.Context) error
	GenerateDisplayConfig(ctx context.Context, path string, coolBits int) error
	AttachDisplay(srv xdisplay.Server)
	PowerRange(ctx context.Context, d nvidia.Device) *tuning.Range
	SetPowerLimit(ctx context.Context, d nvidia.Device, watts int) error
	ApplySettings(ctx context.Context, d nvidia.Device, args tuning.Arguments) error
}

var _ GPU = (*nvidia.Client)(nil)

type Options struct {
	// XInit is the resolved xinit executable.
	XInit string
	// DryRun resolves everything but does not change persistence mode, power
	// limits or nvidia-settings attributes.
	DryRun bool
	// ListOnly stops after discovery.
	ListOnly bool
	// RequireRoot defaults to host.RequireRoot.
	RequireRoot func() error
}

// Run holds the state of a single run. It is created once and used once.
type Run struct {
	gpu  GPU
	cfg  config.Config
	opts Options
	log  *slog.Logger

	state   State
	devices []nvidia.Device
	levels  map[string]int
	scratch *xdisplay.Scratch
}

func New(gpu GPU, cfg config.Config, opts Options, log *slog.Logger) *Run {
	if opts.RequireRoot == nil {
		opts.RequireRoot = host.RequireRoot
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Run{gpu: gpu, cfg: cfg, opts: opts, log: log, levels: make(map[string]int)}
}

func (r *Run) State() State {
	return r.state
}

// Devices returns the GPUs found during discovery.
func (r *Run) Devices() []nvidia.Device {
	return r.devices
}

func (r *Run) enter(s State) {
	r.log.Debug("run state", "from", r.state.String(), "to", s.String())
	r.state = s
}

// Execute performs the run. A returned error is fatal; per-device failures
// are only recorded in the report.
func (r *Run) Execute(ctx context.Context) (Report, error) {
	if r.state != NotStarted {
		return Report{State: r.state}, errors.New("runner: run already executed")
	}
	defer func() {
		if err := r.scratch.Close(); err != nil {
			r.log.Warn("scratch cleanup failed", "err", err)
		}
	}()

	if err := r.opts.RequireRoot(); err != nil {
		return Report{State: r.state}, err
	}
	r.enter(RootCheckPassed)

	r.log.Info("identifying installed GPUs")
	devices, err := r.gpu.DiscoverDevices(ctx)
	if err != nil {
		return Report{State: r.state}, err
	}
	r.devices = devices
	r.enter(DevicesDiscovered)
	r.log.Info("detected GPUs", "count", len(devices))
	for _, d := range devices {
		r.log.Info("gpu", "gpu", d)
	}
	if r.opts.ListOnly {
		r.enter(Done)
		return Report{State: r.state}, nil
	}

	if r.opts.DryRun {
		r.log.Info("dry run: not enabling persistence mode")
	} else if err := r.gpu.EnablePersistence(ctx); err != nil {
		r.log.Warn("could not set GPUs to persistent mode", "err", err)
	}
	r.enter(PersistenceEnabled)

	if err := r.prepareDisplay(ctx); err != nil {
		return Report{State: r.state}, err
	}
	r.enter(DisplayConfigReady)

	r.resolveLevels(ctx)
	r.enter(PerfLevelsResolved)

	r.enter(Applying)
	report := Report{Devices: make([]DeviceResult, 0, len(r.devices))}
	for _, d := range r.devices {
		if err := ctx.Err(); err != nil {
			report.State = r.state
			return report, err
		}
		report.Devices = append(report.Devices, r.apply(ctx, d))
	}

	r.enter(Done)
	report.State = r.state
	if n := report.Failures(); n > 0 {
		r.log.Warn("run finished with errors", "failed_gpus", n)
	} else {
		r.log.Info("run finished")
	}
	return report, nil
}

func (r *Run) prepareDisplay(ctx context.Context) error {
	scratch, err := xdisplay.NewScratch(r.cfg.Display.ScratchDir)
	if err != nil {
		return err
	}
	r.scratch = scratch

	if r.cfg.Display.Template != "" {
		r.log.Info("rendering display config template", "template", r.cfg.Display.Template)
		data := xdisplay.TemplateData{EDID: r.cfg.Display.EDID}
		for _, d := range r.devices {
			data.Devices = append(data.Devices, xdisplay.TemplateDevice{
				Index: d.Index, UUID: d.UUID, Name: d.Name, BusID: d.BusID,
			})
		}
		b, err := xdisplay.RenderTemplateFile(r.cfg.Display.Template, data)
		if err != nil {
			return err
		}
		if err := scratch.Write(b); err != nil {
			return err
		}
	} else {
		r.log.Info("generating display config", "cool_bits", r.cfg.Display.CoolBits)
		if err := r.gpu.GenerateDisplayConfig(ctx, scratch.Path(), r.cfg.Display.CoolBits); err != nil {
			return err
		}
	}

	r.gpu.AttachDisplay(xdisplay.Server{
		XInit:      r.opts.XInit,
		Display:    r.cfg.Display.Number,
		ConfigPath: scratch.Path(),
	})
	return nil
}

// resolveLevels queries each configured GPU once. Unconfigured GPUs are left
// alone since nothing will be written to them.
func (r *Run) resolveLevels(ctx context.Context) {
	for _, d := range r.devices {
		if _, ok := r.cfg.Settings(d.UUID); !ok {
			continue
		}
		level, err := nvidia.ResolvePerformanceLevel(ctx, r.gpu, d)
		if err != nil {
			r.log.Warn("could not query performance levels, using level 0", "gpu", d, "err", err)
		}
		r.levels[d.UUID] = level
		r.log.Debug("performance level resolved", "gpu", d, "level", level)
	}
}

func (r *Run) apply(ctx context.Context, d nvidia.Device) DeviceResult {
	res := DeviceResult{Device: d}
	log := r.log.With("gpu", d)

	s, ok := r.cfg.Settings(d.UUID)
	if !ok {
		log.Warn("no configuration for gpu, skipped")
		return res
	}
	res.Configured = true
	res.PerfLevel = r.levels[d.UUID]

	var powerRange *tuning.Range
	if s.PowerLimit != nil {
		powerRange = r.gpu.PowerRange(ctx, d)
	}
	v := s.Validate(powerRange)
	res.Rejected = v.Rejected
	for _, rej := range v.Rejected {
		log.Warn("setting not applied", "setting", string(rej.Setting), "value", rej.Value, "reason", rej.Reason())
	}

	if v.PowerLimit != nil {
		res.PowerLimit = v.PowerLimit
		if r.opts.DryRun {
			log.Info("dry run: would set power limit", "watts", *v.PowerLimit)
		} else if err := r.gpu.SetPowerLimit(ctx, d, *v.PowerLimit); err != nil {
			res.PowerErr = err
			log.Error("setting power limit failed", "watts", *v.PowerLimit, "err", err)
		} else {
			log.Info("power limit set", "watts", *v.PowerLimit)
		}
	}

	res.Args = tuning.Assemble(d.Index, res.PerfLevel, s, v)
	if tuning.PowerMizerQuirk(s, v) {
		res.PowerMizerQuirk = true
		log.Warn("enabling PowerMizer although no clock or memory offset is valid")
	}
	if len(res.Args) == 0 {
		log.Info("nothing to apply through nvidia-settings")
		return res
	}

	if r.opts.DryRun {
		log.Info("dry run: would run nvidia-settings", "args", res.Args.String())
		return res
	}
	log.Info("configuring gpu", "args", res.Args.String(), "perf_level", res.PerfLevel)
	if err := r.gpu.ApplySettings(ctx, d, res.Args); err != nil {
		res.ApplyErr = err
		var applyErr *nvidia.ApplyError
		if errors.As(err, &applyErr) {
			log.Error("errors occurred while configuring the device", "exit_code", applyErr.ExitCode, "output", applyErr.Output)
		} else {
			log.Error("errors occurred while configuring the device", "err", err)
		}
		return res
	}
	log.Info("gpu configured")
	return res
}
