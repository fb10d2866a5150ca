package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"headless-oc/internal/config"
	"headless-oc/internal/host"
	"headless-oc/internal/nvidia"
	"headless-oc/internal/tuning"
	"headless-oc/internal/xdisplay"
)

const (
	uuidA = "04546190-b68d-65ac-101b-035f8faed77d"
	uuidB = "5c1c3b9e-3e3a-7a6c-0b5f-6f1b7c2c4e11"
	uuidC = "11111111-2222-3333-4444-555555555555"
)

type fakeGPU struct {
	devices     []nvidia.Device
	discoverErr error
	levels      map[int][]int
	levelErr    map[int]error
	power       map[int]*tuning.Range
	persistErr  error
	generateErr error
	applyErr    map[int]error

	calls          []string
	server         *xdisplay.Server
	scratchPath    string
	attachedConfig string
	applied        map[int]tuning.Arguments
	powerSet       map[int]int
}

func (f *fakeGPU) record(s string) { f.calls = append(f.calls, s) }

func (f *fakeGPU) DiscoverDevices(context.Context) ([]nvidia.Device, error) {
	f.record("discover")
	return f.devices, f.discoverErr
}

func (f *fakeGPU) QueryPerformanceLevels(_ context.Context, d nvidia.Device) ([]int, error) {
	f.record("levels")
	if err := f.levelErr[d.Index]; err != nil {
		return nil, err
	}
	return f.levels[d.Index], nil
}

func (f *fakeGPU) EnablePersistence(context.Context) error {
	f.record("persistence")
	return f.persistErr
}

func (f *fakeGPU) GenerateDisplayConfig(_ context.Context, path string, _ int) error {
	f.record("generate")
	f.scratchPath = path
	return f.generateErr
}

func (f *fakeGPU) AttachDisplay(srv xdisplay.Server) {
	f.record("attach")
	f.server = &srv
	if b, err := os.ReadFile(srv.ConfigPath); err == nil {
		f.attachedConfig = string(b)
	}
}

func (f *fakeGPU) PowerRange(_ context.Context, d nvidia.Device) *tuning.Range {
	f.record("power_range")
	return f.power[d.Index]
}

func (f *fakeGPU) SetPowerLimit(_ context.Context, d nvidia.Device, watts int) error {
	f.record("set_power")
	if f.powerSet == nil {
		f.powerSet = map[int]int{}
	}
	f.powerSet[d.Index] = watts
	return nil
}

func (f *fakeGPU) ApplySettings(_ context.Context, d nvidia.Device, args tuning.Arguments) error {
	f.record("apply")
	if f.applied == nil {
		f.applied = map[int]tuning.Arguments{}
	}
	f.applied[d.Index] = args
	return f.applyErr[d.Index]
}

func rootOK() error { return nil }

func testConfig(t *testing.T, devices map[string]tuning.Settings) config.Config {
	t.Helper()
	return config.Config{
		Display: config.DisplayConfig{Number: 1, CoolBits: 28, ScratchDir: t.TempDir()},
		Devices: devices,
	}
}

func TestExecute_AppliesEveryConfiguredDevice(t *testing.T) {
	gpu := &fakeGPU{
		devices: []nvidia.Device{
			{UUID: uuidA, Index: 0, BusID: "1:0:0"},
			{UUID: uuidB, Index: 1, BusID: "2:0:0"},
		},
		levels: map[int][]int{0: {0, 1, 2, 3}},
		power:  map[int]*tuning.Range{0: {Min: 100, Max: 200}},
	}
	cfg := testConfig(t, map[string]tuning.Settings{
		uuidA: {PowerLimit: tuning.Int(150), FanSpeed: tuning.Int(100), ClockOffset: tuning.Int(20), MemoryOffset: tuning.Int(90)},
		uuidB: {FanSpeed: tuning.Int(60)},
	})

	run := New(gpu, cfg, Options{XInit: "/usr/bin/xinit", RequireRoot: rootOK}, nil)
	report, err := run.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.State != Done || run.State() != Done {
		t.Fatalf("state=%v want done", report.State)
	}
	if len(report.Devices) != 2 || report.Failures() != 0 {
		t.Fatalf("report=%+v", report)
	}

	want := "-a [gpu:0]/GPUFanControlState=1 -a [fan:0]/GPUTargetFanSpeed=100 -a [gpu:0]/GPUPowerMizerMode=1 " +
		"-a [gpu:0]/GPUGraphicsClockOffset[3]=20 -a [gpu:0]/GPUMemoryTransferRateOffset[3]=90"
	if got := gpu.applied[0].String(); got != want {
		t.Fatalf("gpu0 args=%q\nwant %q", got, want)
	}
	if got := gpu.applied[1].String(); got != "-a [gpu:1]/GPUFanControlState=1 -a [fan:1]/GPUTargetFanSpeed=60" {
		t.Fatalf("gpu1 args=%q", got)
	}
	if gpu.powerSet[0] != 150 {
		t.Fatalf("power=%v want 150 on GPU:0", gpu.powerSet)
	}
	if gpu.server == nil || gpu.server.ConfigPath != gpu.scratchPath || gpu.server.XInit != "/usr/bin/xinit" || gpu.server.Display != 1 {
		t.Fatalf("server=%+v scratch=%q", gpu.server, gpu.scratchPath)
	}
	if _, err := os.Stat(gpu.scratchPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("scratch config not removed: %v", err)
	}

	order := strings.Join(gpu.calls, ",")
	if !strings.HasPrefix(order, "discover,persistence,generate,attach,levels,levels,") {
		t.Fatalf("call order=%s", order)
	}
}

func TestExecute_NotRootIsFatal(t *testing.T) {
	gpu := &fakeGPU{}
	run := New(gpu, testConfig(t, nil), Options{RequireRoot: func() error { return host.ErrNotRoot }}, nil)
	_, err := run.Execute(context.Background())
	if !errors.Is(err, host.ErrNotRoot) {
		t.Fatalf("err=%v want ErrNotRoot", err)
	}
	if len(gpu.calls) != 0 {
		t.Fatalf("calls=%v want none", gpu.calls)
	}
	if run.State() != NotStarted {
		t.Fatalf("state=%v", run.State())
	}
}

func TestExecute_NoDevicesIsFatal(t *testing.T) {
	gpu := &fakeGPU{discoverErr: nvidia.ErrNoDevices}
	run := New(gpu, testConfig(t, nil), Options{RequireRoot: rootOK}, nil)
	_, err := run.Execute(context.Background())
	if !errors.Is(err, nvidia.ErrNoDevices) {
		t.Fatalf("err=%v want ErrNoDevices", err)
	}
	if run.State() != RootCheckPassed {
		t.Fatalf("state=%v want root_check_passed", run.State())
	}
}

func TestExecute_DisplayConfigFailureIsFatalAndCleansUp(t *testing.T) {
	gpu := &fakeGPU{
		devices:     []nvidia.Device{{UUID: uuidA, Index: 0}},
		generateErr: errors.New("nvidia-xconfig: boom"),
	}
	run := New(gpu, testConfig(t, map[string]tuning.Settings{uuidA: {FanSpeed: tuning.Int(50)}}), Options{RequireRoot: rootOK}, nil)
	if _, err := run.Execute(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if run.State() != PersistenceEnabled {
		t.Fatalf("state=%v", run.State())
	}
	if _, err := os.Stat(gpu.scratchPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("scratch config not removed on failure: %v", err)
	}
}

func TestExecute_SoftFailures(t *testing.T) {
	gpu := &fakeGPU{
		devices: []nvidia.Device{
			{UUID: uuidA, Index: 0},
			{UUID: uuidB, Index: 1},
			{UUID: uuidC, Index: 2},
		},
		persistErr: errors.New("exit status 4"),
		levelErr:   map[int]error{1: errors.New("xinit failed")},
		applyErr:   map[int]error{0: &nvidia.ApplyError{ExitCode: 1}},
	}
	cfg := testConfig(t, map[string]tuning.Settings{
		uuidA: {FanSpeed: tuning.Int(70)},
		uuidB: {ClockOffset: tuning.Int(100)},
	})
	run := New(gpu, cfg, Options{RequireRoot: rootOK}, nil)
	report, err := run.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.State != Done {
		t.Fatalf("state=%v want done", report.State)
	}
	if report.Failures() != 1 || !report.Devices[0].Failed() {
		t.Fatalf("failures=%d want GPU:0 only", report.Failures())
	}
	// Level query failed: offsets fall back to level 0 and the device is still applied.
	if got := gpu.applied[1].String(); got != "-a [gpu:1]/GPUPowerMizerMode=1 -a [gpu:1]/GPUGraphicsClockOffset[0]=100" {
		t.Fatalf("gpu1 args=%q", got)
	}
	if report.Devices[2].Configured {
		t.Fatalf("GPU:2 has no configuration and must be skipped")
	}
	if _, ok := gpu.applied[2]; ok {
		t.Fatalf("GPU:2 applied without configuration")
	}
}

func TestExecute_PowerUnsupportedSkipsPowerStep(t *testing.T) {
	gpu := &fakeGPU{devices: []nvidia.Device{{UUID: uuidA, Index: 0}}}
	cfg := testConfig(t, map[string]tuning.Settings{uuidA: {PowerLimit: tuning.Int(150)}})
	report, err := New(gpu, cfg, Options{RequireRoot: rootOK}, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(gpu.powerSet) != 0 {
		t.Fatalf("power set=%v want none", gpu.powerSet)
	}
	if len(gpu.applied) != 0 {
		t.Fatalf("applied=%v want none", gpu.applied)
	}
	if rej := report.Devices[0].Rejected; len(rej) != 1 || rej[0].Setting != tuning.PowerLimit {
		t.Fatalf("rejected=%v", rej)
	}
}

func TestExecute_InvalidOffsetStillEnablesPowerMizer(t *testing.T) {
	gpu := &fakeGPU{
		devices: []nvidia.Device{{UUID: uuidA, Index: 0}},
		levels:  map[int][]int{0: {0, 3}},
	}
	cfg := testConfig(t, map[string]tuning.Settings{uuidA: {ClockOffset: tuning.Int(5000)}})
	report, err := New(gpu, cfg, Options{RequireRoot: rootOK}, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := gpu.applied[0].String(); got != "-a [gpu:0]/GPUPowerMizerMode=1" {
		t.Fatalf("args=%q", got)
	}
	if !report.Devices[0].PowerMizerQuirk {
		t.Fatalf("expected quirk flagged in report")
	}
}

func TestExecute_DryRun(t *testing.T) {
	gpu := &fakeGPU{
		devices: []nvidia.Device{{UUID: uuidA, Index: 0}},
		power:   map[int]*tuning.Range{0: {Min: 100, Max: 200}},
	}
	cfg := testConfig(t, map[string]tuning.Settings{uuidA: {PowerLimit: tuning.Int(150), FanSpeed: tuning.Int(40)}})
	report, err := New(gpu, cfg, Options{DryRun: true, RequireRoot: rootOK}, nil).Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, c := range gpu.calls {
		if c == "persistence" || c == "set_power" || c == "apply" {
			t.Fatalf("dry run called %s", c)
		}
	}
	if len(report.Devices[0].Args) == 0 || report.Devices[0].PowerLimit == nil {
		t.Fatalf("dry run should still assemble: %+v", report.Devices[0])
	}
}

func TestExecute_ListOnly(t *testing.T) {
	gpu := &fakeGPU{devices: []nvidia.Device{{UUID: uuidA, Index: 0}}}
	run := New(gpu, testConfig(t, nil), Options{ListOnly: true, RequireRoot: rootOK}, nil)
	if _, err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.Join(gpu.calls, ",") != "discover" {
		t.Fatalf("calls=%v want discover only", gpu.calls)
	}
	if len(run.Devices()) != 1 || run.State() != Done {
		t.Fatalf("devices=%v state=%v", run.Devices(), run.State())
	}
}

func TestExecute_Template(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "xorg.conf.tmpl")
	if err := os.WriteFile(tmpl, []byte(`{{range .Devices}}BusID "PCI:{{.BusID}}"{{end}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	gpu := &fakeGPU{devices: []nvidia.Device{{UUID: uuidA, Index: 0, BusID: "1:0:0"}}}
	cfg := testConfig(t, map[string]tuning.Settings{uuidA: {FanSpeed: tuning.Int(50)}})
	cfg.Display.Template = tmpl

	run := New(gpu, cfg, Options{RequireRoot: rootOK}, nil)
	if _, err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, c := range gpu.calls {
		if c == "generate" {
			t.Fatalf("generator used although a template is configured")
		}
	}
	if gpu.attachedConfig != `BusID "PCI:1:0:0"` {
		t.Fatalf("rendered config=%q", gpu.attachedConfig)
	}
}

func TestExecute_OnlyOnce(t *testing.T) {
	gpu := &fakeGPU{devices: []nvidia.Device{{UUID: uuidA, Index: 0}}}
	run := New(gpu, testConfig(t, nil), Options{ListOnly: true, RequireRoot: rootOK}, nil)
	if _, err := run.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := run.Execute(context.Background()); err == nil {
		t.Fatalf("expected second Execute to fail")
	}
}

func TestStateString(t *testing.T) {
	if PerfLevelsResolved.String() != "perf_levels_resolved" || State(99).String() != "unknown" {
		t.Fatalf("state names wrong")
	}
}
