package nvidia

import (
	"context"
	"fmt"
	"strings"
)

type fakeCall struct {
	name string
	args []string
}

func (c fakeCall) String() string {
	return strings.TrimSpace(c.name + " " + strings.Join(c.args, " "))
}

// fakeExec answers by the full command line. Unknown commands fail to start.
type fakeExec struct {
	results map[string]Result
	errs    map[string]error
	calls   []fakeCall
}

func newFakeExec() *fakeExec {
	return &fakeExec{results: map[string]Result{}, errs: map[string]error{}}
}

func (f *fakeExec) on(cmdline string, out string, code int) {
	f.results[cmdline] = Result{Output: out, ExitCode: code}
}

func (f *fakeExec) Run(_ context.Context, name string, args ...string) (Result, error) {
	call := fakeCall{name: name, args: append([]string(nil), args...)}
	f.calls = append(f.calls, call)
	key := call.String()
	if err, ok := f.errs[key]; ok {
		return Result{}, err
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return Result{}, fmt.Errorf("exec: %q: executable file not found in $PATH", key)
}

const smiListOutput = `GPU 0: NVIDIA GeForce GTX 1070 (UUID: GPU-04546190-b68d-65ac-101b-035f8faed77d)
GPU 1: NVIDIA GeForce RTX 3080 Ti (UUID: GPU-5C1C3B9E-3E3A-7A6C-0B5F-6F1B7C2C4E11)
  MIG 1g.5gb      Device  0: (UUID: MIG-11111111-2222-3333-4444-555555555555)
`

const xconfigInfoOutput = `
Number of GPUs: 2

GPU #0:
  Name      : GeForce GTX 1070
  UUID      : GPU-04546190-b68d-65ac-101b-035f8faed77d
  PCI BusID : PCI:1:0:0

  Number of Display Devices: 0

GPU #1:
  Name      : GeForce RTX 3080 Ti
  UUID      : GPU-5c1c3b9e-3e3a-7a6c-0b5f-6f1b7c2c4e11
  PCI BusID : PCI:2:0:0

  Number of Display Devices: 0

`
