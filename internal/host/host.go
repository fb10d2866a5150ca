// Package host checks the preconditions for touching GPU settings: root
// privileges and the vendor tools being installed.
package host

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrNotRoot = errors.New("host: not running as root")

var (
	geteuidFn  = unix.Geteuid
	lookPathFn = exec.LookPath
)

// RequireRoot fails unless the effective user is root. nvidia-smi -pl and a
// private X server both need it.
func RequireRoot() error {
	if geteuidFn() != 0 {
		return ErrNotRoot
	}
	return nil
}

// MissingToolsError lists executables that could not be found on PATH.
type MissingToolsError struct {
	Names []string
}

func (e *MissingToolsError) Error() string {
	return fmt.Sprintf("host: required tools not found: %s", strings.Join(e.Names, ", "))
}

// RequireTools resolves every name on PATH and returns name -> absolute path.
// All missing tools are reported together.
func RequireTools(names ...string) (map[string]string, error) {
	paths := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		if _, ok := paths[name]; ok {
			continue
		}
		p, err := lookPathFn(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		paths[name] = p
	}
	if len(missing) > 0 {
		return nil, &MissingToolsError{Names: missing}
	}
	return paths, nil
}
