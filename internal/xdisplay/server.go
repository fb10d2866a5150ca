// Package xdisplay manages the throwaway X server that nvidia-settings needs on
// a machine without a monitor.
package xdisplay

import (
	"fmt"
	"strconv"
)

const DefaultDisplay = 1

// Server describes a one-shot xinit invocation: the X server starts on
// Display with ConfigPath, runs a single client and exits with it.
type Server struct {
	// XInit is the xinit executable.
	XInit string
	// Display is the X display number (":1" for 1).
	Display int
	// ConfigPath is the synthetic xorg.conf.
	ConfigPath string
}

// Command returns the executable and argument list that run client under the
// server. xinit only treats the first argument as a client program when it is
// a path, so client should be absolute.
func (s Server) Command(client string, clientArgs []string) (string, []string, error) {
	if s.ConfigPath == "" {
		return "", nil, fmt.Errorf("xdisplay: no display config")
	}
	if client == "" {
		return "", nil, fmt.Errorf("xdisplay: no client")
	}
	xinit := s.XInit
	if xinit == "" {
		xinit = "xinit"
	}
	args := make([]string, 0, len(clientArgs)+6)
	args = append(args, client)
	args = append(args, clientArgs...)
	args = append(args, "--", ":"+strconv.Itoa(s.Display), "-once", "-config", s.ConfigPath)
	return xinit, args, nil
}
