package nvidia

import (
	"context"
	"io"
	"log/slog"

	"headless-oc/internal/xdisplay"
)

// Tools names the vendor executables. Values are looked up on PATH.
type Tools struct {
	SMI      string
	XConfig  string
	XInit    string
	Settings string
}

func DefaultTools() Tools {
	return Tools{
		SMI:      "nvidia-smi",
		XConfig:  "nvidia-xconfig",
		XInit:    "xinit",
		Settings: "nvidia-settings",
	}
}

// Names returns every configured executable.
func (t Tools) Names() []string {
	return []string{t.SMI, t.XConfig, t.XInit, t.Settings}
}

// Discoverer is the boundary around the text-output parsing. Everything above
// it works with Device values and integer levels only.
type Discoverer interface {
	DiscoverDevices(ctx context.Context) ([]Device, error)
	QueryPerformanceLevels(ctx context.Context, d Device) ([]int, error)
}

// Client drives the NVIDIA command line tools. It is not safe for concurrent
// use; tools are launched one at a time.
type Client struct {
	exec  Exec
	tools Tools
	log   *slog.Logger

	server *xdisplay.Server
}

var _ Discoverer = (*Client)(nil)

func NewClient(exec Exec, tools Tools, log *slog.Logger) *Client {
	if exec == nil {
		exec = CommandExec{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	def := DefaultTools()
	if tools.SMI == "" {
		tools.SMI = def.SMI
	}
	if tools.XConfig == "" {
		tools.XConfig = def.XConfig
	}
	if tools.XInit == "" {
		tools.XInit = def.XInit
	}
	if tools.Settings == "" {
		tools.Settings = def.Settings
	}
	return &Client{exec: exec, tools: tools, log: log}
}

func (c *Client) Tools() Tools {
	return c.tools
}

// AttachDisplay sets the headless X server used by nvidia-settings calls.
func (c *Client) AttachDisplay(srv xdisplay.Server) {
	c.server = &srv
}
