package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"headless-oc/internal/tuning"
)

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Tools   ToolsConfig   `yaml:"tools"`
	Display DisplayConfig `yaml:"display"`

	// Devices maps a GPU UUID (as printed by `nvidia-smi -L`, with or without
	// the "GPU-" prefix) to the settings wanted for it.
	Devices map[string]tuning.Settings `yaml:"devices"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text, json or auto (text on a terminal, json otherwise).
	Format string `yaml:"format"`
	// Output is stderr or stdout.
	Output string `yaml:"output"`
}

type ToolsConfig struct {
	SMI      string `yaml:"smi"`
	XConfig  string `yaml:"xconfig"`
	XInit    string `yaml:"xinit"`
	Settings string `yaml:"settings"`
}

type DisplayConfig struct {
	// Number is the X display the throwaway server runs on.
	Number int `yaml:"number"`
	// CoolBits is passed to nvidia-xconfig when generating the config.
	CoolBits int `yaml:"cool_bits"`
	// Template, when set, is a text/template xorg.conf rendered instead of
	// running nvidia-xconfig.
	Template string `yaml:"template"`
	// EDID is an optional EDID blob path exposed to Template as .EDID.
	EDID string `yaml:"edid"`
	// ScratchDir is where the generated xorg.conf lives during the run.
	ScratchDir string `yaml:"scratch_dir"`
}

// Settings returns the settings configured for the GPU with uuid.
func (c Config) Settings(id string) (tuning.Settings, bool) {
	s, ok := c.Devices[NormalizeUUID(id)]
	return s, ok
}

// NormalizeUUID lower-cases id and strips a leading "GPU-".
func NormalizeUUID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 4 && strings.EqualFold(id[:4], "GPU-") {
		id = id[4:]
	}
	return strings.ToLower(id)
}

// Load reads a YAML config. Files ending in .json or .jsonc are accepted too;
// comments and trailing commas are stripped first.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		b = jsonc.ToJSON(b)
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		return Config{}, fmt.Errorf("logging.format must be one of auto, text, json")
	}

	if cfg.Tools.SMI == "" {
		cfg.Tools.SMI = "nvidia-smi"
	}
	if cfg.Tools.XConfig == "" {
		cfg.Tools.XConfig = "nvidia-xconfig"
	}
	if cfg.Tools.XInit == "" {
		cfg.Tools.XInit = "xinit"
	}
	if cfg.Tools.Settings == "" {
		cfg.Tools.Settings = "nvidia-settings"
	}

	if cfg.Display.Number <= 0 {
		cfg.Display.Number = 1
	}
	if cfg.Display.CoolBits == 0 {
		cfg.Display.CoolBits = 28
	}
	if cfg.Display.CoolBits < 0 {
		return Config{}, fmt.Errorf("display.cool_bits must be >= 0")
	}
	if cfg.Display.EDID != "" && cfg.Display.Template == "" {
		return Config{}, fmt.Errorf("display.edid requires display.template")
	}
	cfg.Display.Template = expandHome(cfg.Display.Template)
	cfg.Display.EDID = expandHome(cfg.Display.EDID)

	if len(cfg.Devices) == 0 {
		return Config{}, fmt.Errorf("devices must list at least one GPU")
	}
	devices := make(map[string]tuning.Settings, len(cfg.Devices))
	for key, s := range cfg.Devices {
		u, err := uuid.Parse(NormalizeUUID(key))
		if err != nil || len(NormalizeUUID(key)) != 36 {
			return Config{}, fmt.Errorf("devices: %q is not a GPU UUID", key)
		}
		id := u.String()
		if _, dup := devices[id]; dup {
			return Config{}, fmt.Errorf("devices: %q listed more than once", key)
		}
		devices[id] = s
	}
	cfg.Devices = devices

	return cfg, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
