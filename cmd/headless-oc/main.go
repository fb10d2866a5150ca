package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"headless-oc/internal/config"
	"headless-oc/internal/host"
	"headless-oc/internal/logging"
	"headless-oc/internal/nvidia"
	"headless-oc/internal/runner"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run returns the process exit code. Everything deferred in here, including
// removal of the scratch display config, happens before main exits.
func run(args []string, stdout io.Writer) int {
	var (
		configPath string
		dryRun     bool
		listOnly   bool
		logLevel   string
	)
	flagSet := pflag.NewFlagSet("headless-oc", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "/etc/headless-oc/config.yaml", "path to YAML or JSONC config")
	flagSet.BoolVar(&dryRun, "dry-run", false, "print what would be applied without changing anything")
	flagSet.BoolVar(&listOnly, "list", false, "list detected GPUs and exit")
	flagSet.StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	log := logging.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("config load failed", "path", configPath, "err", err)
		return 1
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log = logging.New(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := execute(ctx, cfg, runner.Options{DryRun: dryRun, ListOnly: listOnly}, log)
	if err != nil {
		logFatal(log, err)
		return 1
	}

	if listOnly {
		for _, d := range report.found {
			fmt.Fprintln(stdout, d)
		}
		return 0
	}
	for _, d := range report.Devices {
		fmt.Fprintln(stdout, d)
	}
	return 0
}

type result struct {
	runner.Report
	found []nvidia.Device
}

func execute(ctx context.Context, cfg config.Config, opts runner.Options, log *slog.Logger) (result, error) {
	tools := nvidia.Tools{
		SMI:      cfg.Tools.SMI,
		XConfig:  cfg.Tools.XConfig,
		XInit:    cfg.Tools.XInit,
		Settings: cfg.Tools.Settings,
	}
	paths, err := host.RequireTools(tools.Names()...)
	if err != nil {
		return result{}, err
	}
	// xinit only runs its client when given a path.
	tools.Settings = paths[tools.Settings]
	tools.XInit = paths[tools.XInit]
	opts.XInit = tools.XInit

	client := nvidia.NewClient(nvidia.CommandExec{}, tools, log.With("component", "nvidia"))
	r := runner.New(client, cfg, opts, log)
	report, err := r.Execute(ctx)
	return result{Report: report, found: r.Devices()}, err
}

func logFatal(log *slog.Logger, err error) {
	var missing *host.MissingToolsError
	switch {
	case errors.Is(err, host.ErrNotRoot):
		log.Error("must run as root")
	case errors.Is(err, nvidia.ErrNoDevices):
		log.Error("cannot detect any GPUs", "err", err)
	case errors.As(err, &missing):
		log.Error("required tools missing", "tools", missing.Names)
	case errors.Is(err, context.Canceled):
		log.Warn("interrupted")
	default:
		log.Error("run failed", "err", err)
	}
}
