//go:build linux

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ja7ad/msys/pkg/config"
	"github.com/ja7ad/msys/pkg/meters/cpu"
	"github.com/ja7ad/msys/pkg/meters/disk"
	"github.com/ja7ad/msys/pkg/meters/mem"
	"github.com/ja7ad/msys/pkg/meters/process"
	"github.com/ja7ad/msys/pkg/registry"
	"github.com/ja7ad/msys/pkg/types"
)

// buildOpts collects the flags shared by run and testrun: which meters to
// attach and on what schedule.
type buildOpts struct {
	name         string
	outputDir    string
	period       time.Duration
	writeBytes   int
	diskDevices  []string
	memProbes    []string
	pids         []int
	withCPU      bool
}

func main() {
	root := &cobra.Command{
		Use:   "msysd",
		Short: "Host telemetry recording daemon",
		Long: `msysd samples CPU, disk, memory, and process telemetry from /proc on a
shared tick and writes CBOR-framed time series to disk.

Examples:
  msysd run --output-dir ./var/lib/msys --period 1s --disk sda --mem-probe basic
  msysd testrun --disk sda,nvme0n1`,
	}

	root.AddCommand(newRunCmd(), newTestRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var o buildOpts

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a recording session until a termination signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecording(o)
		},
	}
	bindBuildFlags(cmd, &o)
	return cmd
}

func newTestRunCmd() *cobra.Command {
	var o buildOpts

	cmd := &cobra.Command{
		Use:   "testrun",
		Short: "Exercise every configured meter once and report expected write cadence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestRun(o)
		},
	}
	bindBuildFlags(cmd, &o)
	return cmd
}

func bindBuildFlags(cmd *cobra.Command, o *buildOpts) {
	cmd.Flags().StringVar(&o.name, "name", "msysd", "system name, used in logs and reports")
	cmd.Flags().StringVar(&o.outputDir, "output-dir", "", "directory meters write their files to (defaults to config)")
	cmd.Flags().DurationVar(&o.period, "period", 0, "sample period shared by every meter (defaults to config)")
	cmd.Flags().IntVar(&o.writeBytes, "write-threshold-bytes", 0, "wire-size threshold that triggers a flush (defaults to config)")
	cmd.Flags().StringSliceVar(&o.diskDevices, "disk", nil, "block device names DiskMeter samples, e.g. sda")
	cmd.Flags().StringSliceVar(&o.memProbes, "mem-probe", nil, "mem.Probe names MemMeter samples (default: all)")
	cmd.Flags().IntSliceVar(&o.pids, "pid", nil, "process IDs ProcMeter samples")
	cmd.Flags().BoolVar(&o.withCPU, "cpu", true, "attach the CPU meter")
}

// buildSystem applies config.Config defaults under whatever the caller
// passed on the command line, then constructs and populates a System
// through the registry.
func buildSystem(o buildOpts) (registry.SystemID, error) {
	cfg, err := config.Load()
	if err != nil {
		return registry.InvalidSystemID, fmt.Errorf("load config: %w", err)
	}

	if err := registry.Initialize(cfg.LogDir); err != nil {
		return registry.InvalidSystemID, fmt.Errorf("initialize registry: %w", err)
	}

	outputDir := o.outputDir
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}
	period := o.period
	if period <= 0 {
		period = cfg.DefaultSamplePeriod
	}
	writeBytes := o.writeBytes
	if writeBytes <= 0 {
		writeBytes = cfg.WriteThresholdBytes
	}

	id, err := registry.NewSystem(o.name, outputDir, period, types.Bytes(writeBytes))
	if err != nil {
		return registry.InvalidSystemID, fmt.Errorf("construct system: %w", err)
	}
	sys, err := registry.Get(id)
	if err != nil {
		return registry.InvalidSystemID, err
	}

	if o.withCPU {
		if err := sys.AddMeter(cpu.New(period)); err != nil {
			return registry.InvalidSystemID, fmt.Errorf("add cpu meter: %w", err)
		}
	}

	devices := o.diskDevices
	if len(devices) == 0 {
		devices = cfg.DiskDevices
	}
	if len(devices) > 0 {
		if err := sys.AddMeter(disk.New(period, devices)); err != nil {
			return registry.InvalidSystemID, fmt.Errorf("add disk meter: %w", err)
		}
	}

	probeNames := o.memProbes
	if len(probeNames) == 0 {
		probeNames = cfg.MemProbes
	}
	probes := mem.AllProbes
	if len(probeNames) > 0 {
		probes = make([]mem.Probe, len(probeNames))
		for i, name := range probeNames {
			probes[i] = mem.Probe(name)
		}
	}
	memMeter, err := mem.New(period, probes)
	if err != nil {
		return registry.InvalidSystemID, fmt.Errorf("add mem meter: %w", err)
	}
	if err := sys.AddMeter(memMeter); err != nil {
		return registry.InvalidSystemID, fmt.Errorf("add mem meter: %w", err)
	}

	if len(o.pids) > 0 {
		if err := sys.AddMeter(process.New(period, o.pids, process.AllProbes)); err != nil {
			return registry.InvalidSystemID, fmt.Errorf("add process meter: %w", err)
		}
	}

	return id, nil
}

func runRecording(o buildOpts) error {
	id, err := buildSystem(o)
	if err != nil {
		return err
	}
	sys, err := registry.Get(id)
	if err != nil {
		return err
	}

	if err := sys.StartRecording(); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	registry.Logger().Info("recording started, waiting for termination signal",
		zap.Uint32("system_id", id), zap.String("name", sys.Name()))

	select {} // registry's signal handler halts every system and re-raises
}

func runTestRun(o buildOpts) error {
	id, err := buildSystem(o)
	if err != nil {
		return err
	}
	sys, err := registry.Get(id)
	if err != nil {
		return err
	}

	if err := sys.TestRun(); err != nil {
		return fmt.Errorf("test run: %w", err)
	}
	fmt.Println(sys.ReportStatus(true))
	return nil
}
