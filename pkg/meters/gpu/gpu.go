//go:build linux

// Package gpu samples NVIDIA GPU utilization through NVML's GPM
// (GPU Performance Monitoring) interface. The vendor SDK itself is out
// of scope, so this package depends only on the small Backend interface
// a real cgo/NVML binding would implement.
package gpu

import (
	"fmt"
	"strings"
	"time"

	"github.com/ja7ad/msys/pkg/meter"
	"github.com/ja7ad/msys/pkg/record"
)

// MinTickPeriod mirrors the original's GPM sampling floor: sampling more
// often than this doesn't produce meaningful rate metrics.
const MinTickPeriod = 100 * time.Millisecond

// Device is an opaque per-GPU handle returned by Backend.OpenDevice.
type Device any

// GPMSample is an opaque handle for one GPM sample snapshot.
type GPMSample any

// ProcessUsage is one process's GPU memory usage on a device.
type ProcessUsage struct {
	PID           int    `cbor:"pid"`
	UsedGPUMemory uint64 `cbor:"used_gpu_memory"`
}

// Backend is the collaborator interface a real NVML binding implements.
// gpu.FakeBackend (in the test package) drives it for hermetic tests.
type Backend interface {
	Init() error
	Shutdown() error
	OpenDevice(gpuID int) (Device, error)
	GPMSupported(dev Device) bool
	GPMSampleAlloc() (GPMSample, error)
	GPMSampleGet(dev Device, sample GPMSample) error
	GPMMetricsGet(sample1, sample2 GPMSample, metricIDs []int) ([]float64, error)
	ComputeRunningProcesses(dev Device) ([]ProcessUsage, error)
}

// PerGPU is one GPU's readings for one tick.
type PerGPU struct {
	GPUID        int            `cbor:"gpu_id"`
	GPMSupported bool           `cbor:"gpm_supported"`
	GPMMetrics   []float64      `cbor:"gpm_metrics"`
	Processes    []ProcessUsage `cbor:"processes"`
}

// Sample is one tick across every attached GPU.
type Sample struct {
	TimestampNanos int64    `cbor:"ts"`
	GPUs           []PerGPU `cbor:"gpus"`
}

type series = record.TimeSeries[Sample]

// Meter samples GPM-derived utilization metrics for a fixed set of GPU
// indices. GPM metrics are rate-based and need two samples to compute,
// so the first non-test-run tick only primes sample1 and produces no
// output record; every tick after that samples2, computes, and swaps.
type Meter struct {
	*meter.Base[series, *series]
	backend      Backend
	gpmMetricIDs []int

	attachedIDs  []int
	devices      []Device
	gpmSupported []bool
	sample1      []GPMSample
	sample2      []GPMSample

	started bool
}

// New attaches to every requested GPU index through backend. GPUs that
// fail to open are dropped with a warning-equivalent error collected in
// the returned error; the meter is still valid if at least one GPU
// attached successfully.
func New(tickPeriod time.Duration, gpuIDs []int, gpmMetricIDs []int, backend Backend) (*Meter, error) {
	if tickPeriod < MinTickPeriod {
		tickPeriod = MinTickPeriod
	}

	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("gpu: nvml init: %w", err)
	}

	m := &Meter{
		Base:         meter.NewBase[series, *series]("GPUMeter", tickPeriod),
		backend:      backend,
		gpmMetricIDs: gpmMetricIDs,
	}

	var dropped []string
	for _, id := range gpuIDs {
		dev, err := backend.OpenDevice(id)
		if err != nil {
			dropped = append(dropped, fmt.Sprintf("gpu %d: %v", id, err))
			continue
		}
		s1, err := backend.GPMSampleAlloc()
		if err != nil {
			dropped = append(dropped, fmt.Sprintf("gpu %d: alloc sample1: %v", id, err))
			continue
		}
		s2, err := backend.GPMSampleAlloc()
		if err != nil {
			dropped = append(dropped, fmt.Sprintf("gpu %d: alloc sample2: %v", id, err))
			continue
		}
		m.attachedIDs = append(m.attachedIDs, id)
		m.devices = append(m.devices, dev)
		m.gpmSupported = append(m.gpmSupported, backend.GPMSupported(dev))
		m.sample1 = append(m.sample1, s1)
		m.sample2 = append(m.sample2, s2)
	}

	if len(m.devices) > 0 {
		m.MarkValid()
	}

	var err error
	if len(dropped) > 0 {
		err = fmt.Errorf("gpu: some devices unavailable: %s", strings.Join(dropped, "; "))
	}
	return m, err
}

// Update takes a GPM sample per attached GPU. On a test run, or the
// first real tick, it only primes sample1 and doesn't append a record.
func (m *Meter) Update(testRun bool) error {
	if testRun {
		for i, dev := range m.devices {
			if err := m.backend.GPMSampleGet(dev, m.sample1[i]); err != nil {
				return fmt.Errorf("gpu: test-run sample: %w", err)
			}
		}
		return nil
	}

	if !m.started {
		for i, dev := range m.devices {
			if err := m.backend.GPMSampleGet(dev, m.sample1[i]); err != nil {
				return fmt.Errorf("gpu: initial sample: %w", err)
			}
		}
		m.started = true
		return nil
	}

	sample := m.CurrentBuffer().Add()
	sample.TimestampNanos = meter.MonotonicNanos()
	sample.GPUs = make([]PerGPU, 0, len(m.devices))

	var errs []string
	for i, dev := range m.devices {
		gpuID := m.attachedIDs[i]

		if err := m.backend.GPMSampleGet(dev, m.sample2[i]); err != nil {
			errs = append(errs, fmt.Sprintf("gpu %d: sample: %v", gpuID, err))
			continue
		}
		metrics, err := m.backend.GPMMetricsGet(m.sample1[i], m.sample2[i], m.gpmMetricIDs)
		if err != nil {
			errs = append(errs, fmt.Sprintf("gpu %d: metrics: %v", gpuID, err))
		}
		m.sample1[i], m.sample2[i] = m.sample2[i], m.sample1[i]

		procs, err := m.backend.ComputeRunningProcesses(dev)
		if err != nil {
			errs = append(errs, fmt.Sprintf("gpu %d: processes: %v", gpuID, err))
		}

		sample.GPUs = append(sample.GPUs, PerGPU{
			GPUID:        gpuID,
			GPMSupported: m.gpmSupported[i],
			GPMMetrics:   metrics,
			Processes:    procs,
		})
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", meter.ErrPartialSample, strings.Join(errs, "; "))
	}
	return nil
}

// Close shuts down the NVML backend after waiting for any outstanding
// write, in addition to Base's own file-close behavior.
func (m *Meter) Close() error {
	baseErr := m.Base.Close()
	if err := m.backend.Shutdown(); err != nil {
		if baseErr != nil {
			return fmt.Errorf("%v; gpu: nvml shutdown: %w", baseErr, err)
		}
		return fmt.Errorf("gpu: nvml shutdown: %w", err)
	}
	return baseErr
}

// GetDetailedReport summarizes attached GPUs and enabled GPM metric IDs.
func (m *Meter) GetDetailedReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GPUMeter: recording %d GPU(s), #GPM metrics: %d", len(m.devices), len(m.gpmMetricIDs))
	b.WriteString("\nGPU details:")
	for i, id := range m.attachedIDs {
		support := "GPM NOT supported"
		if m.gpmSupported[i] {
			support = "GPM supported"
		}
		fmt.Fprintf(&b, "\n - GPU %d (%s)", id, support)
	}
	return b.String()
}
