//go:build linux

package gpu_test

import (
	"fmt"

	"github.com/ja7ad/msys/pkg/meters/gpu"
)

// fakeDevice and fakeSample give FakeBackend concrete, comparable
// identities without depending on real NVML types.
type fakeDevice struct{ id int }
type fakeSample struct{ generation int }

// FakeBackend stands in for a real NVML/GPM cgo binding in tests. Each
// GPMMetricsGet call returns, for every requested metric ID, the
// difference in sample generation counters times a fixed per-metric
// rate, giving deterministic, non-zero output.
type FakeBackend struct {
	initCalled     bool
	shutdownCalled bool
	unsupported    map[int]bool
	failOpen       map[int]bool
	processes      map[int][]gpu.ProcessUsage

	nextGeneration int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		unsupported: make(map[int]bool),
		failOpen:    make(map[int]bool),
		processes:   make(map[int][]gpu.ProcessUsage),
	}
}

func (f *FakeBackend) Init() error     { f.initCalled = true; return nil }
func (f *FakeBackend) Shutdown() error { f.shutdownCalled = true; return nil }

func (f *FakeBackend) OpenDevice(gpuID int) (gpu.Device, error) {
	if f.failOpen[gpuID] {
		return nil, fmt.Errorf("fake: device %d unavailable", gpuID)
	}
	return &fakeDevice{id: gpuID}, nil
}

func (f *FakeBackend) GPMSupported(dev gpu.Device) bool {
	return !f.unsupported[dev.(*fakeDevice).id]
}

func (f *FakeBackend) GPMSampleAlloc() (gpu.GPMSample, error) {
	return &fakeSample{}, nil
}

func (f *FakeBackend) GPMSampleGet(dev gpu.Device, sample gpu.GPMSample) error {
	f.nextGeneration++
	sample.(*fakeSample).generation = f.nextGeneration
	return nil
}

func (f *FakeBackend) GPMMetricsGet(sample1, sample2 gpu.GPMSample, metricIDs []int) ([]float64, error) {
	delta := float64(sample2.(*fakeSample).generation - sample1.(*fakeSample).generation)
	out := make([]float64, len(metricIDs))
	for i, id := range metricIDs {
		out[i] = delta * float64(id+1)
	}
	return out, nil
}

func (f *FakeBackend) ComputeRunningProcesses(dev gpu.Device) ([]gpu.ProcessUsage, error) {
	return f.processes[dev.(*fakeDevice).id], nil
}
