//go:build linux

// Package mem samples /proc/meminfo through a set of named probes, each
// bound to its own KVRepr descriptor.
package mem

import (
	"fmt"
	"strings"
	"time"

	"github.com/ja7ad/msys/pkg/kvrepr"
	"github.com/ja7ad/msys/pkg/meter"
	"github.com/ja7ad/msys/pkg/record"
)

const procMeminfoPath = "/proc/meminfo"

// Probe names the thirteen meminfo groupings this meter can select from,
// mirroring the original's MemMetadata.Probe enum.
type Probe string

const (
	ProbeBasic           Probe = "basic"
	ProbeKernelCache     Probe = "kernel_cache"
	ProbeActiveInactive  Probe = "active_inactive"
	ProbeNonEvictable    Probe = "non_evictable"
	ProbeSwap            Probe = "swap"
	ProbeDirtyWriteback  Probe = "dirty_writeback"
	ProbeType            Probe = "type"
	ProbeKernel          Probe = "kernel"
	ProbeTmpBuffer       Probe = "tmp_buffer"
	ProbeVirtual         Probe = "virtual"
	ProbeHugePage        Probe = "huge_page"
	ProbeDirectMap       Probe = "direct_map"
	ProbeMisc            Probe = "misc"
)

// probeKeys lists the exact /proc/meminfo keys each probe pulls, in
// proto-field-declaration order (not alphabetical).
var probeKeys = map[Probe][]string{
	ProbeBasic:          {"MemTotal", "MemFree", "MemAvailable"},
	ProbeKernelCache:    {"Buffers", "Cached", "SwapCached"},
	ProbeActiveInactive: {"Active", "Inactive", "Active(anon)", "Inactive(anon)", "Active(file)", "Inactive(file)"},
	ProbeNonEvictable:   {"Unevictable", "Mlocked"},
	ProbeSwap:           {"SwapTotal", "SwapFree", "Zswap", "Zswapped"},
	ProbeDirtyWriteback: {"Dirty", "Writeback"},
	ProbeType:           {"AnonPages", "Mapped", "Shmem"},
	ProbeKernel:         {"KReclaimable", "Slab", "SReclaimable", "SUnreclaim", "KernelStack", "PageTables"},
	ProbeTmpBuffer:      {"NFS_Unstable", "Bounce", "WritebackTmp"},
	ProbeVirtual:        {"CommitLimit", "Committed_AS", "VmallocTotal", "VmallocUsed", "VmallocChunk"},
	ProbeHugePage: {
		"AnonHugePages", "ShmemHugePages", "ShmemPmdMapped", "FileHugePages",
		"FilePmdMapped", "HugePages_Total", "HugePages_Free", "HugePages_Rsvd",
		"HugePages_Surp", "Hugepagesize", "Hugetlb",
	},
	ProbeDirectMap: {"DirectMap4k", "DirectMap2M", "DirectMap4M", "DirectMap1G"},
	ProbeMisc:      {"Percpu", "HardwareCorrupted"},
}

// AllProbes lists every supported probe, in declaration order.
var AllProbes = []Probe{
	ProbeBasic, ProbeKernelCache, ProbeActiveInactive, ProbeNonEvictable, ProbeSwap,
	ProbeDirtyWriteback, ProbeType, ProbeKernel, ProbeTmpBuffer, ProbeVirtual,
	ProbeHugePage, ProbeDirectMap, ProbeMisc,
}

// Sample holds, per requested probe, the key -> value (kB) map that
// probe's keys resolved to this tick.
type Sample struct {
	TimestampNanos int64                `cbor:"ts"`
	Probes         map[Probe]map[string]uint64 `cbor:"probes"`
}

type series = record.TimeSeries[Sample]

// Meter samples /proc/meminfo for a caller-selected set of probes.
type Meter struct {
	*meter.Base[series, *series]
	probes []Probe
	kv     *kvrepr.KVRepr
	values map[Probe]map[string]*uint64
}

// New constructs a memory meter for the given probes. It is marked valid
// if at least one of the requested keys could be located in /proc/meminfo;
// keys that are absent do not invalidate the meter, and Update reports them
// as a partial sample.
func New(tickPeriod time.Duration, probes []Probe) (*Meter, error) {
	return newWithPath(tickPeriod, probes, procMeminfoPath)
}

func newWithPath(tickPeriod time.Duration, probes []Probe, path string) (*Meter, error) {
	m := &Meter{
		Base:   meter.NewBase[series, *series]("MemMeter", tickPeriod),
		probes: probes,
		values: make(map[Probe]map[string]*uint64),
	}

	var descriptors []kvrepr.Descriptor
	for _, p := range probes {
		keys, ok := probeKeys[p]
		if !ok {
			return nil, fmt.Errorf("mem: unknown probe %q", p)
		}
		dst := make(map[string]*uint64, len(keys))
		setters := make([]kvrepr.FieldSetter, len(keys))
		for i, k := range keys {
			v := new(uint64)
			dst[k] = v
			setters[i] = kvrepr.Uint64(v)
		}
		m.values[p] = dst
		descriptors = append(descriptors, kvrepr.Descriptor{Name: string(p), Keys: keys, Setters: setters})
	}

	kv, err := kvrepr.New(path, kvrepr.Layout{Descriptors: descriptors})
	if err != nil {
		return nil, fmt.Errorf("mem: build parser: %w", err)
	}
	m.kv = kv
	if kv.IsValid() {
		m.MarkValid()
	}
	return m, nil
}

// Update re-reads /proc/meminfo and snapshots the selected probes.
func (m *Meter) Update(testRun bool) error {
	if err := m.kv.ParseOnce(); err != nil {
		return fmt.Errorf("mem: parse: %w", err)
	}

	sample := m.CurrentBuffer().Add()
	sample.TimestampNanos = meter.MonotonicNanos()
	sample.Probes = make(map[Probe]map[string]uint64, len(m.probes))
	for p, dst := range m.values {
		snap := make(map[string]uint64, len(dst))
		for k, v := range dst {
			snap[k] = *v
		}
		sample.Probes[p] = snap
	}

	if missing := m.kv.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("%w: %s", meter.ErrPartialSample, strings.Join(missing, ", "))
	}
	return nil
}

// GetDetailedReport lists the probes this meter was configured for.
func (m *Meter) GetDetailedReport() string {
	var b strings.Builder
	b.WriteString("Enabled probe(s):")
	for _, p := range m.probes {
		fmt.Fprintf(&b, "\n  - %s", p)
	}
	return b.String()
}
