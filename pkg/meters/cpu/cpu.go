//go:build linux

// Package cpu samples /proc/stat: per-core jiffy counters, the kernel's
// interrupt/context-switch/process counters, and the softirq breakdown.
package cpu

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ja7ad/msys/pkg/meter"
	"github.com/ja7ad/msys/pkg/record"
)

const procStatPath = "/proc/stat"

// CoreStat is one "cpu" or "cpuN" line of /proc/stat.
type CoreStat struct {
	User      uint64 `cbor:"user"`
	Nice      uint64 `cbor:"nice"`
	System    uint64 `cbor:"system"`
	Idle      uint64 `cbor:"idle"`
	IOWait    uint64 `cbor:"iowait"`
	IRQ       uint64 `cbor:"irq"`
	SoftIRQ   uint64 `cbor:"softirq"`
	Steal     uint64 `cbor:"steal"`
	Guest     uint64 `cbor:"guest"`
	GuestNice uint64 `cbor:"guest_nice"`
}

// KernelMiscStat holds the scalar counters from /proc/stat that aren't
// per-core (btime is intentionally skipped, same as the original).
type KernelMiscStat struct {
	Intr         uint64 `cbor:"intr"`
	Ctxt         uint64 `cbor:"ctxt"`
	Processes    uint64 `cbor:"processes"`
	ProcsRunning uint64 `cbor:"procs_running"`
	ProcsBlocked uint64 `cbor:"procs_blocked"`
}

// SoftIRQStat is the "softirq" line of /proc/stat.
type SoftIRQStat struct {
	Total   uint64 `cbor:"total"`
	Hi      uint64 `cbor:"hi"`
	Timer   uint64 `cbor:"timer"`
	NetTx   uint64 `cbor:"net_tx"`
	NetRx   uint64 `cbor:"net_rx"`
	Block   uint64 `cbor:"block"`
	IRQPoll uint64 `cbor:"irq_poll"`
	Tasklet uint64 `cbor:"tasklet"`
	Sched   uint64 `cbor:"sched"`
	HRTimer uint64 `cbor:"hrtimer"`
	RCU     uint64 `cbor:"rcu"`
}

// Sample is one tick's worth of /proc/stat.
type Sample struct {
	TimestampNanos int64          `cbor:"ts"`
	CoreStats      []CoreStat     `cbor:"core_stats"`
	KernelMisc     KernelMiscStat `cbor:"kernel_misc"`
	SoftIRQ        SoftIRQStat    `cbor:"soft_irq"`
}

type series = record.TimeSeries[Sample]

// Meter samples system-wide and per-core CPU time from /proc/stat.
type Meter struct {
	*meter.Base[series, *series]
	ncores int
	path   string
}

// New constructs a CPU meter. It is immediately valid: /proc/stat always
// exists on Linux.
func New(tickPeriod time.Duration) *Meter {
	m := &Meter{
		Base:   meter.NewBase[series, *series]("CPUMeter", tickPeriod),
		ncores: runtime.NumCPU(),
		path:   procStatPath,
	}
	m.MarkValid()
	return m
}

// Update takes one sample. testRun is accepted for interface symmetry
// with other meters but doesn't change CPU sampling behavior.
func (m *Meter) Update(testRun bool) error {
	sample := m.CurrentBuffer().Add()
	sample.TimestampNanos = meter.MonotonicNanos()
	return parseProcStat(m.path, m.ncores, sample)
}

// GetDetailedReport reports the core count this meter was built for.
func (m *Meter) GetDetailedReport() string {
	return fmt.Sprintf("Number of CPU cores: %d\n", m.ncores)
}

func parseProcStat(path string, ncores int, out *Sample) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cpu: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var missing []string

	out.CoreStats = make([]CoreStat, 0, ncores+1)
	for i := 0; i < ncores+1; i++ {
		if !sc.Scan() {
			missing = append(missing, fmt.Sprintf("cpu line %d", i))
			break
		}
		cs, err := parseCoreStat(sc.Text())
		if err != nil {
			missing = append(missing, err.Error())
			continue
		}
		out.CoreStats = append(out.CoreStats, cs)
	}

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "intr":
			if len(fields) < 2 {
				missing = append(missing, "intr")
				continue
			}
			out.KernelMisc.Intr = parseU64(fields[1])
		case "ctxt":
			if len(fields) < 2 {
				missing = append(missing, "ctxt")
				continue
			}
			out.KernelMisc.Ctxt = parseU64(fields[1])
		case "processes":
			if len(fields) < 2 {
				missing = append(missing, "processes")
				continue
			}
			out.KernelMisc.Processes = parseU64(fields[1])
		case "procs_running":
			if len(fields) < 2 {
				missing = append(missing, "procs_running")
				continue
			}
			out.KernelMisc.ProcsRunning = parseU64(fields[1])
		case "procs_blocked":
			if len(fields) < 2 {
				missing = append(missing, "procs_blocked")
				continue
			}
			out.KernelMisc.ProcsBlocked = parseU64(fields[1])
		case "softirq":
			if len(fields) < 12 {
				missing = append(missing, "softirq")
				continue
			}
			out.SoftIRQ = SoftIRQStat{
				Total:   parseU64(fields[1]),
				Hi:      parseU64(fields[2]),
				Timer:   parseU64(fields[3]),
				NetTx:   parseU64(fields[4]),
				NetRx:   parseU64(fields[5]),
				Block:   parseU64(fields[6]),
				IRQPoll: parseU64(fields[7]),
				Tasklet: parseU64(fields[8]),
				Sched:   parseU64(fields[9]),
				HRTimer: parseU64(fields[10]),
				RCU:     parseU64(fields[11]),
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("cpu: scan %s: %w", path, err)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", meter.ErrPartialSample, strings.Join(missing, "; "))
	}
	return nil
}

func parseCoreStat(line string) (CoreStat, error) {
	fields := strings.Fields(line)
	if len(fields) < 11 || !strings.HasPrefix(fields[0], "cpu") {
		return CoreStat{}, fmt.Errorf("cpu line malformed: %q", line)
	}
	vals := fields[1:11]
	return CoreStat{
		User:      parseU64(vals[0]),
		Nice:      parseU64(vals[1]),
		System:    parseU64(vals[2]),
		Idle:      parseU64(vals[3]),
		IOWait:    parseU64(vals[4]),
		IRQ:       parseU64(vals[5]),
		SoftIRQ:   parseU64(vals[6]),
		Steal:     parseU64(vals[7]),
		Guest:     parseU64(vals[8]),
		GuestNice: parseU64(vals[9]),
	}, nil
}

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
