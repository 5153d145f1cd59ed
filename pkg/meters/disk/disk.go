//go:build linux

// Package disk samples /proc/diskstats for a fixed set of block devices.
package disk

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ja7ad/msys/pkg/meter"
	"github.com/ja7ad/msys/pkg/record"
)

const procDiskstatsPath = "/proc/diskstats"

// Stat is the 17-field per-device record from one line of /proc/diskstats.
type Stat struct {
	Device                 string `cbor:"device"`
	ReadsCompleted         uint64 `cbor:"reads_completed"`
	ReadsMerged            uint64 `cbor:"reads_merged"`
	SectorsRead            uint64 `cbor:"sectors_read"`
	TimeSpentReadingMs     uint64 `cbor:"time_spent_reading_ms"`
	WritesCompleted        uint64 `cbor:"writes_completed"`
	WritesMerged           uint64 `cbor:"writes_merged"`
	SectorsWritten         uint64 `cbor:"sectors_written"`
	TimeSpentWritingMs     uint64 `cbor:"time_spent_writing_ms"`
	IOInProgress           uint64 `cbor:"io_in_progress"`
	TimeSpentIOMs          uint64 `cbor:"time_spent_io_ms"`
	WeightedTimeSpentIOMs  uint64 `cbor:"weighted_time_spent_io_ms"`
	DiscardCompleted       uint64 `cbor:"discard_completed"`
	DiscardMerged          uint64 `cbor:"discard_merged"`
	DiscardSectors         uint64 `cbor:"discard_sectors"`
	TimeSpentDiscardingMs  uint64 `cbor:"time_spent_discarding_ms"`
	FlushCompleted         uint64 `cbor:"flush_completed"`
	TimeSpentFlushingMs    uint64 `cbor:"time_spent_flushing_ms"`
}

// Sample is one tick's stats for every monitored device.
type Sample struct {
	TimestampNanos int64  `cbor:"ts"`
	Disks          []Stat `cbor:"disks"`
}

type series = record.TimeSeries[Sample]

// Meter samples per-device block I/O counters from /proc/diskstats.
type Meter struct {
	*meter.Base[series, *series]
	devices []string
	path    string
}

// New constructs a disk meter for the given device names (e.g. "sda",
// "nvme0n1"). It is marked valid only if every device is found in
// /proc/diskstats at construction time; callers should check IsValid.
func New(tickPeriod time.Duration, devices []string) *Meter {
	m := &Meter{
		Base:    meter.NewBase[series, *series]("DiskMeter", tickPeriod),
		devices: devices,
		path:    procDiskstatsPath,
	}
	if ok, _ := checkDeviceExistence(m.path, devices); ok {
		m.MarkValid()
	}
	return m
}

// Update takes one sample across every monitored device.
func (m *Meter) Update(testRun bool) error {
	sample := m.CurrentBuffer().Add()
	sample.TimestampNanos = meter.MonotonicNanos()
	return parseDiskstats(m.path, m.devices, sample)
}

// GetDetailedReport lists the monitored devices.
func (m *Meter) GetDetailedReport() string {
	var b strings.Builder
	b.WriteString("Monitored devices:")
	for _, d := range m.devices {
		fmt.Fprintf(&b, "\n  - %s", d)
	}
	return b.String()
}

func checkDeviceExistence(path string, devices []string) (bool, []string) {
	remaining := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		remaining[d] = struct{}{}
	}

	f, err := os.Open(path)
	if err != nil {
		return false, devices
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for len(remaining) > 0 && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		delete(remaining, fields[2])
	}

	missing := make([]string, 0, len(remaining))
	for d := range remaining {
		missing = append(missing, d)
	}
	return len(missing) == 0, missing
}

func parseDiskstats(path string, devices []string, out *Sample) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("disk: open %s: %w", path, err)
	}
	defer f.Close()

	remaining := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		remaining[d] = struct{}{}
	}

	out.Disks = make([]Stat, 0, len(devices))

	sc := bufio.NewScanner(f)
	for len(remaining) > 0 && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		device := fields[2]
		if _, want := remaining[device]; !want {
			continue
		}
		delete(remaining, device)

		vals := fields[3:]
		stat := Stat{Device: device}
		if len(vals) < 17 {
			out.Disks = append(out.Disks, stat)
			continue
		}
		stat.ReadsCompleted = parseU64(vals[0])
		stat.ReadsMerged = parseU64(vals[1])
		stat.SectorsRead = parseU64(vals[2])
		stat.TimeSpentReadingMs = parseU64(vals[3])
		stat.WritesCompleted = parseU64(vals[4])
		stat.WritesMerged = parseU64(vals[5])
		stat.SectorsWritten = parseU64(vals[6])
		stat.TimeSpentWritingMs = parseU64(vals[7])
		stat.IOInProgress = parseU64(vals[8])
		stat.TimeSpentIOMs = parseU64(vals[9])
		stat.WeightedTimeSpentIOMs = parseU64(vals[10])
		stat.DiscardCompleted = parseU64(vals[11])
		stat.DiscardMerged = parseU64(vals[12])
		stat.DiscardSectors = parseU64(vals[13])
		stat.TimeSpentDiscardingMs = parseU64(vals[14])
		stat.FlushCompleted = parseU64(vals[15])
		stat.TimeSpentFlushingMs = parseU64(vals[16])
		out.Disks = append(out.Disks, stat)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("disk: scan %s: %w", path, err)
	}

	if len(remaining) > 0 {
		missing := make([]string, 0, len(remaining))
		for d := range remaining {
			missing = append(missing, d)
		}
		return fmt.Errorf("%w: devices not found: %s", meter.ErrPartialSample, strings.Join(missing, ", "))
	}
	return nil
}

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
