//go:build linux

// Package process samples /proc/<pid>/{stat,statm,io} for a fixed set of
// PIDs and a caller-selected set of probes.
package process

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ja7ad/msys/pkg/kvrepr"
	"github.com/ja7ad/msys/pkg/meter"
	"github.com/ja7ad/msys/pkg/record"
)

// Probe names the three per-process files this meter can read.
type Probe string

const (
	ProbeStat  Probe = "stat"
	ProbeStatm Probe = "statm"
	ProbeIO    Probe = "io"
)

// AllProbes lists every supported probe.
var AllProbes = []Probe{ProbeStat, ProbeStatm, ProbeIO}

// StatFields is the subset of /proc/<pid>/stat relevant to resource
// monitoring (comm and scheduler-internal fields are skipped).
type StatFields struct {
	State       string `cbor:"state"`
	MinFlt      uint64 `cbor:"minflt"`
	CMinFlt     uint64 `cbor:"cminflt"`
	MajFlt      uint64 `cbor:"majflt"`
	CMajFlt     uint64 `cbor:"cmajflt"`
	UTime       uint64 `cbor:"utime"`
	STime       uint64 `cbor:"stime"`
	CUTime      int64  `cbor:"cutime"`
	CSTime      int64  `cbor:"cstime"`
	Priority    int64  `cbor:"priority"`
	Nice        int64  `cbor:"nice"`
	NumThreads  int64  `cbor:"num_threads"`
	VSize       uint64 `cbor:"vsize"`
}

// StatmFields is /proc/<pid>/statm, in pages.
type StatmFields struct {
	Size     uint64 `cbor:"size"`
	Resident uint64 `cbor:"resident"`
	Share    uint64 `cbor:"share"`
	Text     uint64 `cbor:"text"`
	Lib      uint64 `cbor:"lib"`
	Data     uint64 `cbor:"data"`
	Dt       uint64 `cbor:"dt"`
}

// IOFields is /proc/<pid>/io.
type IOFields struct {
	RChar               uint64 `cbor:"rchar"`
	WChar               uint64 `cbor:"wchar"`
	SyscR               uint64 `cbor:"syscr"`
	SyscW               uint64 `cbor:"syscw"`
	ReadBytes           uint64 `cbor:"read_bytes"`
	WriteBytes          uint64 `cbor:"write_bytes"`
	CancelledWriteBytes uint64 `cbor:"cancelled_write_bytes"`
}

// PerProcess holds whichever probes were enabled for one pid this tick.
type PerProcess struct {
	PID   int          `cbor:"pid"`
	Stat  *StatFields  `cbor:"stat,omitempty"`
	Statm *StatmFields `cbor:"statm,omitempty"`
	IO    *IOFields    `cbor:"io,omitempty"`
}

// Sample is one tick's worth of readings across every monitored pid.
type Sample struct {
	TimestampNanos int64        `cbor:"ts"`
	Processes      []PerProcess `cbor:"processes"`
}

type series = record.TimeSeries[Sample]

// Meter samples per-process resource counters for a fixed pid list.
type Meter struct {
	*meter.Base[series, *series]
	pids   []int
	probes map[Probe]struct{}
	root   string // overridable /proc root, for tests
}

// New constructs a process meter. It is marked valid only if pids and
// probes are both non-empty.
func New(tickPeriod time.Duration, pids []int, probes []Probe) *Meter {
	return newWithRoot(tickPeriod, pids, probes, "/proc")
}

func newWithRoot(tickPeriod time.Duration, pids []int, probes []Probe, root string) *Meter {
	set := make(map[Probe]struct{}, len(probes))
	for _, p := range probes {
		set[p] = struct{}{}
	}
	m := &Meter{
		Base:   meter.NewBase[series, *series]("ProcMeter", tickPeriod),
		pids:   pids,
		probes: set,
		root:   root,
	}
	if len(pids) > 0 && len(probes) > 0 {
		m.MarkValid()
	}
	return m
}

// Update samples every enabled probe for every monitored pid. A failure
// on one pid/probe is recorded but does not stop the others.
func (m *Meter) Update(testRun bool) error {
	sample := m.CurrentBuffer().Add()
	sample.TimestampNanos = meter.MonotonicNanos()
	sample.Processes = make([]PerProcess, 0, len(m.pids))

	var errs []string
	for _, pid := range m.pids {
		pp := PerProcess{PID: pid}
		if _, ok := m.probes[ProbeStat]; ok {
			sf, err := parseStat(m.pidPath(pid, "stat"))
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				pp.Stat = sf
			}
		}
		if _, ok := m.probes[ProbeStatm]; ok {
			sm, err := parseStatm(m.pidPath(pid, "statm"))
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				pp.Statm = sm
			}
		}
		if _, ok := m.probes[ProbeIO]; ok {
			io, err := parseIO(m.pidPath(pid, "io"))
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				pp.IO = io
			}
		}
		sample.Processes = append(sample.Processes, pp)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", meter.ErrPartialSample, strings.Join(errs, "; "))
	}
	return nil
}

func (m *Meter) pidPath(pid int, file string) string {
	return filepath.Join(m.root, strconv.Itoa(pid), file)
}

// GetDetailedReport lists monitored pids and enabled probes.
func (m *Meter) GetDetailedReport() string {
	var b strings.Builder
	b.WriteString("Monitored PIDs:")
	for _, pid := range m.pids {
		fmt.Fprintf(&b, "\n  - %d", pid)
	}
	b.WriteString("\nEnabled probe(s):")
	for _, p := range AllProbes {
		if _, ok := m.probes[p]; ok {
			fmt.Fprintf(&b, "\n  - %s", p)
		}
	}
	return b.String()
}

// parseStat reads the fields of /proc/<pid>/stat relevant to resource
// monitoring. The comm field is wrapped in parentheses and may itself
// contain spaces/parens, so it's skipped by scanning past the last ") ".
func parseStat(path string) (*StatFields, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("process: open %s: %w", path, err)
	}
	line := strings.TrimRight(string(data), "\n")
	idx := strings.LastIndex(line, ") ")
	if idx < 0 {
		return nil, fmt.Errorf("process: malformed stat %s", path)
	}
	rest := strings.Fields(line[idx+2:])
	// rest[0]=state [1]ppid [2]pgrp [3]session [4]tty_nr [5]tpgid [6]flags
	// [7]minflt [8]cminflt [9]majflt [10]cmajflt [11]utime [12]stime
	// [13]cutime [14]cstime [15]priority [16]nice [17]num_threads
	// [18]itrealvalue [19]starttime [20]vsize ...
	if len(rest) < 21 {
		return nil, fmt.Errorf("process: short stat %s: got %d fields", path, len(rest))
	}
	sf := &StatFields{State: rest[0]}
	sf.MinFlt = parseU64(rest[7])
	sf.CMinFlt = parseU64(rest[8])
	sf.MajFlt = parseU64(rest[9])
	sf.CMajFlt = parseU64(rest[10])
	sf.UTime = parseU64(rest[11])
	sf.STime = parseU64(rest[12])
	sf.CUTime = parseI64(rest[13])
	sf.CSTime = parseI64(rest[14])
	sf.Priority = parseI64(rest[15])
	sf.Nice = parseI64(rest[16])
	sf.NumThreads = parseI64(rest[17])
	sf.VSize = parseU64(rest[20])
	return sf, nil
}

func parseStatm(path string) (*StatmFields, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("process: open %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 7 {
		return nil, fmt.Errorf("process: short statm %s: got %d fields", path, len(fields))
	}
	return &StatmFields{
		Size:     parseU64(fields[0]),
		Resident: parseU64(fields[1]),
		Share:    parseU64(fields[2]),
		Text:     parseU64(fields[3]),
		Lib:      parseU64(fields[4]),
		Data:     parseU64(fields[5]),
		Dt:       parseU64(fields[6]),
	}, nil
}

var ioKeys = []string{"rchar", "wchar", "syscr", "syscw", "read_bytes", "write_bytes", "cancelled_write_bytes"}

func parseIO(path string) (*IOFields, error) {
	var io IOFields
	dst := map[string]*uint64{
		"rchar": &io.RChar, "wchar": &io.WChar, "syscr": &io.SyscR, "syscw": &io.SyscW,
		"read_bytes": &io.ReadBytes, "write_bytes": &io.WriteBytes,
		"cancelled_write_bytes": &io.CancelledWriteBytes,
	}
	setters := make([]kvrepr.FieldSetter, len(ioKeys))
	for i, k := range ioKeys {
		setters[i] = kvrepr.Uint64(dst[k])
	}
	kv, err := kvrepr.New(path, kvrepr.Layout{Descriptors: []kvrepr.Descriptor{{Name: "io", Keys: ioKeys, Setters: setters}}})
	if err != nil {
		return nil, fmt.Errorf("process: build io parser for %s: %w", path, err)
	}
	if err := kv.ParseOnce(); err != nil {
		return nil, err
	}
	if missing := kv.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("process: %s missing fields: %s", path, strings.Join(missing, ", "))
	}
	return &io, nil
}

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseI64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// ExpandTree performs a breadth-first walk of /proc/<pid>/task/*/children
// to collect a process and its full descendant set. It supplements the
// fixed pid list callers may pass to New when they only know a root pid.
func ExpandTree(rootPID int) ([]int, error) {
	return expandTreeWithRoot(rootPID, "/proc")
}

func expandTreeWithRoot(rootPID int, root string) ([]int, error) {
	pids := []int{rootPID}
	queue := []int{rootPID}
	seen := map[int]struct{}{rootPID: {}}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		taskDir := filepath.Join(root, strconv.Itoa(pid), "task")
		entries, err := os.ReadDir(taskDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			childrenPath := filepath.Join(taskDir, e.Name(), "children")
			children, err := readChildren(childrenPath)
			if err != nil {
				continue
			}
			for _, c := range children {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				pids = append(pids, c)
				queue = append(queue, c)
			}
		}
	}
	return pids, nil
}

func readChildren(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	var out []int
	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			if v, err := strconv.Atoi(tok); err == nil {
				out = append(out, v)
			}
		}
	}
	return out, sc.Err()
}
