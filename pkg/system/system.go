// Package system implements a recording session: a named collection of
// meters sharing one sample period, writing to one output directory. A
// System starts in the idle state; StartRecording spins up a worker
// pool, StopRecording halts it and flushes every meter's buffer.
package system

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ja7ad/msys/pkg/meter"
	"github.com/ja7ad/msys/pkg/types"
	"github.com/ja7ad/msys/pkg/workerpool"
)

// DefaultName is used by Name when a System was constructed with an
// empty name.
const DefaultName = "(unnamed system)"

var (
	// ErrAlreadyRecording is returned by operations that require the
	// system to be idle.
	ErrAlreadyRecording = errors.New("system: already recording")

	// ErrNotRecording is returned by StopRecording when the system isn't
	// currently recording.
	ErrNotRecording = errors.New("system: not recording")

	// ErrInvalidMeter is returned by StartRecording/TestRun when any
	// registered meter failed to construct cleanly.
	ErrInvalidMeter = errors.New("system: invalid meter")

	// ErrMixedTickPeriods is returned by StartRecording when a meter's
	// tick period doesn't match the system's default sample period;
	// today every meter in a system must share one period.
	ErrMixedTickPeriods = errors.New("system: meter tick period does not match system default")

	// ErrDuplicateOutputPath is returned by StartRecording when two
	// meters would write to the same output file.
	ErrDuplicateOutputPath = errors.New("system: duplicate meter output path")

	// ErrNoMeters is returned by TestRun when no meters are registered.
	ErrNoMeters = errors.New("system: no meters registered")
)

// System is a named group of meters recording to one output directory on
// one shared tick. Safe for concurrent use.
type System struct {
	logger *zap.Logger

	id         uint32
	name       string
	outputDir  string
	samplePeriod       time.Duration
	writeThresholdBytes int

	mu          sync.Mutex
	inOperation bool
	meters      []meter.Meter
	pool        *workerpool.Pool
}

// New constructs a System. It does not touch the filesystem or start any
// goroutines; call AddMeter then StartRecording to begin sampling.
func New(logger *zap.Logger, id uint32, name, outputDir string, samplePeriod time.Duration, writeThreshold types.Bytes) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &System{
		logger:              logger,
		id:                  id,
		name:                name,
		outputDir:           outputDir,
		samplePeriod:        samplePeriod,
		writeThresholdBytes: int(writeThreshold),
	}
}

// ID returns the system's identifier within its registry.
func (s *System) ID() uint32 { return s.id }

// Name returns the system's name, or DefaultName if it was constructed
// without one.
func (s *System) Name() string {
	if s.name == "" {
		return DefaultName
	}
	return s.name
}

// OutputDir returns the directory meters write their files into.
func (s *System) OutputDir() string { return s.outputDir }

// DefaultSamplePeriod returns the tick period every meter must share.
func (s *System) DefaultSamplePeriod() time.Duration { return s.samplePeriod }

// MsgWriteSizeThreshold returns the wire-size threshold, in bytes, that
// triggers an async write-out for a meter's buffer.
func (s *System) MsgWriteSizeThreshold() int { return s.writeThresholdBytes }

// IsRecording reports whether the system is currently in operation.
func (s *System) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inOperation
}

// AddMeter registers a meter. It fails if the system is currently
// recording; meters can only be added while idle.
func (s *System) AddMeter(m meter.Meter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inOperation {
		return ErrAlreadyRecording
	}
	s.meters = append(s.meters, m)
	return nil
}

// isValidLocked reports whether every registered meter is valid. Caller
// must hold s.mu.
func (s *System) isValidLocked() bool {
	for _, m := range s.meters {
		if !m.IsValid() {
			return false
		}
	}
	return true
}

// StartRecording assigns every meter its output file and starts the
// worker pool. It fails if the system is already recording, any meter is
// invalid, any meter's tick period doesn't match the system default, or
// two meters would write to the same output path.
func (s *System) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inOperation {
		return ErrAlreadyRecording
	}
	if !s.isValidLocked() {
		return fmt.Errorf("%w: system #%d (%s) has at least one invalid meter", ErrInvalidMeter, s.id, s.Name())
	}

	for _, m := range s.meters {
		if m.TickPeriod() != s.samplePeriod {
			return fmt.Errorf("%w: meter %s has tick period %s, system default is %s",
				ErrMixedTickPeriods, m.Name(), m.TickPeriod(), s.samplePeriod)
		}
	}

	seen := make(map[string]struct{}, len(s.meters))
	for _, m := range s.meters {
		if err := m.AssignOutputDir(s.outputDir); err != nil {
			return fmt.Errorf("system: assign output dir: %w", err)
		}
		path := m.OutputPath()
		if _, dup := seen[path]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateOutputPath, path)
		}
		seen[path] = struct{}{}
	}

	s.pool = workerpool.NewPool(s.logger, s.id, s.Name(), s.meters, s.samplePeriod, s.writeThresholdBytes)
	s.pool.Start()
	s.inOperation = true

	s.logger.Info("system started recording",
		zap.Uint32("system_id", s.id), zap.String("system_name", s.Name()), zap.Int("meters", len(s.meters)))
	return nil
}

// StopRecording halts the worker pool and flushes every meter's
// remaining buffered samples to disk.
func (s *System) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inOperation {
		return ErrNotRecording
	}
	s.haltLocked()
	s.inOperation = false
	return nil
}

// Halt stops the worker pool (if running) and flushes every meter,
// without changing the recording flag's externally observable meaning
// beyond what StopRecording already does. Registry.Shutdown calls this
// directly on every system during process termination.
func (s *System) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltLocked()
	wasRecording := s.inOperation
	s.inOperation = false
	if wasRecording {
		s.logger.Info("system halted", zap.Uint32("system_id", s.id), zap.String("system_name", s.Name()))
	} else {
		s.logger.Info("system halt requested while not recording", zap.Uint32("system_id", s.id))
	}
}

func (s *System) haltLocked() {
	if s.pool != nil {
		s.pool.Stop()
		s.pool = nil
	}
	for _, m := range s.meters {
		if _, err := m.WriteDataToFile(true); err != nil && !errors.Is(err, meter.ErrWriteBusy) {
			s.logger.Error("flush on halt failed", zap.String("meter", m.Name()), zap.Error(err))
		}
		if err := m.FsyncDataToFile(); err != nil {
			s.logger.Error("fsync on halt failed", zap.String("meter", m.Name()), zap.Error(err))
		}
	}
}

// ResetAllBuffers clears every meter's active and shadow buffers. It
// refuses to act while the system is recording, since a worker goroutine
// could be mid-update.
func (s *System) ResetAllBuffers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inOperation {
		return ErrAlreadyRecording
	}
	s.resetAllBuffersLocked()
	return nil
}

func (s *System) resetAllBuffersLocked() {
	for _, m := range s.meters {
		m.ResetBuffer()
	}
}

// Update runs one manual update of every registered meter. It's meant
// for callers that drive ticks themselves (e.g. msysTestRun-equivalent
// one-shot sampling) rather than going through StartRecording's worker
// pool.
func (s *System) Update() error {
	s.mu.Lock()
	meters := append([]meter.Meter(nil), s.meters...)
	s.mu.Unlock()

	var failed []string
	for _, m := range meters {
		if err := m.Update(false); err != nil && !errors.Is(err, meter.ErrPartialSample) {
			failed = append(failed, fmt.Sprintf("%s: %v", m.Name(), err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("system: meter update failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

// TestRun exercises every meter once and logs a cadence estimate derived
// from its wire size and the system's write threshold: roughly how often
// a real recording session would hit the threshold and flush to disk. It
// leaves every meter's buffer empty when it returns successfully.
func (s *System) TestRun() error {
	s.mu.Lock()
	if s.inOperation {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	s.inOperation = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inOperation = false
		s.mu.Unlock()
	}()

	s.mu.Lock()
	meters := append([]meter.Meter(nil), s.meters...)
	s.mu.Unlock()

	if len(meters) == 0 {
		return ErrNoMeters
	}
	for _, m := range meters {
		if !m.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidMeter, m.Name())
		}
	}

	s.logger.Info("test run started", zap.Uint32("system_id", s.id), zap.Int("meters", len(meters)))

	s.mu.Lock()
	s.resetAllBuffersLocked()
	s.mu.Unlock()

	samplePeriodMS := float64(s.samplePeriod.Milliseconds())
	var totalWireSize int
	var failed []string

	for _, m := range meters {
		start := time.Now()
		err := m.Update(true)
		duration := time.Since(start)

		wireSize, sizeErr := m.CurrentMessageSerializedSize()
		if sizeErr != nil {
			failed = append(failed, fmt.Sprintf("%s: wire size: %v", m.Name(), sizeErr))
			continue
		}
		if err != nil && !errors.Is(err, meter.ErrPartialSample) {
			failed = append(failed, fmt.Sprintf("%s: %v", m.Name(), err))
			continue
		}
		if wireSize == 0 {
			s.logger.Error("test run produced zero wire size", zap.String("meter", m.Name()))
			failed = append(failed, fmt.Sprintf("%s: zero wire size", m.Name()))
			continue
		}
		totalWireSize += wireSize

		nwrites := (s.writeThresholdBytes + wireSize - 1) / wireSize
		avgWriteIntervalMS := samplePeriodMS * float64(s.writeThresholdBytes) / float64(wireSize)

		s.logger.Info("meter test run succeeded",
			zap.String("meter", m.Name()),
			zap.Int("write_threshold_bytes", s.writeThresholdBytes),
			zap.Int("single_sample_wire_size_bytes", wireSize),
			zap.Float64("avg_write_interval_ms", avgWriteIntervalMS),
			zap.Int("writes_expected", nwrites),
			zap.Duration("update_duration", duration),
			zap.Float64("update_duration_pct_of_period", duration.Seconds()/s.samplePeriod.Seconds()*100))
	}

	writeSizePerSec := float64(totalWireSize) / samplePeriodMS * 1000
	s.logger.Info("test run finished",
		zap.Uint32("system_id", s.id),
		zap.String("total_wire_size", types.Bytes(totalWireSize).Humanized()),
		zap.Float64("write_bytes_per_sec", writeSizePerSec))

	s.mu.Lock()
	s.resetAllBuffersLocked()
	s.mu.Unlock()

	if len(failed) > 0 {
		return fmt.Errorf("system: test run failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

// ReportStatus renders a human-readable status block for the system and
// every registered meter, matching reportStatus's layout: name, output
// dir, meter count, then per-meter tick period / written stats / sizes,
// optionally followed by each meter's detailed report.
func (s *System) ReportStatus(detail bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	status := "Not In Operation"
	if s.inOperation {
		status = "In Operation"
	}
	fmt.Fprintf(&b, "# === System Status Report on Instance #%d (%s) ===\n", s.id, status)
	fmt.Fprintf(&b, "  System Name: %s\n", s.Name())
	fmt.Fprintf(&b, "  Output Dir:  %s\n", s.outputDir)
	fmt.Fprintf(&b, "  Has #meter:  %d\n", len(s.meters))

	for idx, m := range s.meters {
		writtenSize := types.Bytes(m.WrittenSize())
		wireSize, _ := m.CurrentMessageSerializedSize()
		memSize := m.CurrentMessageMemorySize()

		fmt.Fprintf(&b, "  Meter #%-4d: %s\n", idx, m.Name())
		fmt.Fprintf(&b, "    Tick Period:   %s\n", m.TickPeriod())
		fmt.Fprintf(&b, "    Written times: %d times\n", m.WrittenTimes())
		fmt.Fprintf(&b, "    Written size:  %s\n", writtenSize.Humanized())
		fmt.Fprintf(&b, "    Msg wire size: %s\n", types.Bytes(wireSize).Humanized())
		fmt.Fprintf(&b, "    Msg mem size:  %s\n", types.Bytes(memSize).Humanized())

		if detail {
			if dr := m.GetDetailedReport(); dr != "" {
				fmt.Fprintf(&b, "    Detailed Report:\n%s\n", indent(dr, "      "))
			} else {
				b.WriteString("    No detailed report available\n")
			}
		}
	}
	b.WriteString("# === Report END ===")
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
