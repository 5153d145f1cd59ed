// Package meter provides the double-buffered, async-write sampling base
// that every concrete /proc meter embeds. A meter owns two instances of
// its time series: one actively receiving samples ("active") and one
// either idle or mid-write ("shadow"). WriteDataToFile atomically swaps
// them and hands the filled buffer to a detached goroutine, so a slow
// disk never stalls the next tick's sampling.
package meter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ja7ad/msys/pkg/record"
)

// MinTickPeriod mirrors the original's period_step floor. Base does not
// enforce it: NewBase keeps whatever tick period it is given.
const MinTickPeriod = 100 * time.Millisecond

const defaultFileSuffix = ".cbor.bin"

// monotonicEpoch is captured once, at package init, as the reference point
// every sample timestamp is measured from.
var monotonicEpoch = time.Now()

// MonotonicNanos returns nanoseconds elapsed since monotonicEpoch, the Go
// stand-in for the original's steady_clock::now().time_since_epoch().
// time.Since subtracts the monotonic reading embedded in both time.Time
// values, so the result is unaffected by wall-clock adjustments (NTP steps,
// leap seconds), which t.UnixNano() alone is not. Every concrete meter calls
// this instead of time.Now().UnixNano() when stamping a sample.
func MonotonicNanos() int64 {
	return int64(time.Since(monotonicEpoch))
}

// SeriesPtr constrains S so that *S implements record.Series — the
// generic equivalent of the original's proto::Message factory parameter.
// Every concrete meter instantiates Base with its own sample type, e.g.
// Base[record.TimeSeries[cpu.Sample], *record.TimeSeries[cpu.Sample]].
type SeriesPtr[S any] interface {
	*S
	record.Series
}

// Base is embedded by every concrete meter. It is not safe to copy.
type Base[S any, PS SeriesPtr[S]] struct {
	name       string
	fileSuffix string
	tickPeriod time.Duration

	active atomic.Pointer[S]
	shadow atomic.Pointer[S] // nil while a write is in flight

	mu         sync.Mutex
	file       *os.File
	outputPath string

	writeWG      sync.WaitGroup
	writtenTimes atomic.Uint64
	writtenSize  atomic.Uint64

	valid atomic.Bool
}

// NewBase constructs a Base with fresh, empty active/shadow buffers.
func NewBase[S any, PS SeriesPtr[S]](name string, tickPeriod time.Duration) *Base[S, PS] {
	b := &Base[S, PS]{
		name:       name,
		fileSuffix: defaultFileSuffix,
		tickPeriod: tickPeriod,
	}
	b.active.Store(new(S))
	b.shadow.Store(new(S))
	return b
}

// WithFileSuffix overrides the default output file suffix.
func (b *Base[S, PS]) WithFileSuffix(suffix string) *Base[S, PS] {
	b.fileSuffix = suffix
	return b
}

func (b *Base[S, PS]) Name() string               { return b.name }
func (b *Base[S, PS]) TickPeriod() time.Duration   { return b.tickPeriod }
func (b *Base[S, PS]) IsValid() bool               { return b.valid.Load() }
func (b *Base[S, PS]) MarkValid()                  { b.valid.Store(true) }
func (b *Base[S, PS]) WrittenTimes() uint64         { return b.writtenTimes.Load() }
func (b *Base[S, PS]) WrittenSize() uint64          { return b.writtenSize.Load() }
func (b *Base[S, PS]) OutputPath() string           { return b.outputPath }

// CurrentBuffer returns the active buffer for the concrete meter's update
// method to append samples to.
func (b *Base[S, PS]) CurrentBuffer() PS {
	return PS(b.active.Load())
}

// ResetBuffer clears both the active and shadow buffers in place.
func (b *Base[S, PS]) ResetBuffer() {
	PS(b.active.Load()).Clear()
	if s := b.shadow.Load(); s != nil {
		PS(s).Clear()
	}
}

// CurrentMessageMemorySize estimates the active buffer's footprint.
func (b *Base[S, PS]) CurrentMessageMemorySize() int {
	return PS(b.active.Load()).MemorySize()
}

// CurrentMessageSerializedSize returns the active buffer's exact wire size.
func (b *Base[S, PS]) CurrentMessageSerializedSize() (int, error) {
	return PS(b.active.Load()).WireSize()
}

// AssignOutputDir opens name+suffix under dir for writing, truncating any
// existing file, and records the canonical output path.
func (b *Base[S, PS]) AssignOutputDir(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := filepath.Join(dir, b.name+b.fileSuffix)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("meter: %s: open output file: %w", b.name, err)
	}
	if b.file != nil {
		_ = b.file.Close()
	}
	b.file = f
	if abs, err := filepath.Abs(path); err == nil {
		b.outputPath = abs
	} else {
		b.outputPath = path
	}
	return nil
}

// WriteDataToFile swaps the filled active buffer with the idle shadow
// buffer and hands the former to a detached goroutine for serialization
// and write-out. It returns the wire size about to be written. When sync
// is true it blocks until that write (and any other outstanding write)
// completes. ErrWriteBusy is returned, without swapping, if the previous
// write hasn't yet returned its buffer.
func (b *Base[S, PS]) WriteDataToFile(sync bool) (int, error) {
	cur := PS(b.active.Load())
	size, err := cur.WireSize()
	if err != nil {
		return 0, fmt.Errorf("meter: %s: compute wire size: %w", b.name, err)
	}
	if size == 0 {
		return 0, nil
	}

	b.mu.Lock()
	f := b.file
	b.mu.Unlock()
	if f == nil {
		return 0, ErrNotOutputAssigned
	}

	freeBuf := b.shadow.Swap(nil)
	if freeBuf == nil {
		return 0, ErrWriteBusy
	}
	b.active.Store(freeBuf)

	toWrite := cur
	b.writeWG.Add(1)
	go func() {
		defer b.writeWG.Done()
		n, werr := record.WriteFrame(f, toWrite)
		if werr == nil {
			b.writtenTimes.Add(1)
			b.writtenSize.Add(uint64(n))
		}
		toWrite.Clear()
		b.shadow.Store((*S)(toWrite))
	}()

	if sync {
		b.writeWG.Wait()
	}
	return size, nil
}

// FsyncDataToFile flushes the output file to stable storage. It does not
// write any buffered samples; call WriteDataToFile first.
func (b *Base[S, PS]) FsyncDataToFile() error {
	b.mu.Lock()
	f := b.file
	b.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("meter: %s: fsync: %w", b.name, err)
	}
	return nil
}

// Close waits for any outstanding async write to complete and closes the
// output file. Safe to call on a meter that was never assigned an output.
func (b *Base[S, PS]) Close() error {
	b.writeWG.Wait()
	b.mu.Lock()
	f := b.file
	b.file = nil
	b.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// GetDetailedReport returns an empty string by default; concrete meters
// override by defining their own method that shadows this one.
func (b *Base[S, PS]) GetDetailedReport() string { return "" }
