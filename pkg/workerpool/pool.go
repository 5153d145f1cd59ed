// Package workerpool runs the coordinator/worker tick loop that drives a
// System's meters. One coordinator goroutine owns the wall-clock
// schedule; one worker goroutine per meter does the actual sampling. A
// Barrier with len(meters)+1 parties keeps every round in lockstep: the
// coordinator releases all workers at the top of a round, then waits for
// all of them to finish before checking write thresholds and computing
// the next round's deadline.
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ja7ad/msys/pkg/meter"
	"github.com/ja7ad/msys/pkg/system/util"
)

// durationSmoothing is the EMA alpha applied to each meter's observed
// update duration, trading the original's unbounded duration deque for a
// single smoothed estimate — see DESIGN.md.
const durationSmoothing = 0.3

// skewWarnFraction is the fraction of the sample period under which the
// coordinator warns that a round is running too close to the next tick.
const skewWarnFraction = 0.1

// Pool owns the coordinator and worker goroutines for one System. It is
// constructed fresh per recording session; call Stop once to tear it
// down, same as the original's WorkerInfo being destructed.
type Pool struct {
	logger       *zap.Logger
	systemID     uint32
	systemName   string
	meters       []meter.Meter
	samplePeriod time.Duration
	writeThresholdBytes int

	barrier *Barrier
	stop    atomic.Bool
	wg      sync.WaitGroup

	creationTime time.Time

	durMu     sync.Mutex
	durEMA    []*util.EMA
	durLastNS []int64
	finishNS  []atomic.Int64

	prevWrittenSize []uint64 // last round's WrittenSize() per meter, for delta logging
}

// NewPool constructs a Pool ready to Start. meters must all share
// samplePeriod as their tick period; System enforces that invariant
// before constructing a Pool.
func NewPool(logger *zap.Logger, systemID uint32, systemName string, meters []meter.Meter, samplePeriod time.Duration, writeThresholdBytes int) *Pool {
	return &Pool{
		logger:              logger,
		systemID:            systemID,
		systemName:          systemName,
		meters:              meters,
		samplePeriod:        samplePeriod,
		writeThresholdBytes: writeThresholdBytes,
		creationTime:        time.Now(),
	}
}

// Start spawns the coordinator and one worker goroutine per meter. Start
// must be called at most once.
func (p *Pool) Start() {
	n := len(p.meters)
	p.barrier = NewBarrier(n + 1) // +1 for the coordinator
	p.durEMA = make([]*util.EMA, n)
	for i := range p.durEMA {
		p.durEMA[i] = util.NewEMA(durationSmoothing)
	}
	p.durLastNS = make([]int64, n)
	p.finishNS = make([]atomic.Int64, n)
	p.prevWrittenSize = make([]uint64, n)

	p.wg.Add(n + 1)
	go p.coordinatorLoop()
	for idx := range p.meters {
		go p.workerLoop(idx)
	}

	p.logger.Info("worker pool started",
		zap.Uint32("system_id", p.systemID),
		zap.String("system_name", p.systemName),
		zap.Int("meters", n))
}

// Stop signals every goroutine to exit at its next opportunity and waits
// for them to finish. Stop is idempotent only in the sense that calling
// it twice is safe; a second call simply waits again.
func (p *Pool) Stop() {
	p.stop.Store(true)
	p.wg.Wait()
	p.logger.Info("worker pool stopped",
		zap.Uint32("system_id", p.systemID),
		zap.String("system_name", p.systemName))
}

func (p *Pool) coordinatorLoop() {
	defer p.wg.Done()

	next := p.creationTime.Add(p.samplePeriod)
	for {
		time.Sleep(time.Until(next))

		if p.stop.Load() {
			p.barrier.Drop()
			return
		}

		p.barrier.Wait() // release workers to start sampling
		p.barrier.Wait() // wait for every worker to finish this round

		for idx, m := range p.meters {
			size, err := m.CurrentMessageSerializedSize()
			if err != nil {
				p.logger.Error("compute wire size failed",
					zap.String("meter", m.Name()), zap.Error(err))
				continue
			}
			if size < p.writeThresholdBytes {
				continue
			}
			if _, err := m.WriteDataToFile(false); err != nil && !errors.Is(err, meter.ErrWriteBusy) {
				p.logger.Error("write data to file failed",
					zap.String("meter", m.Name()), zap.Error(err))
				continue
			}
			written := m.WrittenSize()
			delta := util.DeltaU64(written, p.prevWrittenSize[idx])
			p.prevWrittenSize[idx] = written
			p.logger.Debug("flushed meter buffer",
				zap.String("meter", m.Name()), zap.Uint64("bytes_written_this_flush", delta))
		}

		finish := time.Now()
		next = next.Add(p.samplePeriod)
		remaining := next.Sub(finish)

		// dutyCycle is the fraction of the sample period this round actually
		// consumed, clamped to [0,1] since a round that overruns the next
		// deadline entirely isn't a meaningfully larger duty cycle.
		dutyCycle := util.Clamp01(1 - util.SafeDiv(remaining.Seconds(), p.samplePeriod.Seconds()))

		warnThreshold := time.Duration(float64(p.samplePeriod) * skewWarnFraction)
		if remaining < warnThreshold {
			p.logger.Warn("round finished too close to next tick, consider increasing sample period",
				zap.Uint32("system_id", p.systemID),
				zap.String("system_name", p.systemName),
				zap.Duration("remaining", remaining),
				zap.Duration("sample_period", p.samplePeriod),
				zap.Float64("duty_cycle_pct", dutyCycle*100))
		}
	}
}

func (p *Pool) workerLoop(idx int) {
	defer p.wg.Done()
	m := p.meters[idx]

	for {
		p.barrier.Wait() // wait for the coordinator's start signal

		if p.stop.Load() {
			p.barrier.Drop()
			return
		}

		start := time.Now()
		err := m.Update(false)
		dur := time.Since(start)

		if err != nil && !errors.Is(err, meter.ErrPartialSample) {
			p.logger.Error("meter update failed", zap.String("meter", m.Name()), zap.Error(err))
		}

		p.recordDuration(idx, dur)
		p.finishNS[idx].Store(time.Now().UnixNano())

		p.barrier.Wait() // tell the coordinator this worker is done
	}
}

func (p *Pool) recordDuration(idx int, d time.Duration) {
	p.durMu.Lock()
	defer p.durMu.Unlock()
	p.durLastNS[idx] = int64(p.durEMA[idx].Next(float64(d)))
}

// AverageDuration returns the EMA-smoothed update duration for the meter
// at idx, or zero if no samples have been recorded yet.
func (p *Pool) AverageDuration(idx int) time.Duration {
	p.durMu.Lock()
	defer p.durMu.Unlock()
	if idx < 0 || idx >= len(p.durLastNS) {
		return 0
	}
	return time.Duration(p.durLastNS[idx])
}

// LastFinishTime returns the wall-clock time the meter at idx last
// finished an update, or the zero time if it hasn't run yet.
func (p *Pool) LastFinishTime(idx int) time.Time {
	if idx < 0 || idx >= len(p.finishNS) {
		return time.Time{}
	}
	ns := p.finishNS[idx].Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (p *Pool) String() string {
	return fmt.Sprintf("workerpool(system=#%d %q, meters=%d, period=%s)",
		p.systemID, p.systemName, len(p.meters), p.samplePeriod)
}
