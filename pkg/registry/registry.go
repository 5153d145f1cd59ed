//go:build linux

// Package registry is the process-wide home for every System: it hands
// out SystemIDs, keeps the ID→System map, and owns termination handling.
// Go has no direct signal-handler context (a C signal handler runs
// on its own tiny stack with almost nothing safe to call; a goroutine
// woken by signal.Notify is an ordinary goroutine), so cleanup here runs
// on the goroutine draining the notify channel rather than inside a
// low-level handler — the idiomatic Go equivalent of the original's
// sigaction-based processSigTerminationHandler.
package registry

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ja7ad/msys/internal/logging"
	"github.com/ja7ad/msys/pkg/system"
	"github.com/ja7ad/msys/pkg/types"
)

// SystemID identifies a System within the registry.
type SystemID = uint32

// InvalidSystemID is returned by NewSystem on failure.
const InvalidSystemID SystemID = 0

// terminableSignals mirrors the original's terminable_signals array: every
// signal that, left unhandled, would terminate the process. msys installs
// a handler for each so in-flight recordings get flushed first.
var terminableSignals = []os.Signal{
	syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGILL,
	syscall.SIGABRT, syscall.SIGFPE, syscall.SIGSEGV, syscall.SIGPIPE,
	syscall.SIGALRM, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2,
	syscall.SIGBUS, syscall.SIGTRAP, syscall.SIGXCPU, syscall.SIGXFSZ,
	syscall.SIGSYS,
}

var (
	ErrNotInitialized  = errors.New("registry: not initialized")
	ErrAlreadyInit     = errors.New("registry: already initialized")
	ErrSystemNotFound  = errors.New("registry: system not found")
	ErrInvalidOutputDir = errors.New("registry: invalid output directory")
)

var (
	mu          sync.Mutex
	initialized bool
	systems     = make(map[SystemID]*system.System)

	logger *logging.Logger
	sigCh  chan os.Signal
)

// Initialize must be called once before constructing any System. It sets
// up the process-wide logger (writing under logDir) and installs the
// termination signal handler. Calling it twice returns ErrAlreadyInit.
func Initialize(logDir string) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		return ErrAlreadyInit
	}

	l, err := logging.New("info", logDir)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	logger = l
	logger.Logger.Info("registry initialized", zap.String("log_dir", logDir))

	installSignalHandler()
	initialized = true
	return nil
}

// Logger returns the process-wide logger, or a no-op logger if
// Initialize hasn't been called yet (useful in tests).
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Logger
}

// Shutdown halts every registered System, flushing their meters to disk,
// then flushes the logger. It's safe to call from the signal handler or
// explicitly from main; calling it more than once is harmless.
func Shutdown() {
	mu.Lock()
	toHalt := make([]*system.System, 0, len(systems))
	for _, s := range systems {
		toHalt = append(toHalt, s)
	}
	l := logger
	mu.Unlock()

	for _, s := range toHalt {
		s.Halt()
	}
	logging.Flush(l)
}

// NewSystem allocates a fresh SystemID, validates outputDir exists (or
// can be created), constructs a System, and registers it. It holds the
// same registry lock as Initialize for its whole duration.
func NewSystem(name, outputDir string, defaultSamplePeriod time.Duration, writeThreshold types.Bytes) (SystemID, error) {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return InvalidSystemID, ErrNotInitialized
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return InvalidSystemID, fmt.Errorf("%w: %s: %v", ErrInvalidOutputDir, outputDir, err)
	}

	id := newSystemIDLocked()
	systems[id] = system.New(logger.Logger, id, name, outputDir, defaultSamplePeriod, writeThreshold)
	return id, nil
}

// Get retrieves a previously constructed System by ID.
func Get(id SystemID) (*system.System, error) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := systems[id]
	if !ok {
		return nil, fmt.Errorf("%w: #%d", ErrSystemNotFound, id)
	}
	return s, nil
}

// QuickSample runs one manual update across every meter of the named
// system and resets its buffers, the Go analogue of msysTestRun: a
// one-shot sample without the full TestRun cadence-estimation report.
func QuickSample(id SystemID) error {
	s, err := Get(id)
	if err != nil {
		return err
	}
	updateErr := s.Update()
	if resetErr := s.ResetAllBuffers(); resetErr != nil {
		if updateErr != nil {
			return fmt.Errorf("%v; %w", updateErr, resetErr)
		}
		return resetErr
	}
	return updateErr
}

func installSignalHandler() {
	sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, terminableSignals...)

	go func() {
		sig := <-sigCh
		logger.Logger.Warn("terminating signal received, halting systems before re-raising", zap.String("signal", sig.String()))
		Shutdown()

		signal.Stop(sigCh)
		if s, ok := sig.(syscall.Signal); ok {
			signal.Reset(sig)
			_ = syscall.Kill(os.Getpid(), s)
		}
	}()
}
