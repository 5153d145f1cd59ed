// Package record defines the opaque, serializable record values that
// meters append to and the length-prefixed wire framing used to persist
// them to disk.
package record

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Series is a time-series wrapper around a meter's sample type. Exactly
// two instances of a Series exist per meter (active/shadow); the engine
// never inspects individual samples, only the wrapper as a whole.
type Series interface {
	// Clear truncates the series to zero samples without releasing the
	// underlying slice capacity, so repeated ticks don't re-allocate.
	Clear()
	// Len reports the number of samples currently buffered.
	Len() int
	// MemorySize estimates the in-memory footprint in bytes; best effort,
	// 0 when empty.
	MemorySize() int
	// WireSize returns the exact number of bytes WriteTo would emit.
	WireSize() (int, error)
	// WriteTo serializes the series to w, returning the number of payload
	// bytes written (not including the frame header).
	WriteTo(w io.Writer) (int64, error)
}

// TimeSeries[T] is the generic time-series wrapper every concrete meter
// instantiates with its own sample type. It implements Series.
type TimeSeries[T any] struct {
	Samples []T `cbor:"samples"`
}

// Add appends a zero-value sample and returns a pointer to it for the
// caller to populate in place.
func (ts *TimeSeries[T]) Add() *T {
	ts.Samples = append(ts.Samples, *new(T))
	return &ts.Samples[len(ts.Samples)-1]
}

func (ts *TimeSeries[T]) Clear() {
	ts.Samples = ts.Samples[:0]
}

func (ts *TimeSeries[T]) Len() int { return len(ts.Samples) }

func (ts *TimeSeries[T]) MemorySize() int {
	if len(ts.Samples) == 0 {
		return 0
	}
	var zero T
	return cap(ts.Samples) * sizeofApprox(zero)
}

func (ts *TimeSeries[T]) WireSize() (int, error) {
	if len(ts.Samples) == 0 {
		return 0, nil
	}
	b, err := Marshal(ts)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (ts *TimeSeries[T]) WriteTo(w io.Writer) (int64, error) {
	if len(ts.Samples) == 0 {
		return 0, nil
	}
	b, err := Marshal(ts)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// sizeofApprox gives a rough per-sample byte estimate without pulling in
// unsafe.Sizeof's alignment subtleties for every call site; callers only
// need an order-of-magnitude figure for reportStatus.
func sizeofApprox(v any) int {
	b, err := Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

// WriteFrame writes one write-unit: a fixed-width host-endian size header
// followed by the exact payload. It returns the total bytes written
// (header + payload).
func WriteFrame(w io.Writer, s Series) (int64, error) {
	size, err := s.WireSize()
	if err != nil {
		return 0, fmt.Errorf("record: compute wire size: %w", err)
	}
	if size == 0 {
		return 0, nil
	}

	var header [8]byte
	binary.NativeEndian.PutUint64(header[:], uint64(size))
	hn, err := w.Write(header[:])
	if err != nil {
		return int64(hn), fmt.Errorf("record: write frame header: %w", err)
	}

	pn, err := s.WriteTo(w)
	if err != nil {
		return int64(hn) + pn, fmt.Errorf("record: write frame payload: %w", err)
	}
	return int64(hn) + pn, nil
}

// ReadFrame reads one write-unit from r and CBOR-decodes it into dst,
// which must be a pointer to a type WriteFrame previously encoded (e.g.
// *TimeSeries[cpu.Sample]). It returns io.EOF when r is exhausted exactly
// at a frame boundary.
func ReadFrame(r io.Reader, dst any) error {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.NativeEndian.Uint64(header[:])

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("record: read frame payload: %w", err)
	}
	return Unmarshal(payload, dst)
}
