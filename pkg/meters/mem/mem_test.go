//go:build linux

package mem

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meminfoFixture = `MemTotal:       16384000 kB
MemFree:         4096000 kB
MemAvailable:    8000000 kB
Buffers:           128000 kB
Cached:           900000 kB
SwapCached:             0 kB
SwapTotal:        2048000 kB
SwapFree:         2048000 kB
Zswap:                  0 kB
Zswapped:               0 kB
`

func writeMeminfo(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "meminfo")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewWithPathParsesSelectedProbes(t *testing.T) {
	path := writeMeminfo(t, meminfoFixture)

	m, err := newWithPath(100*time.Millisecond, []Probe{ProbeBasic, ProbeSwap}, path)
	require.NoError(t, err)
	assert.True(t, m.IsValid())

	require.NoError(t, m.Update(false))
	assert.Equal(t, 1, m.CurrentBuffer().Len())

	sample := m.CurrentBuffer().Samples[0]
	assert.Equal(t, uint64(16384000), sample.Probes[ProbeBasic]["MemTotal"])
	assert.Equal(t, uint64(2048000), sample.Probes[ProbeSwap]["SwapTotal"])
}

func TestNewWithPathUnknownProbeErrors(t *testing.T) {
	path := writeMeminfo(t, meminfoFixture)
	_, err := newWithPath(100*time.Millisecond, []Probe{Probe("bogus")}, path)
	assert.Error(t, err)
}

func TestUpdateReportsPartialOnMissingKeys(t *testing.T) {
	path := writeMeminfo(t, "MemTotal: 1000 kB\n")

	m, err := newWithPath(100*time.Millisecond, []Probe{ProbeBasic}, path)
	require.NoError(t, err)
	assert.True(t, m.IsValid())

	err = m.Update(false)
	assert.Error(t, err)
}

func TestGetDetailedReportListsProbes(t *testing.T) {
	path := writeMeminfo(t, meminfoFixture)
	m, err := newWithPath(100*time.Millisecond, []Probe{ProbeBasic, ProbeSwap}, path)
	require.NoError(t, err)

	report := m.GetDetailedReport()
	assert.Contains(t, report, string(ProbeBasic))
	assert.Contains(t, report, string(ProbeSwap))
}
