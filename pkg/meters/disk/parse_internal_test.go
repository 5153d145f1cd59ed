//go:build linux

package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const diskstatsFixture = ` 259       0 nvme0n1 1000 10 20000 500 2000 20 40000 900 0 1200 1400 5 1 100 10 3 7
   8       0 sda 300 3 6000 150 700 7 14000 300 0 400 450 0 0 0 0 0 0
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "diskstats")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCheckDeviceExistenceAllPresent(t *testing.T) {
	path := writeFixture(t, diskstatsFixture)
	ok, missing := checkDeviceExistence(path, []string{"nvme0n1", "sda"})
	assert.True(t, ok)
	assert.Empty(t, missing)
}

func TestCheckDeviceExistenceMissingOne(t *testing.T) {
	path := writeFixture(t, diskstatsFixture)
	ok, missing := checkDeviceExistence(path, []string{"nvme0n1", "sdb"})
	assert.False(t, ok)
	assert.Equal(t, []string{"sdb"}, missing)
}

func TestParseDiskstatsWellFormed(t *testing.T) {
	path := writeFixture(t, diskstatsFixture)

	var s Sample
	require.NoError(t, parseDiskstats(path, []string{"nvme0n1", "sda"}, &s))
	require.Len(t, s.Disks, 2)

	var nvme Stat
	for _, d := range s.Disks {
		if d.Device == "nvme0n1" {
			nvme = d
		}
	}
	assert.Equal(t, uint64(1000), nvme.ReadsCompleted)
	assert.Equal(t, uint64(20000), nvme.SectorsRead)
	assert.Equal(t, uint64(7), nvme.TimeSpentFlushingMs)
}

func TestParseDiskstatsSkipsUnrequestedDevices(t *testing.T) {
	path := writeFixture(t, diskstatsFixture)

	var s Sample
	require.NoError(t, parseDiskstats(path, []string{"sda"}, &s))
	require.Len(t, s.Disks, 1)
	assert.Equal(t, "sda", s.Disks[0].Device)
}

func TestParseDiskstatsMissingDeviceIsPartial(t *testing.T) {
	path := writeFixture(t, diskstatsFixture)

	var s Sample
	err := parseDiskstats(path, []string{"sda", "nope"}, &s)
	assert.Error(t, err)
	assert.Len(t, s.Disks, 1)
}
