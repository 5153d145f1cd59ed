//go:build linux

package disk_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ja7ad/msys/pkg/meters/disk"
)

func TestNewInvalidWhenDeviceMissing(t *testing.T) {
	m := disk.New(100*time.Millisecond, []string{"this-device-does-not-exist-xyz"})
	assert.False(t, m.IsValid())
}

func TestGetDetailedReportListsDevices(t *testing.T) {
	m := disk.New(100*time.Millisecond, []string{"sda", "sdb"})
	report := m.GetDetailedReport()
	assert.Contains(t, report, "sda")
	assert.Contains(t, report, "sdb")
}
