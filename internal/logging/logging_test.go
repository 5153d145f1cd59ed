package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/msys/internal/logging"
)

func TestNewWritesToLogFile(t *testing.T) {
	dir := t.TempDir()
	l, err := logging.New("info", dir)
	require.NoError(t, err)

	l.Logger.Info("hello from test")
	logging.Flush(l)

	data, err := os.ReadFile(filepath.Join(dir, "msys.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := logging.New("not-a-level", t.TempDir())
	assert.Error(t, err)
}

func TestNewCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	_, err := logging.New("debug", dir)
	require.NoError(t, err)

	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr)
}
