package kvrepr_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/msys/pkg/kvrepr"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParseOnceMeminfoShapedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "meminfo", ""+
		"MemTotal:       16384 kB\n"+
		"MemFree:         4096 kB\n"+
		"Buffers:          128 kB\n"+
		"MemAvailable:    8000 kB\n")

	var total, free, avail uint64
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{
			Name:    "basic",
			Keys:    []string{"MemTotal", "MemFree", "MemAvailable"},
			Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&total), kvrepr.Uint64(&free), kvrepr.Uint64(&avail)},
		},
	}}

	k, err := kvrepr.New(path, layout)
	require.NoError(t, err)
	assert.True(t, k.IsValid())
	assert.Empty(t, k.MissingFields())

	require.NoError(t, k.ParseOnce())
	assert.Equal(t, uint64(16384), total)
	assert.Equal(t, uint64(4096), free)
	assert.Equal(t, uint64(8000), avail)
}

func TestParseOnceSkipsUninterestingLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stat", ""+
		"intr 12345 0 0\n"+
		"ctxt 6789\n"+
		"btime 1600000000\n"+
		"processes 42\n")

	var ctxt, processes uint64
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{
			Name:    "kernel",
			Keys:    []string{"ctxt", "processes"},
			Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&ctxt), kvrepr.Uint64(&processes)},
		},
	}}

	k, err := kvrepr.New(path, layout)
	require.NoError(t, err)
	require.NoError(t, k.ParseOnce())
	assert.Equal(t, uint64(6789), ctxt)
	assert.Equal(t, uint64(42), processes)
}

func TestMissingKeyIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "partial", "MemTotal: 1000 kB\n")

	var total, free uint64
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{
			Name:    "basic",
			Keys:    []string{"MemTotal", "MemFree"},
			Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&total), kvrepr.Uint64(&free)},
		},
	}}

	k, err := kvrepr.New(path, layout)
	require.NoError(t, err)
	assert.True(t, k.IsValid())
	assert.Equal(t, []string{"basic.MemFree"}, k.MissingFields())

	require.NoError(t, k.ParseOnce())
	assert.Equal(t, uint64(1000), total)
	assert.Equal(t, uint64(0), free)
}

func TestNewRejectsMismatchedKeysAndSetters(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", "A 1\n")

	var a uint64
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{Name: "bad", Keys: []string{"A", "B"}, Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&a)}},
	}}

	_, err := kvrepr.New(path, layout)
	assert.Error(t, err)
}

func TestNewRejectsDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", "A 1\n")

	var a, b uint64
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{Name: "bad", Keys: []string{"A", "A"}, Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&a), kvrepr.Uint64(&b)}},
	}}

	_, err := kvrepr.New(path, layout)
	assert.Error(t, err)
}

func TestNewRejectsEmptyLayout(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", "A 1\n")

	_, err := kvrepr.New(path, kvrepr.Layout{})
	assert.Error(t, err)
}

func TestMultipleDescriptorsIndependentLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", ""+
		"Alpha 1\n"+
		"Beta 2\n"+
		"Gamma 3\n")

	var alpha, gamma uint64
	var beta string
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{Name: "nums", Keys: []string{"Alpha", "Gamma"}, Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&alpha), kvrepr.Uint64(&gamma)}},
		{Name: "str", Keys: []string{"Beta"}, Setters: []kvrepr.FieldSetter{kvrepr.String(&beta)}},
	}}

	k, err := kvrepr.New(path, layout)
	require.NoError(t, err)
	require.NoError(t, k.ParseOnce())
	assert.Equal(t, uint64(1), alpha)
	assert.Equal(t, "2", beta)
	assert.Equal(t, uint64(3), gamma)
}

func TestParseOnceRereadsFreshEachCall(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "counter", "Value 1\n")

	var v uint64
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{Name: "c", Keys: []string{"Value"}, Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&v)}},
	}}

	k, err := kvrepr.New(path, layout)
	require.NoError(t, err)
	require.NoError(t, k.ParseOnce())
	assert.Equal(t, uint64(1), v)

	require.NoError(t, os.WriteFile(path, []byte("Value 2\n"), 0o644))
	require.NoError(t, k.ParseOnce())
	assert.Equal(t, uint64(2), v)
}

func TestGenerateStatusReportListsMissing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", "A 1\n")

	var a, b uint64
	layout := kvrepr.Layout{Descriptors: []kvrepr.Descriptor{
		{Name: "d", Keys: []string{"A", "B"}, Setters: []kvrepr.FieldSetter{kvrepr.Uint64(&a), kvrepr.Uint64(&b)}},
	}}

	k, err := kvrepr.New(path, layout)
	require.NoError(t, err)
	report := k.GenerateStatusReport()
	assert.Contains(t, report, "1/2 keys located")
	assert.Contains(t, report, "d.B")
}
