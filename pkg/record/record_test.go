package record_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/msys/pkg/record"
)

type sample struct {
	Value uint64 `cbor:"value"`
}

func TestTimeSeriesAddClearLen(t *testing.T) {
	var ts record.TimeSeries[sample]
	assert.Equal(t, 0, ts.Len())

	s := ts.Add()
	s.Value = 42
	assert.Equal(t, 1, ts.Len())
	assert.Equal(t, uint64(42), ts.Samples[0].Value)

	ts.Clear()
	assert.Equal(t, 0, ts.Len())
}

func TestTimeSeriesWireSizeEmpty(t *testing.T) {
	var ts record.TimeSeries[sample]
	n, err := ts.WireSize()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var ts record.TimeSeries[sample]
	ts.Add().Value = 1
	ts.Add().Value = 2

	var buf bytes.Buffer
	n, err := record.WriteFrame(&buf, &ts)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	var got record.TimeSeries[sample]
	require.NoError(t, record.ReadFrame(&buf, &got))
	assert.Equal(t, ts.Samples, got.Samples)
}

func TestWriteFrameEmptySeriesIsNoop(t *testing.T) {
	var ts record.TimeSeries[sample]

	var buf bytes.Buffer
	n, err := record.WriteFrame(&buf, &ts)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, 0, buf.Len())
}

func TestReadFrameEOFAtBoundary(t *testing.T) {
	var buf bytes.Buffer

	var got record.TimeSeries[sample]
	err := record.ReadFrame(&buf, &got)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipleFramesSequentialRead(t *testing.T) {
	var a, b record.TimeSeries[sample]
	a.Add().Value = 10
	b.Add().Value = 20
	b.Add().Value = 30

	var buf bytes.Buffer
	_, err := record.WriteFrame(&buf, &a)
	require.NoError(t, err)
	_, err = record.WriteFrame(&buf, &b)
	require.NoError(t, err)

	var gotA, gotB record.TimeSeries[sample]
	require.NoError(t, record.ReadFrame(&buf, &gotA))
	require.NoError(t, record.ReadFrame(&buf, &gotB))

	assert.Equal(t, a.Samples, gotA.Samples)
	assert.Equal(t, b.Samples, gotB.Samples)

	err = record.ReadFrame(&buf, &record.TimeSeries[sample]{})
	assert.ErrorIs(t, err, io.EOF)
}
