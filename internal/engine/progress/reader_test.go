package progress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_ReportsAtInterval(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1000)

	var reports []int64

	pr := NewReader(bytes.NewReader(payload), int64(len(payload)), 256, func(written, total int64) {
		reports = append(reports, written)
	})

	n, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)

	require.NotEmpty(t, reports)

	// Monotonically non-decreasing, ending with the full byte count.
	prev := int64(0)
	for _, r := range reports {
		assert.GreaterOrEqual(t, r, prev)
		prev = r
	}

	assert.Equal(t, int64(1000), reports[len(reports)-1])
}

func TestReader_FinalReportOnEOF(t *testing.T) {
	// 100 bytes with a 1MB interval: only the EOF report fires.
	payload := bytes.Repeat([]byte("b"), 100)

	var reports []int64

	pr := NewReader(bytes.NewReader(payload), 100, 1<<20, func(written, total int64) {
		reports = append(reports, written)
	})

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, int64(100), reports[0])
}

func TestReader_ZeroIntervalDoesNotPanic(t *testing.T) {
	pr := NewReader(bytes.NewReader([]byte("xyz")), 3, 0, func(written, total int64) {})

	_, err := io.Copy(io.Discard, pr)
	require.NoError(t, err)
}
