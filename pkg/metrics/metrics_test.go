package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, Status(nil))
	assert.Equal(t, StatusFailure, Status(errors.New(errors.ErrorTypeConflict, "moved")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(LoadOperations.WithLabelValues("append", StatusSuccess))
	LoadOperations.WithLabelValues("append", StatusSuccess).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LoadOperations.WithLabelValues("append", StatusSuccess)))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("combine")
	time.Sleep(time.Millisecond)
	assert.Equal(t, "combine", timer.Name())
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
}

func TestWriteTextfile(t *testing.T) {
	BlocksWritten.WithLabelValues("memory").Add(3)
	path := filepath.Join(t.TempDir(), "gridetl.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `gridetl_blocks_written_total{blockstore="memory"}`)
}
