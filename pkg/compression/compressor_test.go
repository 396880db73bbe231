package compression

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

func chunkBytes(n int) []byte {
	buf := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(float64(i%17)*0.25))
	}
	return buf
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	original := chunkBytes(4096)

	for _, algo := range Algorithms {
		t.Run(string(algo), func(t *testing.T) {
			comp, err := ForAlgorithm(algo)
			require.NoError(t, err)
			assert.Equal(t, algo, comp.Algorithm())

			compressed, err := comp.Compress(original)
			require.NoError(t, err)

			decompressed, err := comp.Decompress(compressed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(original, decompressed))

			if algo != None {
				assert.Less(t, len(compressed), len(original))
			}
		})
	}
}

func TestLevels(t *testing.T) {
	data := bytes.Repeat([]byte("precip "), 500)
	for _, level := range []Level{Fastest, Default, Better, Best} {
		t.Run(level.String(), func(t *testing.T) {
			for _, algo := range []Algorithm{Gzip, LZ4, Zstd} {
				comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
				require.NoError(t, err)
				out, err := comp.Compress(data)
				require.NoError(t, err)
				back, err := comp.Decompress(out)
				require.NoError(t, err)
				assert.Equal(t, data, back)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	algo, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, algo)

	algo, err = ParseAlgorithm("lz4")
	require.NoError(t, err)
	assert.Equal(t, LZ4, algo)

	_, err = ParseAlgorithm("blosc")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNoneDoesNotAlias(t *testing.T) {
	comp, err := ForAlgorithm(None)
	require.NoError(t, err)
	in := []byte{1, 2, 3}
	out, err := comp.Compress(in)
	require.NoError(t, err)
	out[0] = 9
	assert.Equal(t, byte(1), in[0])
}
