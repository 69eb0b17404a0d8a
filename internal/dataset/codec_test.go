package dataset

import (
	"bytes"
	"testing"

	"github.com/emer/etable/etensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := map[string][]byte{
		"repetitive": bytes.Repeat([]byte("botloop "), 512),
		"short":      []byte("abc"),
		"random":     {0x9f, 0x01, 0x7a, 0xee, 0x42, 0x10, 0xc3, 0x88, 0x05, 0x6d, 0xb1, 0x2e, 0xf0, 0x33, 0x91, 0x4c, 0x07},
	}
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		for name, data := range inputs {
			t.Run(string(c)+"/"+name, func(t *testing.T) {
				t.Parallel()
				stored, err := compress(data, c)
				require.NoError(t, err)
				out, err := decompress(stored, c, len(data))
				require.NoError(t, err)
				assert.Equal(t, data, out)
			})
		}
	}
}

func TestDecompressChecksSize(t *testing.T) {
	t.Parallel()

	_, err := decompress([]byte("abc"), CompressionNone, 4)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	c, err = ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}

func TestDeterministicEncoding(t *testing.T) {
	t.Parallel()

	frames := []FrameRecord{{
		FrameIndex: 1,
		Values:     map[string][]float32{"b": {1}, "a": {2}, "c": {3}},
	}}
	first, err := marshal(episodeFile{Frames: frames})
	require.NoError(t, err)
	second, err := marshal(episodeFile{Frames: frames})
	require.NoError(t, err)
	assert.Equal(t, checksum(first), checksum(second))
	assert.Len(t, checksum(first), 64)
}

func TestImageWriterCollectsErrors(t *testing.T) {
	w := NewImageWriter(1)
	require.NoError(t, w.Start())
	assert.Error(t, w.Start(), "double start")

	blocker := t.TempDir() + "/file"
	require.NoError(t, writeImage(blocker, sampleImage()))
	require.NoError(t, w.Submit(blocker+"/nested/frame.lz4", sampleImage()))

	assert.Error(t, w.Stop())
	assert.NoError(t, w.Wait(), "errors are reported once")
	assert.False(t, w.Running())
}

func sampleImage() *etensor.Uint8 {
	img := etensor.NewUint8([]int{2, 2, 3}, nil, nil)
	copy(img.Values, []uint8{1, 2, 3})
	return img
}
