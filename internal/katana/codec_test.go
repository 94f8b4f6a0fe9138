package katana

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTripZstd(t *testing.T) {
	testCodecRoundTrip(t, CodecConfig{Kind: CodecZstd, Level: 3})
}

func TestCodecRoundTripLZMA2(t *testing.T) {
	testCodecRoundTrip(t, CodecConfig{Kind: CodecLZMA2, Level: 1})
}

func testCodecRoundTrip(t *testing.T, cfg CodecConfig) {
	t.Helper()
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 1000)

	var compressed bytes.Buffer
	enc, err := NewEncoder(&compressed, cfg)
	require.NoError(t, err)
	_, err = enc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	dec, err := NewDecoder(bytes.NewReader(compressed.Bytes()), cfg.Kind)
	require.NoError(t, err)
	defer dec.Close()

	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	require.Equal(t, payload, out)
	require.Less(t, compressed.Len(), len(payload))
}
