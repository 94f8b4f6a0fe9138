package katana

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFooterRoundTripPlaintext(t *testing.T) {
	f := Footer{
		Version:     FormatVersion,
		Flags:       0,
		ShardCount:  3,
		Codec:       CodecZstd,
		IndexOffset: 12345,
		IndexLen:    678,
		IndexCRC32:  0xDEADBEEF,
		BodyHash:    [HashSize]byte{1, 2, 3},
	}
	encoded := EncodeFooter(f)
	assert.True(t, bytes.HasPrefix(encoded, []byte(Magic)))
	assert.True(t, bytes.HasSuffix(encoded, []byte(Magic)))

	got, start, err := DecodeFooter(encoded)
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, f.Version, got.Version)
	assert.Equal(t, f.ShardCount, got.ShardCount)
	assert.Equal(t, f.Codec, got.Codec)
	assert.Equal(t, f.IndexOffset, got.IndexOffset)
	assert.Equal(t, f.IndexLen, got.IndexLen)
	assert.Equal(t, f.IndexCRC32, got.IndexCRC32)
	assert.Equal(t, f.BodyHash, got.BodyHash)
	assert.False(t, got.encrypted())
}

func TestFooterRoundTripEncrypted(t *testing.T) {
	f := Footer{
		Version:     FormatVersion,
		Flags:       FlagEncrypted | FlagParanoidHash,
		ShardCount:  1,
		Codec:       CodecLZMA2,
		IndexOffset: 1,
		IndexLen:    2,
		Enc: EncryptionDescriptor{
			Enabled: true, AlgID: AlgAES256GCM, ArgonMem: 65536, ArgonTime: 3, ArgonP: 4,
			Salt: [16]byte{9, 9, 9},
		},
		HMAC: [32]byte{7, 7, 7},
	}
	encoded := EncodeFooter(f)
	got, _, err := DecodeFooter(encoded)
	require.NoError(t, err)
	assert.True(t, got.encrypted())
	assert.True(t, got.paranoid())
	assert.Equal(t, f.Enc, got.Enc)
	assert.Equal(t, f.HMAC, got.HMAC)
	assert.Equal(t, CodecLZMA2, got.Codec)
}

func TestDecodeFooterRejectsBadMagic(t *testing.T) {
	_, _, err := DecodeFooter([]byte("not a footer at all"))
	require.Error(t, err)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindBadMagic, kerr.Kind)
}

func TestFooterHMACDetectsTamper(t *testing.T) {
	hmacKey := [32]byte{1, 1, 1}
	f := Footer{Version: FormatVersion, IndexOffset: 1, IndexLen: 2, Codec: CodecZstd}
	f.HMAC = ComputeFooterHMAC(hmacKey, f.Version, f.Codec, f.IndexOffset, f.IndexLen, f.IndexCRC32, f.BodyHash, f.Enc)
	require.NoError(t, VerifyFooterHMAC(hmacKey, f))

	f.IndexLen = 3
	err := VerifyFooterHMAC(hmacKey, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestComputeBodyHashMatchesContent(t *testing.T) {
	data := []byte("archive body bytes")
	h1, err := ComputeBodyHash(bytes.NewReader(data))
	require.NoError(t, err)
	h2, err := ComputeBodyHash(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ComputeBodyHash(bytes.NewReader([]byte("different bytes")))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
