package katana

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"lukechampine.com/blake3"
)

// Footer is the Go representation of the self-locating trailing
// record defined in spec §6. Every field here maps onto one fixed or
// length-prefixed span of the on-disk layout.
type Footer struct {
	Version     uint16
	Flags       uint16
	ShardCount  uint32
	Codec       CodecKind
	IndexOffset uint64
	IndexLen    uint64
	IndexCRC32  uint32
	BodyHash    [HashSize]byte
	Enc         EncryptionDescriptor
	HMAC        [32]byte
}

func (f Footer) encrypted() bool  { return f.Flags&FlagEncrypted != 0 }
func (f Footer) paranoid() bool   { return f.Flags&FlagParanoidHash != 0 }

// encodeEncDescriptor writes the variable-length encryption
// descriptor: 1 byte 0x00 when absent, or 0x01 followed by alg id,
// argon2 params and the 16-byte salt.
func encodeEncDescriptor(enc EncryptionDescriptor) []byte {
	if !enc.Enabled {
		return []byte{0x00}
	}
	buf := make([]byte, 1+1+4+4+1+16)
	buf[0] = 0x01
	buf[1] = enc.AlgID
	binary.LittleEndian.PutUint32(buf[2:6], enc.ArgonMem)
	binary.LittleEndian.PutUint32(buf[6:10], enc.ArgonTime)
	buf[10] = enc.ArgonP
	copy(buf[11:27], enc.Salt[:])
	return buf
}

func decodeEncDescriptor(r *bytes.Reader) (EncryptionDescriptor, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return EncryptionDescriptor{}, errMalformedFooter("truncated enc descriptor tag")
	}
	if tag == 0x00 {
		return EncryptionDescriptor{}, nil
	}
	if tag != 0x01 {
		return EncryptionDescriptor{}, errMalformedFooter("unknown enc descriptor tag")
	}
	var rest [1 + 4 + 4 + 1 + 16]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return EncryptionDescriptor{}, errMalformedFooter("truncated enc descriptor body")
	}
	var enc EncryptionDescriptor
	enc.Enabled = true
	enc.AlgID = rest[0]
	enc.ArgonMem = binary.LittleEndian.Uint32(rest[1:5])
	enc.ArgonTime = binary.LittleEndian.Uint32(rest[5:9])
	enc.ArgonP = rest[9]
	copy(enc.Salt[:], rest[10:26])
	return enc, nil
}

// EncodeFooter serializes f into the exact on-disk byte layout from
// spec §6, including the trailing self-locating footer_len and
// magic_tail fields.
func EncodeFooter(f Footer) []byte {
	var buf bytes.Buffer
	buf.WriteString(Magic)

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], f.Version)
	buf.Write(u16[:])
	binary.LittleEndian.PutUint16(u16[:], f.Flags)
	buf.Write(u16[:])

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], f.ShardCount)
	buf.Write(u32[:])
	buf.WriteByte(byte(f.Codec))

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], f.IndexOffset)
	buf.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], f.IndexLen)
	buf.Write(u64[:])

	binary.LittleEndian.PutUint32(u32[:], f.IndexCRC32)
	buf.Write(u32[:])

	buf.Write(f.BodyHash[:])
	buf.Write(encodeEncDescriptor(f.Enc))
	buf.Write(f.HMAC[:])

	footerLen := uint32(buf.Len() + 4 + 8) // + footer_len field + magic_tail
	binary.LittleEndian.PutUint32(u32[:], footerLen)
	buf.Write(u32[:])
	buf.WriteString(Magic)

	return buf.Bytes()
}

// DecodeFooter parses the tail of an archive. It expects tail to be
// the last readBack bytes of the file (the caller is responsible for
// reading enough of the tail to cover the largest plausible footer;
// 4 KiB comfortably covers the fixed fields plus descriptor).
func DecodeFooter(tail []byte) (Footer, int64, error) {
	if len(tail) < len(Magic) {
		return Footer{}, 0, errBadMagic()
	}
	if string(tail[len(tail)-len(Magic):]) != Magic {
		return Footer{}, 0, errBadMagic()
	}
	if len(tail) < 4+len(Magic) {
		return Footer{}, 0, errMalformedFooter("tail too short for footer_len")
	}
	lenFieldStart := len(tail) - len(Magic) - 4
	footerLen := binary.LittleEndian.Uint32(tail[lenFieldStart : lenFieldStart+4])
	footerStart := len(tail) - int(footerLen)
	if footerStart < 0 || footerStart > lenFieldStart {
		return Footer{}, 0, errMalformedFooter("footer_len out of range")
	}

	r := bytes.NewReader(tail[footerStart:lenFieldStart])
	magicHead := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magicHead); err != nil || string(magicHead) != Magic {
		return Footer{}, 0, errBadMagic()
	}

	var f Footer
	var u16 [2]byte
	if _, err := io.ReadFull(r, u16[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated version")
	}
	f.Version = binary.LittleEndian.Uint16(u16[:])
	if f.Version != FormatVersion {
		return Footer{}, 0, errUnsupportedVersion(f.Version)
	}
	if _, err := io.ReadFull(r, u16[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated flags")
	}
	f.Flags = binary.LittleEndian.Uint16(u16[:])

	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated shard_count")
	}
	f.ShardCount = binary.LittleEndian.Uint32(u32[:])

	codecByte, err := r.ReadByte()
	if err != nil {
		return Footer{}, 0, errMalformedFooter("truncated codec")
	}
	f.Codec = CodecKind(codecByte)

	var u64 [8]byte
	if _, err := io.ReadFull(r, u64[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated index_offset")
	}
	f.IndexOffset = binary.LittleEndian.Uint64(u64[:])
	if _, err := io.ReadFull(r, u64[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated index_len")
	}
	f.IndexLen = binary.LittleEndian.Uint64(u64[:])

	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated index_crc32")
	}
	f.IndexCRC32 = binary.LittleEndian.Uint32(u32[:])

	if _, err := io.ReadFull(r, f.BodyHash[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated body_hash")
	}

	enc, err := decodeEncDescriptor(r)
	if err != nil {
		return Footer{}, 0, err
	}
	f.Enc = enc

	if _, err := io.ReadFull(r, f.HMAC[:]); err != nil {
		return Footer{}, 0, errMalformedFooter("truncated hmac")
	}

	return f, int64(footerStart), nil
}

// ComputeBodyHash returns the BLAKE3-256 digest of all archive bytes
// from offset 0 up to (and including) the compressed index, per §4.5
// step 5 / §6's body_hash field.
func ComputeBodyHash(r io.Reader) ([HashSize]byte, error) {
	h := blake3.New(HashSize, nil)
	if _, err := io.Copy(h, r); err != nil {
		var zero [HashSize]byte
		return zero, err
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ComputeFooterHMAC computes HMAC-SHA-256 over the fields spec §4.5
// step 6 names plus the archive-wide codec byte: magic || version ||
// codec || index_offset || index_len || index_crc32 || body_hash ||
// enc_descriptor.
func ComputeFooterHMAC(hmacKey [32]byte, version uint16, codec CodecKind, indexOffset, indexLen uint64, indexCRC32 uint32, bodyHash [HashSize]byte, enc EncryptionDescriptor) [32]byte {
	mac := hmac.New(sha256.New, hmacKey[:])
	mac.Write([]byte(Magic))
	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], version)
	mac.Write(u16[:])
	mac.Write([]byte{byte(codec)})
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], indexOffset)
	mac.Write(u64[:])
	binary.LittleEndian.PutUint64(u64[:], indexLen)
	mac.Write(u64[:])
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], indexCRC32)
	mac.Write(u32[:])
	mac.Write(bodyHash[:])
	mac.Write(encodeEncDescriptor(enc))
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyFooterHMAC constant-time compares the recorded HMAC against a
// freshly computed one; any mismatch is AuthFailure, never a more
// specific error (spec §7).
func VerifyFooterHMAC(hmacKey [32]byte, f Footer) error {
	want := ComputeFooterHMAC(hmacKey, f.Version, f.Codec, f.IndexOffset, f.IndexLen, f.IndexCRC32, f.BodyHash, f.Enc)
	if !hmac.Equal(want[:], f.HMAC[:]) {
		return errAuthFailure()
	}
	return nil
}
