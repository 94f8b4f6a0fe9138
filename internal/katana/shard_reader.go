package katana

import (
	"bytes"
	"encoding/binary"
	"io"

	"lukechampine.com/blake3"
)

// ShardReadJob describes one extract-path shard worker's input: the
// shard's stored bytes, its decryption/decompression parameters, and
// which entries (by offset_in_shard) the active filter wants.
type ShardReadJob struct {
	ID        uint32
	Stored    []byte // exactly StoredLen bytes for this shard
	Codec     CodecKind
	AEADKey   *[32]byte
	Nonce     [NonceSize]byte
	Tag       [TagSize]byte
	Encrypted bool
	Wanted    []IndexRecord // subset of this shard's records the filter selected
}

// ExtractedFile is one entry's payload, ready to be written to its
// destination path by the orchestrator.
type ExtractedFile struct {
	Record IndexRecord
	Data   []byte
}

// ReadShard implements §4.7: decrypt-and-authenticate, decompress,
// then slice out each wanted entry by its recorded offset/length,
// verifying its BLAKE3 hash as it goes.
func ReadShard(job ShardReadJob) ([]ExtractedFile, error) {
	compressed := job.Stored
	if job.Encrypted {
		if job.AEADKey == nil {
			return nil, errAuthFailure()
		}
		if len(job.Stored) < TagSize {
			return nil, errAuthFailure()
		}
		// The stored region is ciphertext followed by the 16-byte tag;
		// OpenShard takes the tag separately.
		ciphertext := job.Stored[:len(job.Stored)-TagSize]
		plain, err := OpenShard(*job.AEADKey, job.Nonce, ciphertext, job.Tag)
		if err != nil {
			return nil, err
		}
		compressed = plain
	}

	dec, err := NewDecoder(bytes.NewReader(compressed), job.Codec)
	if err != nil {
		return nil, errMalformedIndex("shard decompress: " + err.Error())
	}
	framed, err := io.ReadAll(dec)
	dec.Close()
	if err != nil {
		return nil, errMalformedIndex("shard decompress: " + err.Error())
	}

	out := make([]ExtractedFile, 0, len(job.Wanted))
	for _, rec := range job.Wanted {
		start := rec.OffsetInShard
		if start+frameOverhead > uint64(len(framed)) {
			return nil, errCorruptEntry(rec.Path)
		}
		hdr := framed[start : start+frameOverhead]
		length := binary.LittleEndian.Uint64(hdr[4:12])
		dataStart := start + frameOverhead
		dataEnd := dataStart + length
		if dataEnd > uint64(len(framed)) || length != rec.Length {
			return nil, errCorruptEntry(rec.Path)
		}
		payload := framed[dataStart:dataEnd]

		hasher := blake3.New(HashSize, nil)
		hasher.Write(payload)
		var got [HashSize]byte
		copy(got[:], hasher.Sum(nil))
		if got != rec.Hash {
			return nil, errCorruptEntry(rec.Path)
		}

		out = append(out, ExtractedFile{Record: rec, Data: payload})
	}
	return out, nil
}
