package katana

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// ShardWriteJob is everything one create-path shard worker needs: its
// id, the entries assigned to it, and the codec/encryption
// configuration. Workers run concurrently and return their finished
// bytes rather than writing them directly, because the final
// (compressed, possibly encrypted) length of a shard is unknown until
// the worker completes — the orchestrator lays shards into their
// pre-reserved, disjoint regions with a single positioned write each
// once every worker's length is known, preserving shard-id file order
// without serializing the actual compression/encryption work.
type ShardWriteJob struct {
	ID      uint32
	Entries []walkedFile
	Codec   CodecConfig
	AEADKey *[32]byte // nil when the archive is not encrypted

	OnFileDone func(size uint64) // progress hook, called once per entry read
}

// ShardWriteOutput is a completed shard's manifest plus its final
// on-disk bytes, still unplaced.
type ShardWriteOutput struct {
	Result ShardResult
	Bytes  []byte
}

// WriteShard implements §4.3: frame each entry, hash it with BLAKE3
// while streaming, feed the framed stream through the codec, then
// through AEAD if a key is present. The caller is responsible for
// placing the returned bytes at the shard's reserved offset.
func WriteShard(job ShardWriteJob) (ShardWriteOutput, error) {
	var framed bytes.Buffer
	bodyHasher := blake3.New(HashSize, nil)
	mw := io.MultiWriter(&framed, bodyHasher)

	records := make([]IndexRecord, 0, len(job.Entries))
	var offset uint64
	for i, e := range job.Entries {
		entryHash, n, err := frameEntry(mw, uint32(i), e)
		if err != nil {
			return ShardWriteOutput{}, errIO(e.AbsPath, err)
		}
		records = append(records, IndexRecord{
			Path:          e.ArchivePath,
			ShardID:       job.ID,
			OffsetInShard: offset,
			Length:        n,
			MTimeSecs:     e.ModTime,
			MTimeNanos:    e.ModTimeNS,
			HasMTime:      true,
			Hash:          entryHash,
		})
		offset += frameOverhead + n
		if job.OnFileDone != nil {
			job.OnFileDone(e.Size)
		}
	}

	var bodyHash [HashSize]byte
	copy(bodyHash[:], bodyHasher.Sum(nil))

	var compressed bytes.Buffer
	enc, err := NewEncoder(&compressed, job.Codec)
	if err != nil {
		return ShardWriteOutput{}, err
	}
	if _, err := enc.Write(framed.Bytes()); err != nil {
		enc.Close()
		return ShardWriteOutput{}, errIO("", err)
	}
	if err := enc.Close(); err != nil {
		return ShardWriteOutput{}, errIO("", err)
	}

	result := ShardResult{
		ID:              job.ID,
		UncompressedLen: uint64(framed.Len()),
		Hash:            bodyHash,
		Entries:         records,
	}

	var final []byte
	if job.AEADKey != nil {
		ct, nonce, tag, err := SealShard(*job.AEADKey, job.ID, compressed.Bytes())
		if err != nil {
			return ShardWriteOutput{}, err
		}
		result.Nonce = nonce
		result.Tag = tag
		result.Encrypted = true
		final = append(ct, tag[:]...)
	} else {
		final = compressed.Bytes()
	}
	result.StoredLen = uint64(len(final))

	return ShardWriteOutput{Result: result, Bytes: final}, nil
}

// frameOverhead is the size of the per-entry record header:
// [u32 entry_index][u64 length].
const frameOverhead = 4 + 8

// frameEntry reads one source file into a framed record, streaming it
// through the mandated minimum 256 KiB producer buffer directly into
// w rather than holding the whole file in an intermediate buffer.
// Since the frame header must carry the body length before the body
// is written, frameEntry stats the file immediately before reading it
// and trusts that length for the header, then bounds the copy to
// exactly that many bytes with io.LimitReader: a file that shrinks
// after the stat is caught as CorruptEntry (fewer bytes than the
// header promised); a file that grows cannot overrun the frame,
// because the limited reader stops at the stated length regardless.
func frameEntry(w io.Writer, index uint32, e walkedFile) ([HashSize]byte, uint64, error) {
	f, err := os.Open(e.AbsPath)
	if err != nil {
		var zero [HashSize]byte
		return zero, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		var zero [HashSize]byte
		return zero, 0, err
	}
	size := uint64(info.Size())

	var hdr [frameOverhead]byte
	binary.LittleEndian.PutUint32(hdr[0:4], index)
	binary.LittleEndian.PutUint64(hdr[4:12], size)
	if _, err := w.Write(hdr[:]); err != nil {
		var zero [HashSize]byte
		return zero, 0, err
	}

	hasher := blake3.New(HashSize, nil)
	mw := io.MultiWriter(w, hasher)
	buf := make([]byte, MinProducerBuffer)
	n, err := io.CopyBuffer(mw, io.LimitReader(f, int64(size)), buf)
	if err != nil {
		var zero [HashSize]byte
		return zero, 0, err
	}
	if uint64(n) != size {
		var zero [HashSize]byte
		return zero, 0, errCorruptEntry(e.ArchivePath)
	}

	var out [HashSize]byte
	copy(out[:], hasher.Sum(nil))
	return out, size, nil
}
