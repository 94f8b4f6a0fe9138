package katana

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ShardTableEntry locates one shard's bytes within the file and
// carries the AEAD parameters needed to open it. spec.md §6
// documents the per-entry index record but is silent on how a reader
// locates shard regions on disk; the original Rust implementation's
// KatanaIndex carries exactly this table (ShardInfo: offset,
// compressed_size, uncompressed_size, nonce) as part of its
// serialized index, so it is carried forward here rather than
// invented from scratch.
type ShardTableEntry struct {
	ID              uint32
	Offset          uint64
	StoredLen       uint64
	UncompressedLen uint64
	Encrypted       bool
	Tag             [TagSize]byte
}

const shardTableEntrySize = 4 + 8 + 8 + 8 + 1 + TagSize

// EncodeIndex serializes the shard table followed by the sorted
// record list into the uncompressed index byte stream. The per-entry
// record layout matches spec §6 exactly:
//
//	path_len(u16 LE), path bytes, shard_id(u32 LE), offset_in_shard(u64 LE),
//	length(u64 LE), mtime_secs(i64 LE), mtime_nanos(u32 LE), hash(32 bytes)
//
// preceded by a shard_count(u32 LE)-prefixed table of ShardTableEntry.
func EncodeIndex(shards []ShardTableEntry, records []IndexRecord) ([]byte, error) {
	var buf bytes.Buffer

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(shards)))
	buf.Write(count[:])
	for _, s := range shards {
		var rec [shardTableEntrySize]byte
		binary.LittleEndian.PutUint32(rec[0:4], s.ID)
		binary.LittleEndian.PutUint64(rec[4:12], s.Offset)
		binary.LittleEndian.PutUint64(rec[12:20], s.StoredLen)
		binary.LittleEndian.PutUint64(rec[20:28], s.UncompressedLen)
		if s.Encrypted {
			rec[28] = 1
		}
		copy(rec[29:29+TagSize], s.Tag[:])
		buf.Write(rec[:])
	}

	for _, r := range records {
		if len(r.Path) > 0xFFFF {
			return nil, errMalformedIndex("path too long")
		}
		var hdr [2]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(r.Path)))
		buf.Write(hdr[:])
		buf.WriteString(r.Path)

		var fixed [4 + 8 + 8 + 8 + 4]byte
		binary.LittleEndian.PutUint32(fixed[0:4], r.ShardID)
		binary.LittleEndian.PutUint64(fixed[4:12], r.OffsetInShard)
		binary.LittleEndian.PutUint64(fixed[12:20], r.Length)
		binary.LittleEndian.PutUint64(fixed[20:28], uint64(r.MTimeSecs))
		binary.LittleEndian.PutUint32(fixed[28:32], r.MTimeNanos)
		buf.Write(fixed[:])
		buf.Write(r.Hash[:])
	}
	return buf.Bytes(), nil
}

// DecodeIndex parses the uncompressed index stream back into the
// shard table and the entry records. Any structural inconsistency
// (truncated record, trailing garbage) is reported as MalformedIndex
// rather than a generic I/O error.
func DecodeIndex(data []byte) ([]ShardTableEntry, []IndexRecord, error) {
	r := bytes.NewReader(data)

	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, nil, errMalformedIndex("truncated shard table count")
	}
	n := binary.LittleEndian.Uint32(count[:])

	shards := make([]ShardTableEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var rec [shardTableEntrySize]byte
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, nil, errMalformedIndex("truncated shard table entry")
		}
		var s ShardTableEntry
		s.ID = binary.LittleEndian.Uint32(rec[0:4])
		s.Offset = binary.LittleEndian.Uint64(rec[4:12])
		s.StoredLen = binary.LittleEndian.Uint64(rec[12:20])
		s.UncompressedLen = binary.LittleEndian.Uint64(rec[20:28])
		s.Encrypted = rec[28] != 0
		copy(s.Tag[:], rec[29:29+TagSize])
		shards = append(shards, s)
	}

	var records []IndexRecord
	for r.Len() > 0 {
		var hdr [2]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, nil, errMalformedIndex("truncated path length")
		}
		pathLen := int(binary.LittleEndian.Uint16(hdr[:]))
		pathBytes := make([]byte, pathLen)
		if _, err := io.ReadFull(r, pathBytes); err != nil {
			return nil, nil, errMalformedIndex("truncated path")
		}

		var fixed [4 + 8 + 8 + 8 + 4]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return nil, nil, errMalformedIndex("truncated fixed fields")
		}
		var rec IndexRecord
		rec.Path = string(pathBytes)
		rec.ShardID = binary.LittleEndian.Uint32(fixed[0:4])
		rec.OffsetInShard = binary.LittleEndian.Uint64(fixed[4:12])
		rec.Length = binary.LittleEndian.Uint64(fixed[12:20])
		rec.MTimeSecs = int64(binary.LittleEndian.Uint64(fixed[20:28]))
		rec.MTimeNanos = binary.LittleEndian.Uint32(fixed[28:32])
		rec.HasMTime = rec.MTimeSecs != 0 || rec.MTimeNanos != 0

		if _, err := io.ReadFull(r, rec.Hash[:]); err != nil {
			return nil, nil, errMalformedIndex("truncated hash")
		}
		records = append(records, rec)
	}
	return shards, records, nil
}

// indexPathLookup is the in-memory map built by the extractor from a
// decoded index, per spec §4.6 step "builds an in-memory map from
// archive_path -> (shard_id, offset_in_shard, length, hash)".
type indexPathLookup map[string]IndexRecord

func buildIndexLookup(records []IndexRecord) (indexPathLookup, error) {
	m := make(indexPathLookup, len(records))
	for _, r := range records {
		if _, dup := m[r.Path]; dup {
			return nil, fmt.Errorf("katana: duplicate index path %q", r.Path)
		}
		m[r.Path] = r
	}
	return m, nil
}
