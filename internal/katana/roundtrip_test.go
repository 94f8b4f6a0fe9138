package katana

import (
	"bytes"
	"context"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestCreateExtractRoundTripPlaintext(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")

	files := map[string]string{
		"a.txt":        "hello world",
		"nested/b.txt": "nested content",
		"nested/c.bin": string(testBytes(1 << 15)),
	}
	writeTestTree(t, srcDir, files)

	w := NewWriterSession(archivePath, CreateOptions{
		Level:         3,
		Codec:         CodecZstd,
		WorkerThreads: 2,
		BundleSizeMiB: 1,
		Memory:        MemoryBudget{Unlimited: true},
		Logger:        discardLogger(),
	})
	defer w.Close()
	require.NoError(t, w.Create(context.Background(), []string{srcDir}))

	info, err := os.Stat(archivePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	r := NewReaderSession(archivePath, ExtractOptions{WorkerThreads: 2, Logger: discardLogger()})
	defer r.Close()

	listed, err := r.List()
	require.NoError(t, err)
	require.Len(t, listed, len(files))

	require.NoError(t, r.Extract(context.Background(), outDir))

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(outDir, rel))
		require.NoError(t, err, rel)
		assert.Equal(t, want, string(got), rel)
	}
}

func TestCreateExtractRoundTripEncrypted(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")

	writeTestTree(t, srcDir, map[string]string{"secret.txt": "classified payload"})

	w := NewWriterSession(archivePath, CreateOptions{
		Codec:         CodecLZMA2,
		WorkerThreads: 1,
		Password:      "correct-horse-battery-staple",
		Paranoid:      true,
		Memory:        MemoryBudget{Unlimited: true},
		Logger:        discardLogger(),
	})
	defer w.Close()
	require.NoError(t, w.Create(context.Background(), []string{srcDir}))

	// Wrong password must fail authentication, not decode garbage.
	rBad := NewReaderSession(archivePath, ExtractOptions{Password: "wrong", Logger: discardLogger()})
	defer rBad.Close()
	_, err := rBad.List()
	require.Error(t, err)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindAuthFailure, kerr.Kind)

	rGood := NewReaderSession(archivePath, ExtractOptions{Password: "correct-horse-battery-staple", Logger: discardLogger()})
	defer rGood.Close()
	require.NoError(t, rGood.Extract(context.Background(), outDir))

	got, err := os.ReadFile(filepath.Join(outDir, "secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, "classified payload", string(got))
}

func TestExtractFiltersAndStripComponents(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")

	writeTestTree(t, srcDir, map[string]string{
		"keep/a.txt":  "keep me",
		"skip/b.log":  "skip me",
		"keep/c.txt":  "also keep",
	})

	w := NewWriterSession(archivePath, CreateOptions{WorkerThreads: 1, Memory: MemoryBudget{Unlimited: true}, Logger: discardLogger()})
	defer w.Close()
	require.NoError(t, w.Create(context.Background(), []string{srcDir}))

	r := NewReaderSession(archivePath, ExtractOptions{
		Filters:         []string{"keep/*"},
		StripComponents: 1,
		Logger:          discardLogger(),
	})
	defer r.Close()
	require.NoError(t, r.Extract(context.Background(), outDir))

	_, err := os.Stat(filepath.Join(outDir, "a.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "c.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "b.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractReportsProgress(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")
	writeTestTree(t, srcDir, map[string]string{"a.txt": "content"})

	var events []ProgressEvent
	w := NewWriterSession(archivePath, CreateOptions{
		WorkerThreads: 1,
		Memory:        MemoryBudget{Unlimited: true},
		ProgressSink:  func(ev ProgressEvent) { events = append(events, ev) },
		ProgressEvery: time.Nanosecond,
		Logger:        discardLogger(),
	})
	defer w.Close()
	require.NoError(t, w.Create(context.Background(), []string{srcDir}))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, uint64(1), last.TotalFiles)

	r := NewReaderSession(archivePath, ExtractOptions{Logger: discardLogger()})
	defer r.Close()
	require.NoError(t, r.Extract(context.Background(), outDir))
}

// TestExtractDetectsTamperedIndexAsCrcMismatch covers spec §8 scenario
// S3 for a plaintext archive: a byte flipped inside the compressed
// index blob after creation must be caught by the index CRC32 check
// during open(), reported as CrcMismatch rather than decoded as
// garbage.
func TestExtractDetectsTamperedIndexAsCrcMismatch(t *testing.T) {
	srcDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")
	writeTestTree(t, srcDir, map[string]string{"a.txt": "hello"})

	w := NewWriterSession(archivePath, CreateOptions{WorkerThreads: 1, Memory: MemoryBudget{Unlimited: true}, Logger: discardLogger()})
	defer w.Close()
	require.NoError(t, w.Create(context.Background(), []string{srcDir}))

	raw, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	tailSize := int64(64 * 1024)
	if tailSize > int64(len(raw)) {
		tailSize = int64(len(raw))
	}
	footer, _, err := DecodeFooter(raw[int64(len(raw))-tailSize:])
	require.NoError(t, err)
	require.Greater(t, footer.IndexLen, uint64(0))

	raw[footer.IndexOffset] ^= 0xFF
	require.NoError(t, os.WriteFile(archivePath, raw, 0o644))

	r := NewReaderSession(archivePath, ExtractOptions{Logger: discardLogger()})
	defer r.Close()
	_, err = r.List()
	require.Error(t, err)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindCrcMismatch, kerr.Kind)
}

// TestExtractDetectsTamperedCiphertextAsAuthFailure covers spec §8
// scenario S3 for an encrypted archive: a byte flipped inside the
// sole shard's ciphertext must fail AES-GCM authentication, reported
// as AuthFailure, never a more specific decode error.
func TestExtractDetectsTamperedCiphertextAsAuthFailure(t *testing.T) {
	srcDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")
	writeTestTree(t, srcDir, map[string]string{"secret.txt": "classified payload, long enough to survive a flipped byte"})

	w := NewWriterSession(archivePath, CreateOptions{
		WorkerThreads: 1,
		Password:      "correct-horse-battery-staple",
		Memory:        MemoryBudget{Unlimited: true},
		Logger:        discardLogger(),
	})
	defer w.Close()
	require.NoError(t, w.Create(context.Background(), []string{srcDir}))

	raw, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	raw[0] ^= 0xFF // the sole shard's ciphertext starts at offset 0
	require.NoError(t, os.WriteFile(archivePath, raw, 0o644))

	r := NewReaderSession(archivePath, ExtractOptions{Password: "correct-horse-battery-staple", Logger: discardLogger()})
	defer r.Close()
	err = r.Extract(context.Background(), t.TempDir())
	require.Error(t, err)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindAuthFailure, kerr.Kind)
}

// TestExtractRejectsPathTraversalWithoutWritingAnything covers spec
// §8 scenario S4: an archive whose index carries a crafted
// "../../../etc/passwd"-style entry, built directly via WriteShard
// rather than through WalkInputs (which would normalize it away), must
// be rejected with UnsafePath before any file is written to
// output_root.
func TestExtractRejectsPathTraversalWithoutWritingAnything(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "malicious.blz")

	evilFile := filepath.Join(srcDir, "evil.txt")
	require.NoError(t, os.WriteFile(evilFile, []byte("payload"), 0o644))

	entries := []walkedFile{{
		AbsPath:     evilFile,
		ArchivePath: "../../../etc/passwd",
		Size:        7,
	}}

	out, err := WriteShard(ShardWriteJob{ID: 0, Entries: entries, Codec: CodecConfig{Kind: CodecZstd, Level: 1}})
	require.NoError(t, err)

	shardTable := []ShardTableEntry{{
		ID:              0,
		Offset:          0,
		StoredLen:       out.Result.StoredLen,
		UncompressedLen: out.Result.UncompressedLen,
	}}
	indexPlain, err := EncodeIndex(shardTable, out.Result.Entries)
	require.NoError(t, err)

	var indexCompressed bytes.Buffer
	enc, err := NewEncoder(&indexCompressed, CodecConfig{Kind: CodecZstd, Level: 9})
	require.NoError(t, err)
	_, err = enc.Write(indexPlain)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	var archive bytes.Buffer
	archive.Write(out.Bytes)
	indexOffset := uint64(archive.Len())
	archive.Write(indexCompressed.Bytes())
	indexLen := uint64(indexCompressed.Len())
	indexCRC := crc32.ChecksumIEEE(indexCompressed.Bytes())

	bodyHash, err := ComputeBodyHash(bytes.NewReader(archive.Bytes()))
	require.NoError(t, err)

	footer := Footer{
		Version:     FormatVersion,
		ShardCount:  1,
		Codec:       CodecZstd,
		IndexOffset: indexOffset,
		IndexLen:    indexLen,
		IndexCRC32:  indexCRC,
		BodyHash:    bodyHash,
	}
	archive.Write(EncodeFooter(footer))

	require.NoError(t, os.WriteFile(archivePath, archive.Bytes(), 0o644))

	r := NewReaderSession(archivePath, ExtractOptions{Logger: discardLogger()})
	defer r.Close()
	err = r.Extract(context.Background(), outDir)
	require.Error(t, err)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindUnsafePath, kerr.Kind)

	remaining, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func testBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
