package katana

import (
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// createState names the archive-file state machine spec §4.9 defines
// for the create path. Create advances a local state variable through
// these values as it reaches each milestone, surfacing it in abort and
// completion logging so the in-progress stage is observable.
type createState int

const (
	stateDraft createState = iota
	stateShardsWritten
	stateIndexWritten
	stateVerified
	stateCommitted
)

func (s createState) String() string {
	switch s {
	case stateDraft:
		return "draft"
	case stateShardsWritten:
		return "shards_written"
	case stateIndexWritten:
		return "index_written"
	case stateVerified:
		return "verified"
	case stateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// CreateOptions mirrors spec §6's create(...) options record.
type CreateOptions struct {
	Level          int
	Codec          CodecKind
	CodecThreads   int
	WorkerThreads  int
	BundleSizeMiB  uint64
	Memory         MemoryBudget
	Password       string
	Paranoid       bool
	ProgressSink   ProgressSink
	ProgressEvery  time.Duration
	SystemMemory   uint64 // for MemoryBudget.Percent resolution; 0 = caller doesn't know
	PerShardEstKiB uint64 // optional override for the memory estimator
	Logger         *slog.Logger
}

// WriterSession is the create-path session object, following the
// teacher's ArchiveWriter session-object pattern (session.go):
// construct, then call Create once; Close zeroes the password.
type WriterSession struct {
	outputPath string
	opts       CreateOptions
}

func NewWriterSession(outputPath string, opts CreateOptions) *WriterSession {
	if opts.WorkerThreads <= 0 {
		opts.WorkerThreads = runtime.NumCPU()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WriterSession{outputPath: outputPath, opts: opts}
}

// Close zeroes the session's password, mirroring ArchiveWriter.Close
// in the teacher.
func (w *WriterSession) Close() {
	w.opts.Password = ""
}

// Create implements the full create path: walk inputs, plan shards,
// dispatch shard workers under the memory-budget scheduler, lay out
// their results in shard-id order, build and write the index and
// footer, optionally paranoid-verify, then commit by renaming the
// draft into place. Any failure at any stage deletes the draft and
// returns the first error observed.
func (w *WriterSession) Create(ctx context.Context, inputs []string) error {
	opts := w.opts
	log := opts.Logger.With("op", "create", "output", w.outputPath)

	walked, err := WalkInputs(inputs)
	if err != nil {
		return err
	}
	for _, skip := range walked.Skipped {
		log.Warn("skipped path", "path", skip.Path, "reason", skip.Reason)
	}

	var totalBytes uint64
	for _, e := range walked.Entries {
		totalBytes += e.Size
	}

	targetBytes := opts.BundleSizeMiB << 20
	plan := PlanShards(walked.Entries, targetBytes, opts.WorkerThreads)
	resolvedTargetBytes := targetBytes
	if resolvedTargetBytes == 0 {
		resolvedTargetBytes = DefaultBundleTarget(totalBytes, opts.WorkerThreads)
	}

	var enc EncryptionDescriptor
	var keys sessionKeys
	encrypted := opts.Password != ""
	if encrypted {
		params := DefaultArgon2Params()
		keys, err = deriveSessionKeys(opts.Password, params)
		if err != nil {
			return errIO("", err)
		}
		enc = EncryptionDescriptor{
			Enabled:   true,
			AlgID:     AlgAES256GCM,
			ArgonMem:  params.MemoryKiB,
			ArgonTime: params.Iterations,
			ArgonP:    params.Parallelism,
			Salt:      params.Salt,
		}
	}

	perShardEst := opts.PerShardEstKiB << 10
	if perShardEst == 0 {
		perShardEst = estimateShardWorkingSet(opts.Level, opts.Codec, resolvedTargetBytes)
	}
	systemMemory := opts.SystemMemory
	if systemMemory == 0 && opts.Memory.Percent > 0 && !opts.Memory.Unlimited {
		systemMemory = DetectSystemMemory()
	}
	sched := PlanSchedule(opts.Memory, systemMemory, perShardEst, opts.WorkerThreads)
	if opts.CodecThreads > 0 && opts.CodecThreads < sched.CodecThreads {
		sched.CodecThreads = opts.CodecThreads
	}
	if sched.Warning != "" {
		log.Warn(sched.Warning, "cause", errBudgetExceeded(sched.Needed, sched.Budget))
	}

	dir := filepath.Dir(w.outputPath)
	tmp, err := os.CreateTemp(dir, ".katana-draft-*")
	if err != nil {
		return errIO(w.outputPath, err)
	}
	draftPath := tmp.Name()
	state := stateDraft
	abort := func() {
		tmp.Close()
		os.Remove(draftPath)
		log.Warn("create aborted", "state", state)
	}

	tracker := NewProgressTracker(opts.WorkerThreads, uint64(len(walked.Entries)), totalBytes, uint32(len(plan.Shards)), opts.ProgressEvery, opts.ProgressSink)

	sem := semaphore.NewWeighted(int64(sched.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	outputs := make([]ShardWriteOutput, len(plan.Shards))
	for i, shard := range plan.Shards {
		i, shard := i, shard
		if err := sem.Acquire(gctx, 1); err != nil {
			abort()
			return errCancelled()
		}
		g.Go(func() error {
			defer sem.Release(1)
			select {
			case <-gctx.Done():
				return errCancelled()
			default:
			}

			job := ShardWriteJob{
				ID:      uint32(i),
				Entries: shard,
				Codec:   CodecConfig{Kind: opts.Codec, Level: opts.Level, CodecThreads: sched.CodecThreads},
				OnFileDone: func(size uint64) {
					tracker.RecordFile(i, size)
				},
			}
			if encrypted {
				k := keys.aeadKey
				job.AEADKey = &k
			}

			out, err := WriteShard(job)
			if err != nil {
				return err
			}
			outputs[i] = out
			tracker.RecordShard()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		abort()
		if ctx.Err() != nil {
			return errCancelled()
		}
		return err
	}

	state = stateShardsWritten

	// Lay out each shard's final bytes at its pre-reserved, disjoint
	// region in shard-id order, per §5's file-layout guarantee.
	var cursor uint64
	results := make([]ShardResult, len(outputs))
	shardTable := make([]ShardTableEntry, len(outputs))
	for i, out := range outputs {
		out.Result.Offset = cursor
		if _, err := tmp.WriteAt(out.Bytes, int64(cursor)); err != nil {
			abort()
			return errIO("", err)
		}
		shardTable[i] = ShardTableEntry{
			ID:              out.Result.ID,
			Offset:          cursor,
			StoredLen:       out.Result.StoredLen,
			UncompressedLen: out.Result.UncompressedLen,
			Encrypted:       out.Result.Encrypted,
			Tag:             out.Result.Tag,
		}
		cursor += out.Result.StoredLen
		results[i] = out.Result
	}

	var allRecords []IndexRecord
	for _, r := range results {
		allRecords = append(allRecords, r.Entries...)
	}
	sort.Slice(allRecords, func(i, j int) bool { return allRecords[i].Path < allRecords[j].Path })

	indexPlain, err := EncodeIndex(shardTable, allRecords)
	if err != nil {
		abort()
		return err
	}
	var indexCompressed bytes.Buffer
	idxEnc, err := NewEncoder(&indexCompressed, CodecConfig{Kind: CodecZstd, Level: 9})
	if err != nil {
		abort()
		return err
	}
	if _, err := idxEnc.Write(indexPlain); err != nil {
		idxEnc.Close()
		abort()
		return errIO("", err)
	}
	if err := idxEnc.Close(); err != nil {
		abort()
		return errIO("", err)
	}

	indexOffset := cursor
	if _, err := tmp.WriteAt(indexCompressed.Bytes(), int64(indexOffset)); err != nil {
		abort()
		return errIO("", err)
	}
	indexLen := uint64(indexCompressed.Len())
	indexCRC := crc32.ChecksumIEEE(indexCompressed.Bytes())

	bodyReader := io.NewSectionReader(tmp, 0, int64(indexOffset+indexLen))
	bodyHash, err := ComputeBodyHash(bodyReader)
	if err != nil {
		abort()
		return errIO("", err)
	}

	var flags uint16
	if encrypted {
		flags |= FlagEncrypted
	}
	if opts.Paranoid {
		flags |= FlagParanoidHash
	}

	footer := Footer{
		Version:     FormatVersion,
		Flags:       flags,
		ShardCount:  uint32(len(plan.Shards)),
		Codec:       opts.Codec,
		IndexOffset: indexOffset,
		IndexLen:    indexLen,
		IndexCRC32:  indexCRC,
		BodyHash:    bodyHash,
		Enc:         enc,
	}
	if encrypted {
		footer.HMAC = ComputeFooterHMAC(keys.hmacKey, footer.Version, footer.Codec, footer.IndexOffset, footer.IndexLen, footer.IndexCRC32, footer.BodyHash, footer.Enc)
	}

	footerBytes := EncodeFooter(footer)
	if _, err := tmp.WriteAt(footerBytes, int64(indexOffset+indexLen)); err != nil {
		abort()
		return errIO("", err)
	}
	state = stateIndexWritten

	if opts.Paranoid {
		verifyReader := io.NewSectionReader(tmp, 0, int64(indexOffset+indexLen))
		recomputed, err := ComputeBodyHash(verifyReader)
		if err != nil {
			abort()
			return errIO("", err)
		}
		if recomputed != bodyHash {
			abort()
			return errCrcMismatch()
		}
	}
	state = stateVerified

	if err := tmp.Sync(); err != nil {
		abort()
		return errIO("", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(draftPath)
		return errIO("", err)
	}
	if err := os.Rename(draftPath, w.outputPath); err != nil {
		os.Remove(draftPath)
		return errIO(w.outputPath, err)
	}
	state = stateCommitted

	tracker.Finish()
	log.Info("create complete", "shards", len(plan.Shards), "bytes", totalBytes, "state", state)
	return nil
}

// estimateShardWorkingSet approximates the per-shard working set of
// spec §4.4 from level, codec and shard_bytes (codec_threads is not an
// input): a codec-window term (a
// coarse, monotonic function of compression level and codec) plus the
// shard buffers WriteShard/ReadShard hold fully in memory at once, the
// framed stream and its compressed/encrypted form. That buffering
// dominates actual peak RSS for any shard sized near targetShardBytes,
// so it, not the codec window alone, is what the scheduler must gate
// concurrency on.
func estimateShardWorkingSet(level int, codec CodecKind, targetShardBytes uint64) uint64 {
	base := uint64(MinProducerBuffer) * 4
	if codec == CodecLZMA2 {
		base *= 2
	}
	if level > 0 {
		base += uint64(level) * (1 << 20)
	}
	// WriteShard/ReadShard briefly hold both the uncompressed framed
	// stream and its compressed/encrypted form at once; 2x the target
	// shard size covers that worst case without assuming a compression
	// ratio.
	return base + targetShardBytes*2
}
