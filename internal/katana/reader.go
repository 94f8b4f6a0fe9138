package katana

import (
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ExtractOptions mirrors spec §6's extract(...) options record.
type ExtractOptions struct {
	Password        string
	StripComponents uint32
	Filters         []string
	Paranoid        bool
	WorkerThreads   int
	Memory          MemoryBudget
	SystemMemory    uint64
	ProgressSink    ProgressSink
	ProgressEvery   time.Duration
	Logger          *slog.Logger
}

// ReaderSession is the extract-path session object, mirroring the
// teacher's ArchiveReader lazy-load pattern (session.go): it opens
// the archive, parses and verifies the footer and index once, then
// serves Extract/List from that cached state.
type ReaderSession struct {
	path   string
	opts   ExtractOptions
	mapped *mappedFile
	footer Footer
	keys   sessionKeys
	shards map[uint32]ShardTableEntry
	lookup indexPathLookup
	records []IndexRecord
}

func NewReaderSession(path string, opts ExtractOptions) *ReaderSession {
	if opts.WorkerThreads <= 0 {
		opts.WorkerThreads = runtime.NumCPU()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReaderSession{path: path, opts: opts}
}

func (r *ReaderSession) Close() {
	r.opts.Password = ""
	if r.mapped != nil {
		r.mapped.Close()
		r.mapped = nil
	}
}

// open implements the Opened -> FooterVerified -> IndexLoaded prefix
// of spec §4.9's extract state machine. It is idempotent.
func (r *ReaderSession) open() error {
	if r.lookup != nil {
		return nil
	}

	mf, err := openMapped(r.path)
	if err != nil {
		return errIO(r.path, err)
	}
	r.mapped = mf

	info, err := os.Stat(r.path)
	if err != nil {
		return errIO(r.path, err)
	}
	size := info.Size()

	tailSize := int64(64 * 1024)
	if tailSize > size {
		tailSize = size
	}
	tail := make([]byte, tailSize)
	if _, err := r.mapped.ReadAt(tail, size-tailSize); err != nil && err != io.EOF {
		return errIO(r.path, err)
	}

	footer, _, err := DecodeFooter(tail)
	if err != nil {
		return err
	}
	r.footer = footer

	if footer.encrypted() {
		if r.opts.Password == "" {
			return errAuthFailure()
		}
		params := Argon2Params{MemoryKiB: footer.Enc.ArgonMem, Iterations: footer.Enc.ArgonTime, Parallelism: footer.Enc.ArgonP, Salt: footer.Enc.Salt}
		keys, err := deriveSessionKeys(r.opts.Password, params)
		if err != nil {
			return errIO("", err)
		}
		r.keys = keys
		if err := VerifyFooterHMAC(keys.hmacKey, footer); err != nil {
			return err
		}
	}

	indexBuf := make([]byte, footer.IndexLen)
	if _, err := r.mapped.ReadAt(indexBuf, int64(footer.IndexOffset)); err != nil && err != io.EOF {
		return errIO(r.path, err)
	}
	if crc32.ChecksumIEEE(indexBuf) != footer.IndexCRC32 {
		return errCrcMismatch()
	}

	if footer.paranoid() || r.opts.Paranoid {
		bodyReader := io.NewSectionReader(readerAtFunc(r.mapped.ReadAt), 0, int64(footer.IndexOffset+footer.IndexLen))
		recomputed, err := ComputeBodyHash(bodyReader)
		if err != nil {
			return errIO(r.path, err)
		}
		if recomputed != footer.BodyHash {
			return errCrcMismatch()
		}
	}

	dec, err := NewDecoder(bytes.NewReader(indexBuf), CodecZstd)
	if err != nil {
		return errMalformedIndex(err.Error())
	}
	indexPlain, err := io.ReadAll(dec)
	dec.Close()
	if err != nil {
		return errMalformedIndex(err.Error())
	}

	shardTable, records, err := DecodeIndex(indexPlain)
	if err != nil {
		return err
	}
	lookup, err := buildIndexLookup(records)
	if err != nil {
		return errMalformedIndex(err.Error())
	}

	shards := make(map[uint32]ShardTableEntry, len(shardTable))
	for _, s := range shardTable {
		shards[s.ID] = s
	}

	r.records = records
	r.lookup = lookup
	r.shards = shards
	return nil
}

// readerAtFunc adapts a ReadAt method value to io.ReaderAt.
type readerAtFunc func([]byte, int64) (int, error)

func (f readerAtFunc) ReadAt(p []byte, off int64) (int, error) { return f(p, off) }

// List returns the public, read-only view of every entry, per spec
// §6's list(archive_path, password?) contract.
func (r *ReaderSession) List() ([]ListEntry, error) {
	if err := r.open(); err != nil {
		return nil, err
	}
	out := make([]ListEntry, 0, len(r.records))
	for _, rec := range r.records {
		sec := rec.MTimeSecs
		ns := rec.MTimeNanos
		out = append(out, ListEntry{
			Path:     rec.Path,
			Size:     rec.Length,
			ModTime:  unixToTime(sec, ns),
			HasMTime: rec.HasMTime,
			Hash:     rec.Hash,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Extract implements §4.6/§4.7: selects entries via the filter,
// groups them by shard, dispatches shard workers bounded by the
// memory-budget scheduler, and writes each extracted entry to its
// sanitized destination path.
func (r *ReaderSession) Extract(ctx context.Context, outputRoot string) error {
	if err := r.open(); err != nil {
		return err
	}
	log := r.opts.Logger.With("op", "extract", "archive", r.path)

	filter := Filter{Patterns: r.opts.Filters}
	wantedByShard := make(map[uint32][]IndexRecord)
	var totalBytes, totalFiles uint64
	for _, rec := range r.records {
		if !filter.Matches(rec.Path) {
			continue
		}
		if err := ValidateArchivePath(rec.Path); err != nil {
			return err
		}
		wantedByShard[rec.ShardID] = append(wantedByShard[rec.ShardID], rec)
		totalBytes += rec.Length
		totalFiles++
	}

	// Unlike create, the actual per-shard byte counts are already known
	// from the shard table, so the scheduler gates on the real worst
	// case among the shards about to be read rather than an estimate.
	var maxShardBytes uint64
	for id := range wantedByShard {
		if layout, ok := r.shards[id]; ok {
			if layout.UncompressedLen > maxShardBytes {
				maxShardBytes = layout.UncompressedLen
			}
			if layout.StoredLen > maxShardBytes {
				maxShardBytes = layout.StoredLen
			}
		}
	}
	perShardEst := estimateShardWorkingSet(0, r.footer.Codec, maxShardBytes)
	systemMemory := r.opts.SystemMemory
	if systemMemory == 0 && r.opts.Memory.Percent > 0 && !r.opts.Memory.Unlimited {
		systemMemory = DetectSystemMemory()
	}
	sched := PlanSchedule(r.opts.Memory, systemMemory, perShardEst, r.opts.WorkerThreads)
	if sched.Warning != "" {
		log.Warn(sched.Warning, "cause", errBudgetExceeded(sched.Needed, sched.Budget))
	}

	tracker := NewProgressTracker(r.opts.WorkerThreads, totalFiles, totalBytes, uint32(len(wantedByShard)), r.opts.ProgressEvery, r.opts.ProgressSink)

	sem := semaphore.NewWeighted(int64(sched.Concurrency))
	g, gctx := errgroup.WithContext(ctx)

	shardIDs := make([]uint32, 0, len(wantedByShard))
	for id := range wantedByShard {
		shardIDs = append(shardIDs, id)
	}

	for idx, id := range shardIDs {
		id := id
		wanted := wantedByShard[id]
		layout, ok := r.shards[id]
		if !ok {
			return errMalformedIndex("index references unknown shard")
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			return errCancelled()
		}
		workerSlot := idx
		g.Go(func() error {
			defer sem.Release(1)
			select {
			case <-gctx.Done():
				return errCancelled()
			default:
			}

			stored := make([]byte, layout.StoredLen)
			if _, err := r.mapped.ReadAt(stored, int64(layout.Offset)); err != nil && err != io.EOF {
				return errIO(r.path, err)
			}

			job := ShardReadJob{
				ID:        id,
				Stored:    stored,
				Codec:     r.footer.Codec,
				Encrypted: layout.Encrypted,
				Nonce:     shardNonce(id),
				Tag:       layout.Tag,
				Wanted:    wanted,
			}
			if job.Encrypted {
				k := r.keys.aeadKey
				job.AEADKey = &k
			}

			files, err := ReadShard(job)
			if err != nil {
				return err
			}
			for _, ef := range files {
				destPath := SanitizedOutputPath(outputRoot, ef.Record.Path, r.opts.StripComponents)
				if err := writeExtractedFile(destPath, ef); err != nil {
					return err
				}
				tracker.RecordFile(workerSlot, uint64(len(ef.Data)))
			}
			tracker.RecordShard()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return errCancelled()
		}
		return err
	}

	tracker.Finish()
	log.Info("extract complete", "files", totalFiles, "bytes", totalBytes)
	return nil
}

func unixToTime(sec int64, nsec uint32) time.Time {
	return time.Unix(sec, int64(nsec)).UTC()
}
