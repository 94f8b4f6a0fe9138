package katana

import (
	"context"
	"log/slog"
	"time"

	engine "github.com/alexqqqqqq777/BlitzArch/internal/katana"
)

// Codec selects the shard/index compression algorithm.
type Codec byte

const (
	CodecZstd  Codec = Codec(engine.CodecZstd)
	CodecLZMA2 Codec = Codec(engine.CodecLZMA2)
)

// MemoryBudget is the tagged create/extract memory budget from spec
// §6: unlimited, an absolute cap in MiB, or a percentage of total
// system memory.
type MemoryBudget struct {
	Unlimited   bool
	AbsoluteMiB uint64
	Percent     uint8
}

func (b MemoryBudget) toEngine() engine.MemoryBudget {
	return engine.MemoryBudget{Unlimited: b.Unlimited, AbsoluteMiB: b.AbsoluteMiB, Percent: b.Percent}
}

// ProgressEvent mirrors spec §6's progress_sink callback payload.
type ProgressEvent struct {
	ProcessedFiles  uint64
	TotalFiles      uint64
	ProcessedBytes  uint64
	TotalBytes      uint64
	CompletedShards uint32
	TotalShards     uint32
	Elapsed         time.Duration
	ETA             time.Duration
	SpeedMBPS       float64
}

// ProgressSink receives ProgressEvents during Create or Extract.
type ProgressSink func(ProgressEvent)

func (s ProgressSink) toEngine() engine.ProgressSink {
	if s == nil {
		return nil
	}
	return func(ev engine.ProgressEvent) {
		s(ProgressEvent{
			ProcessedFiles:  ev.ProcessedFiles,
			TotalFiles:      ev.TotalFiles,
			ProcessedBytes:  ev.ProcessedBytes,
			TotalBytes:      ev.TotalBytes,
			CompletedShards: ev.CompletedShards,
			TotalShards:     ev.TotalShards,
			Elapsed:         ev.Elapsed,
			ETA:             ev.ETA,
			SpeedMBPS:       ev.SpeedMBPS,
		})
	}
}

// ListEntry is one row returned by List: the public, read-only view of
// an archived file.
type ListEntry struct {
	Path     string
	Size     uint64
	ModTime  time.Time
	HasMTime bool
	Hash     [32]byte
}

// CreateOptions configures Create, mirroring spec §6's create(...)
// options record field for field.
type CreateOptions struct {
	Level         int
	Codec         Codec
	CodecThreads  uint32
	WorkerThreads uint32
	BundleSizeMiB uint32
	MemoryBudget  MemoryBudget
	Password      string
	Paranoid      bool
	ProgressSink  ProgressSink
	ProgressEvery time.Duration

	// SystemMemory lets a caller supply the total system memory a
	// Percent budget resolves against. Left at zero, Create falls back
	// to reading /proc/meminfo on Linux and otherwise treats the
	// budget as unresolved; pin a value for deterministic tests.
	SystemMemory uint64
	Logger       *slog.Logger
}

// ExtractOptions configures Extract, mirroring spec §6's
// extract(...) options record.
type ExtractOptions struct {
	Password        string
	StripComponents uint32
	Filters         []string
	Paranoid        bool
	WorkerThreads   uint32
	MemoryBudget    MemoryBudget
	ProgressSink    ProgressSink
	ProgressEvery   time.Duration
	SystemMemory    uint64
	Logger          *slog.Logger
}

// Create builds a new Katana archive at outputPath from inputs (files
// and/or directories), per spec §6's create(inputs, output_path,
// options). The archive is written to a sibling draft file and
// atomically renamed into place on success; any failure leaves
// outputPath untouched.
func Create(ctx context.Context, inputs []string, outputPath string, opts CreateOptions) error {
	eopts := engine.CreateOptions{
		Level:          opts.Level,
		Codec:          engine.CodecKind(opts.Codec),
		CodecThreads:   int(opts.CodecThreads),
		WorkerThreads:  int(opts.WorkerThreads),
		BundleSizeMiB:  uint64(opts.BundleSizeMiB),
		Memory:         opts.MemoryBudget.toEngine(),
		Password:       opts.Password,
		Paranoid:       opts.Paranoid,
		ProgressSink:   opts.ProgressSink.toEngine(),
		ProgressEvery:  opts.ProgressEvery,
		SystemMemory:   opts.SystemMemory,
		Logger:         opts.Logger,
	}
	w := engine.NewWriterSession(outputPath, eopts)
	defer w.Close()
	return fromEngine(w.Create(ctx, inputs))
}

// Extract unpacks archivePath into outputRoot, per spec §6's
// extract(archive_path, output_root, options).
func Extract(ctx context.Context, archivePath, outputRoot string, opts ExtractOptions) error {
	eopts := engine.ExtractOptions{
		Password:        opts.Password,
		StripComponents: opts.StripComponents,
		Filters:         opts.Filters,
		Paranoid:        opts.Paranoid,
		WorkerThreads:   int(opts.WorkerThreads),
		Memory:          opts.MemoryBudget.toEngine(),
		SystemMemory:    opts.SystemMemory,
		ProgressSink:    opts.ProgressSink.toEngine(),
		ProgressEvery:   opts.ProgressEvery,
		Logger:          opts.Logger,
	}
	r := engine.NewReaderSession(archivePath, eopts)
	defer r.Close()
	return fromEngine(r.Extract(ctx, outputRoot))
}

// List returns every entry recorded in archivePath's index, per spec
// §6's list(archive_path, password?) -> iterable of { path, size,
// mtime, content_hash }. password may be empty for unencrypted
// archives.
func List(archivePath, password string) ([]ListEntry, error) {
	r := engine.NewReaderSession(archivePath, engine.ExtractOptions{Password: password})
	defer r.Close()
	entries, err := r.List()
	if err != nil {
		return nil, fromEngine(err)
	}
	out := make([]ListEntry, len(entries))
	for i, e := range entries {
		out[i] = ListEntry{Path: e.Path, Size: e.Size, ModTime: e.ModTime, HasMTime: e.HasMTime, Hash: e.Hash}
	}
	return out, nil
}
