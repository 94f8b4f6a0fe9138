package katana

// MemoryBudget is the tagged variant spec.md §6 calls for:
// `{ unlimited, absolute_mib(u64), percent(u8) }`.
type MemoryBudget struct {
	Unlimited   bool
	AbsoluteMiB uint64
	Percent     uint8 // 1..100, used when AbsoluteMiB == 0 and !Unlimited
}

// resolvedBytes is the budget expressed in bytes, after resolving a
// percent-of-system-memory request against totalSystemMemory.
func (b MemoryBudget) resolvedBytes(totalSystemMemory uint64) uint64 {
	switch {
	case b.Unlimited:
		return 0
	case b.AbsoluteMiB > 0:
		return b.AbsoluteMiB << 20
	case b.Percent > 0:
		return totalSystemMemory * uint64(b.Percent) / 100
	default:
		return 0
	}
}

// Schedule is the outcome of §4.4's memory-budget scheduler: how many
// shards may run concurrently (the semaphore capacity C) and how many
// internal codec threads each of those shards may use, subject to
// C*T <= workerThreads.
type Schedule struct {
	Concurrency  int
	CodecThreads int
	Warning      string // non-empty if the single-shard estimate still didn't fit
	Needed       uint64 // per-shard estimate that didn't fit, set iff Warning != ""
	Budget       uint64 // resolved budget bytes, set iff Warning != ""
}

// PlanSchedule implements the scheduler contract: C = floor(budget /
// per_shard_estimate), clamped to [1, workerThreads]; codec_threads is
// reduced (down to 1) before the caller is told the archive will
// exceed budget rather than failing outright, per spec §4.4.
func PlanSchedule(budget MemoryBudget, totalSystemMemory uint64, perShardEstimate uint64, workerThreads int) Schedule {
	if workerThreads < 1 {
		workerThreads = 1
	}
	budgetBytes := budget.resolvedBytes(totalSystemMemory)
	if budgetBytes == 0 {
		// Unlimited: every worker thread may run a shard, each
		// free to use the full codec thread pool.
		return Schedule{Concurrency: workerThreads, CodecThreads: 0}
	}

	if perShardEstimate == 0 {
		perShardEstimate = MinProducerBuffer
	}

	c := int(budgetBytes / perShardEstimate)
	if c > workerThreads {
		c = workerThreads
	}
	if c < 1 {
		// Even one shard doesn't fit; shrink codec threads toward 1
		// before giving up and proceeding anyway with a warning.
		t := workerThreads
		for t > 1 {
			t--
			if perShardEstimate/uint64(workerThreads)*uint64(t) <= budgetBytes {
				break
			}
		}
		return Schedule{
			Concurrency:  1,
			CodecThreads: 1,
			Warning:      "single-shard memory estimate exceeds budget; proceeding anyway",
			Needed:       perShardEstimate,
			Budget:       budgetBytes,
		}
	}

	t := workerThreads / c
	if t < 1 {
		t = 1
	}
	return Schedule{Concurrency: c, CodecThreads: t}
}
