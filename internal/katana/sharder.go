package katana

import "sort"

// ShardPlan is the outcome of assigning entries to shards: the sorted
// membership of each shard, ready for the create-path orchestrator to
// hand to its shard workers.
type ShardPlan struct {
	Shards [][]walkedFile
}

// DefaultBundleTarget computes the "auto" target bytes B when the
// caller leaves it at zero: max(8 MiB, total_bytes / worker_threads).
func DefaultBundleTarget(totalBytes uint64, workerThreads int) uint64 {
	const minTarget = 8 << 20
	if workerThreads < 1 {
		workerThreads = 1
	}
	auto := totalBytes / uint64(workerThreads)
	if auto < minTarget {
		return minTarget
	}
	return auto
}

// PlanShards implements the longest-processing-time bin-packing
// algorithm: shard count N = max(1, min(W, ceil(total/B))), entries
// assigned largest-first to the currently-smallest shard (ties to the
// lowest shard id), then each shard re-sorted by archive path.
func PlanShards(entries []walkedFile, targetBytes uint64, workerThreads int) *ShardPlan {
	if workerThreads < 1 {
		workerThreads = 1
	}
	var total uint64
	for _, e := range entries {
		total += e.Size
	}
	if targetBytes == 0 {
		targetBytes = DefaultBundleTarget(total, workerThreads)
	}

	n := 1
	if targetBytes > 0 {
		n = int((total + targetBytes - 1) / targetBytes)
	}
	if n < 1 {
		n = 1
	}
	if n > workerThreads {
		n = workerThreads
	}

	sorted := make([]walkedFile, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Size > sorted[j].Size
	})

	shards := make([][]walkedFile, n)
	totals := make([]uint64, n)
	for _, e := range sorted {
		best := 0
		for i := 1; i < n; i++ {
			if totals[i] < totals[best] {
				best = i
			}
		}
		shards[best] = append(shards[best], e)
		totals[best] += e.Size
	}

	for i := range shards {
		sort.Slice(shards[i], func(a, b int) bool {
			return shards[i][a].ArchivePath < shards[i][b].ArchivePath
		})
	}

	return &ShardPlan{Shards: shards}
}
