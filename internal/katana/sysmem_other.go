//go:build !linux

package katana

// DetectSystemMemory has no portable implementation outside /proc on
// this platform set; callers treat 0 as "unknown" and Percent memory
// budgets degrade to the caller-supplied SystemMemory override.
func DetectSystemMemory() uint64 { return 0 }
