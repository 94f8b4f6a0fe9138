//go:build linux

package katana

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// DetectSystemMemory reads MemTotal from /proc/meminfo, in bytes. It
// returns 0 if the file cannot be read or parsed, leaving callers to
// fall back to treating a Percent memory budget as unresolved.
func DetectSystemMemory() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kib, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kib * 1024
	}
	return 0
}
