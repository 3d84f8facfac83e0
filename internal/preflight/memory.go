package preflight

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the minimum recommended available memory (1GB). Vector
// search and the embedding pipeline both want headroom.
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory checks available system memory. On platforms without
// /proc/meminfo the check degrades to a warning rather than guessing.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	available, ok := readAvailableMemory("/proc/meminfo")
	if !ok {
		result.Status = StatusWarn
		result.Required = false
		result.Message = "cannot determine available memory on this platform"
		return result
	}

	if available < MinMemoryBytes {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(available))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(available))
	return result
}

// readAvailableMemory parses MemAvailable from a meminfo-format file.
func readAvailableMemory(path string) (uint64, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
