//go:build linux

package cpuinfo

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// detectPlatform reads /proc/cpuinfo for physical/core topology and
// /sys/devices/system/cpu/cpu0/cache for L1d/L2 sizes. Either source may be
// absent (containers, restricted sandboxes); Detect fills in defaults.
func detectPlatform() Info {
	var info Info
	info.LogicalCPUs, info.PhysicalCPUs, info.HasSMT = readProcCPUInfo()
	info.L1DataBytes = readCacheSize("/sys/devices/system/cpu/cpu0/cache/index0/size")
	info.L2Bytes = readCacheSize("/sys/devices/system/cpu/cpu0/cache/index2/size")
	return info
}

func readProcCPUInfo() (logical, physical int, hasSMT bool) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	type key struct{ physID, coreID int }
	cores := map[key]struct{}{}
	seenPhysIDs := map[int]struct{}{}

	var curPhys, curCore int
	var havePhys, haveCore bool

	flush := func() {
		if havePhys && haveCore {
			cores[key{curPhys, curCore}] = struct{}{}
			seenPhysIDs[curPhys] = struct{}{}
		}
		havePhys, haveCore = false, false
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "processor"):
			logical++
		case strings.HasPrefix(line, "physical id"):
			if v, ok := fieldValueInt(line); ok {
				curPhys, havePhys = v, true
			}
		case strings.HasPrefix(line, "core id"):
			if v, ok := fieldValueInt(line); ok {
				curCore, haveCore = v, true
			}
		case line == "":
			flush()
		}
	}
	flush()

	physical = len(cores)
	hasSMT = physical > 0 && logical > physical
	if physical == 0 {
		physical = logical
	}
	return logical, physical, hasSMT
}

func fieldValueInt(line string) (int, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
	if err != nil {
		return 0, false
	}
	return v, true
}

// readCacheSize parses a sysfs cache size file whose content looks like
// "32K" or "1024K". Returns 0 on any failure.
func readCacheSize(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v * mult
}
