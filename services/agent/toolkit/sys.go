// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolkit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// cpuSampleInterval is the delta window for utilization measurement.
const cpuSampleInterval = 200 * time.Millisecond

func sysGetInfo(_ context.Context, _ map[string]any) (any, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var uts unix.Utsname
	kernel := "unknown"
	if err := unix.Uname(&uts); err == nil {
		kernel = unix.ByteSliceToString(uts.Release[:])
	}

	var info unix.Sysinfo_t
	uptime := int64(0)
	if err := unix.Sysinfo(&info); err == nil {
		uptime = int64(info.Uptime)
	}

	return map[string]any{
		"hostname":       hostname,
		"os":             runtime.GOOS,
		"arch":           runtime.GOARCH,
		"kernel":         kernel,
		"uptime_seconds": uptime,
		"cpu_count":      runtime.NumCPU(),
	}, nil
}

// cpuTimes is one /proc/stat aggregate snapshot.
type cpuTimes struct {
	idle  uint64
	total uint64
}

// readCPUTimes parses the aggregate "cpu" line of /proc/stat.
func readCPUTimes() (cpuTimes, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuTimes{}, fmt.Errorf("open /proc/stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || fields[0] != "cpu" {
			continue
		}
		var t cpuTimes
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("parse /proc/stat field %q: %w", field, err)
			}
			t.total += v
			// idle + iowait
			if i == 3 || i == 4 {
				t.idle += v
			}
		}
		return t, nil
	}
	return cpuTimes{}, fmt.Errorf("no aggregate cpu line in /proc/stat")
}

func sysGetCPUUsage(ctx context.Context, _ map[string]any) (any, error) {
	before, err := readCPUTimes()
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(cpuSampleInterval):
	}

	after, err := readCPUTimes()
	if err != nil {
		return nil, err
	}

	percent := 0.0
	if dTotal := after.total - before.total; dTotal > 0 {
		dIdle := after.idle - before.idle
		percent = 100 * float64(dTotal-dIdle) / float64(dTotal)
	}

	result := map[string]any{
		"percent":   round1(percent),
		"cpu_count": runtime.NumCPU(),
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err == nil {
		const loadScale = 1 << 16 // SI_LOAD_SHIFT fixed-point
		result["load_1m"] = round1(float64(info.Loads[0]) / loadScale)
		result["load_5m"] = round1(float64(info.Loads[1]) / loadScale)
		result["load_15m"] = round1(float64(info.Loads[2]) / loadScale)
	}
	return result, nil
}

func sysGetMemoryUsage(_ context.Context, _ map[string]any) (any, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return nil, fmt.Errorf("sysinfo: %w", err)
	}

	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := uint64(info.Freeram) * unit
	buffers := uint64(info.Bufferram) * unit
	available := free + buffers
	used := total - available

	usedPercent := 0.0
	if total > 0 {
		usedPercent = 100 * float64(used) / float64(total)
	}

	return map[string]any{
		"total_bytes":     total,
		"used_bytes":      used,
		"free_bytes":      free,
		"available_bytes": available,
		"used_percent":    round1(usedPercent),
	}, nil
}

func sysGetDiskUsage(_ context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		path = "/"
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	total := stat.Blocks * bsize
	free := stat.Bavail * bsize
	used := total - stat.Bfree*bsize

	usedPercent := 0.0
	if total > 0 {
		usedPercent = 100 * float64(used) / float64(total)
	}

	return map[string]any{
		"path":         path,
		"total_bytes":  total,
		"used_bytes":   used,
		"free_bytes":   free,
		"used_percent": round1(usedPercent),
	}, nil
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
