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
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// topProcessCount is the default number of processes proc.list_top returns.
const topProcessCount = 10

// killGracePeriod is how long proc.kill waits after SIGTERM before
// reporting whether the process survived.
const killGracePeriod = 2 * time.Second

// procEntry is one row of the process table snapshot.
type procEntry struct {
	PID      int    `json:"pid"`
	Name     string `json:"name"`
	RSSBytes uint64 `json:"rss_bytes"`
}

// readProcStatus extracts Name and VmRSS from /proc/<pid>/status.
func readProcStatus(pid int) (procEntry, error) {
	f, err := os.Open(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return procEntry{}, err
	}
	defer f.Close()

	entry := procEntry{PID: pid}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "Name:"):
			entry.Name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
		case strings.HasPrefix(line, "VmRSS:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
					entry.RSSBytes = kb * 1024
				}
			}
		}
	}
	return entry, scanner.Err()
}

func procListTop(ctx context.Context, args map[string]any) (any, error) {
	count, ok := intArg(args, "count")
	if !ok || count <= 0 {
		count = topProcessCount
	}

	dirs, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	entries := make([]procEntry, 0, 128)
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pid, err := strconv.Atoi(d.Name())
		if err != nil {
			continue
		}
		// Processes exiting mid-scan are expected; skip them.
		entry, err := readProcStatus(pid)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RSSBytes > entries[j].RSSBytes })
	if len(entries) > count {
		entries = entries[:count]
	}
	return map[string]any{"processes": entries, "count": len(entries)}, nil
}

func procKill(ctx context.Context, args map[string]any) (any, error) {
	pid, ok := intArg(args, "pid")
	if !ok {
		return nil, fmt.Errorf("proc.kill: missing required argument %q", "pid")
	}
	if pid <= 1 {
		return nil, fmt.Errorf("proc.kill: refusing pid %d", pid)
	}

	target, err := readProcStatus(pid)
	if err != nil {
		return nil, fmt.Errorf("proc.kill: no such process %d", pid)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return nil, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(killGracePeriod):
	}

	// Signal 0 probes existence without delivering anything.
	alive := unix.Kill(pid, 0) == nil
	forced := false
	if alive && boolArg(args, "force") {
		if err := unix.Kill(pid, unix.SIGKILL); err == nil {
			forced = true
			alive = false
		}
	}

	return map[string]any{
		"pid":        pid,
		"name":       target.Name,
		"terminated": !alive,
		"forced":     forced,
	}, nil
}
