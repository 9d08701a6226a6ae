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
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New(slog.Default())
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	for _, name := range []string{
		"sys.get_info", "sys.get_cpu_usage", "sys.get_memory_usage",
		"sys.get_disk_usage", "net.get_config", "net.check_connection",
		"fs.list_dir", "fs.file_exists", "fs.organize_dir",
		"proc.list_top", "proc.kill",
	} {
		if !reg.Has(name) {
			t.Errorf("builtin %s not registered", name)
		}
	}

	kill, _ := reg.Get("proc.kill")
	if kill.Risk != registry.RiskHigh {
		t.Errorf("proc.kill risk = %s, want high", kill.Risk)
	}
	organize, _ := reg.Get("fs.organize_dir")
	if organize.Risk != registry.RiskMedium {
		t.Errorf("fs.organize_dir risk = %s, want medium", organize.Risk)
	}

	// Router-eligible set must contain the read-only diagnostics and
	// nothing with required params or elevated risk.
	for _, d := range reg.SafeZeroArg() {
		if d.Risk != registry.RiskSafe || len(d.RequiredParams) != 0 {
			t.Errorf("SafeZeroArg returned ineligible tool %s", d.Name)
		}
	}
}

func TestRegisterBuiltinsTwiceFails(t *testing.T) {
	reg := registry.New(slog.Default())
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("first RegisterBuiltins: %v", err)
	}
	if err := RegisterBuiltins(reg); err == nil {
		t.Fatal("duplicate registration did not fail")
	}
}

func TestSysGetInfo(t *testing.T) {
	result, err := sysGetInfo(context.Background(), nil)
	if err != nil {
		t.Fatalf("sysGetInfo: %v", err)
	}
	m := result.(map[string]any)
	if m["hostname"] == "" {
		t.Error("hostname is empty")
	}
	if m["cpu_count"].(int) < 1 {
		t.Errorf("cpu_count = %v", m["cpu_count"])
	}
}

func TestSysGetMemoryUsage(t *testing.T) {
	result, err := sysGetMemoryUsage(context.Background(), nil)
	if err != nil {
		t.Fatalf("sysGetMemoryUsage: %v", err)
	}
	m := result.(map[string]any)
	total := m["total_bytes"].(uint64)
	if total == 0 {
		t.Fatal("total_bytes = 0")
	}
	percent := m["used_percent"].(float64)
	if percent < 0 || percent > 100 {
		t.Errorf("used_percent = %v", percent)
	}
}

func TestSysGetDiskUsageDefaultsToRoot(t *testing.T) {
	result, err := sysGetDiskUsage(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("sysGetDiskUsage: %v", err)
	}
	m := result.(map[string]any)
	if m["path"] != "/" {
		t.Errorf("path = %v, want /", m["path"])
	}
	if m["total_bytes"].(uint64) == 0 {
		t.Error("total_bytes = 0")
	}
}

func TestSysGetDiskUsageBadPath(t *testing.T) {
	_, err := sysGetDiskUsage(context.Background(), map[string]any{"path": "/no/such/mount/point"})
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestFsListDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := fsListDir(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("fsListDir: %v", err)
	}
	m := result.(map[string]any)
	if m["count"].(int) != 2 {
		t.Fatalf("count = %v, want 2", m["count"])
	}
	if m["truncated"].(bool) {
		t.Error("small directory reported as truncated")
	}
}

func TestFsListDirMissingPath(t *testing.T) {
	if _, err := fsListDir(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error without path argument")
	}
}

func TestFsFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := fsFileExists(context.Background(), map[string]any{"path": file})
	if err != nil {
		t.Fatalf("fsFileExists: %v", err)
	}
	if !result.(map[string]any)["exists"].(bool) {
		t.Error("existing file reported absent")
	}

	result, err = fsFileExists(context.Background(), map[string]any{"path": filepath.Join(dir, "absent.txt")})
	if err != nil {
		t.Fatalf("fsFileExists: %v", err)
	}
	if result.(map[string]any)["exists"].(bool) {
		t.Error("absent file reported present")
	}
}

func TestFsOrganizeDirDryRun(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"photo.jpg", "report.pdf", "mystery.xyz"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	result, err := fsOrganizeDir(context.Background(), map[string]any{"path": dir, "dry_run": true})
	if err != nil {
		t.Fatalf("fsOrganizeDir: %v", err)
	}
	m := result.(map[string]any)
	if m["moved"].(int) != 3 {
		t.Fatalf("moved = %v, want 3 planned moves", m["moved"])
	}

	// Dry run must not touch the filesystem.
	if _, err := os.Stat(filepath.Join(dir, "photo.jpg")); err != nil {
		t.Error("dry run moved photo.jpg")
	}
	if _, err := os.Stat(filepath.Join(dir, "images")); !os.IsNotExist(err) {
		t.Error("dry run created a category directory")
	}
}

func TestFsOrganizeDirMovesByCategory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"photo.jpg":   "images",
		"report.pdf":  "documents",
		"backup.zip":  "archives",
		"mystery.xyz": "other",
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := fsOrganizeDir(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("fsOrganizeDir: %v", err)
	}
	m := result.(map[string]any)
	if m["moved"].(int) != 4 {
		t.Fatalf("moved = %v, want 4", m["moved"])
	}

	for name, category := range files {
		if _, err := os.Stat(filepath.Join(dir, category, name)); err != nil {
			t.Errorf("%s not moved to %s: %v", name, category, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ".hidden")); err != nil {
		t.Error("dotfile was moved")
	}

	// A second pass finds only category directories and moves nothing.
	result, err = fsOrganizeDir(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("second fsOrganizeDir: %v", err)
	}
	if moved := result.(map[string]any)["moved"].(int); moved != 0 {
		t.Errorf("second pass moved %d files", moved)
	}
}

func TestProcListTop(t *testing.T) {
	result, err := procListTop(context.Background(), map[string]any{"count": 5})
	if err != nil {
		t.Fatalf("procListTop: %v", err)
	}
	m := result.(map[string]any)
	processes := m["processes"].([]procEntry)
	if len(processes) == 0 {
		t.Fatal("no processes returned")
	}
	if len(processes) > 5 {
		t.Fatalf("returned %d processes, want at most 5", len(processes))
	}
	// Descending by resident size.
	for i := 1; i < len(processes); i++ {
		if processes[i].RSSBytes > processes[i-1].RSSBytes {
			t.Fatal("processes not sorted by rss")
		}
	}
}

func TestProcKillRefusesSystemPIDs(t *testing.T) {
	for _, pid := range []int{-1, 0, 1} {
		if _, err := procKill(context.Background(), map[string]any{"pid": pid}); err == nil {
			t.Errorf("procKill accepted pid %d", pid)
		}
	}
}

func TestProcKillMissingPID(t *testing.T) {
	if _, err := procKill(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error without pid argument")
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s":     "value",
		"empty": "",
		"b":     true,
		"bs":    "true",
		"f":     float64(42),
		"i":     7,
	}

	if v, ok := stringArg(args, "s"); !ok || v != "value" {
		t.Errorf("stringArg(s) = %q, %v", v, ok)
	}
	if _, ok := stringArg(args, "empty"); ok {
		t.Error("stringArg accepted empty string")
	}
	if _, ok := stringArg(args, "missing"); ok {
		t.Error("stringArg accepted missing key")
	}
	if !boolArg(args, "b") || !boolArg(args, "bs") {
		t.Error("boolArg rejected true values")
	}
	if boolArg(args, "missing") {
		t.Error("boolArg defaulted to true")
	}
	if v, ok := intArg(args, "f"); !ok || v != 42 {
		t.Errorf("intArg(f) = %d, %v", v, ok)
	}
	if v, ok := intArg(args, "i"); !ok || v != 7 {
		t.Errorf("intArg(i) = %d, %v", v, ok)
	}
	if _, ok := intArg(args, "s"); ok {
		t.Error("intArg accepted a string")
	}
}
