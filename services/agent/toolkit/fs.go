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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// listDirCap bounds the entries returned for very large directories.
const listDirCap = 500

// categoryByExtension maps lowercase file extensions to the subdirectory
// fs.organize_dir sorts them into. Unknown extensions go to "other".
var categoryByExtension = map[string]string{
	".jpg": "images", ".jpeg": "images", ".png": "images", ".gif": "images",
	".webp": "images", ".svg": "images", ".bmp": "images",
	".mp4": "videos", ".mkv": "videos", ".mov": "videos", ".avi": "videos",
	".mp3": "audio", ".wav": "audio", ".flac": "audio", ".ogg": "audio",
	".pdf": "documents", ".doc": "documents", ".docx": "documents",
	".txt": "documents", ".md": "documents", ".odt": "documents",
	".xls": "spreadsheets", ".xlsx": "spreadsheets", ".csv": "spreadsheets",
	".zip": "archives", ".tar": "archives", ".gz": "archives",
	".bz2": "archives", ".xz": "archives", ".7z": "archives", ".rar": "archives",
	".deb": "packages", ".rpm": "packages", ".apk": "packages",
	".iso": "images_disk", ".img": "images_disk",
	".sh": "scripts", ".py": "scripts", ".go": "scripts", ".js": "scripts",
}

func fsListDir(_ context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("fs.list_dir: missing required argument %q", "path")
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}

	truncated := false
	if len(entries) > listDirCap {
		entries = entries[:listDirCap]
		truncated = true
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{
			"name":   e.Name(),
			"is_dir": e.IsDir(),
		}
		if info, err := e.Info(); err == nil {
			item["size_bytes"] = info.Size()
			item["modified"] = info.ModTime().UTC().Format("2006-01-02T15:04:05Z")
		}
		out = append(out, item)
	}

	return map[string]any{
		"path":      path,
		"entries":   out,
		"count":     len(out),
		"truncated": truncated,
	}, nil
}

func fsFileExists(_ context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("fs.file_exists: missing required argument %q", "path")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"path": path, "exists": false}, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return map[string]any{
		"path":   path,
		"exists": true,
		"is_dir": info.IsDir(),
	}, nil
}

func fsOrganizeDir(ctx context.Context, args map[string]any) (any, error) {
	path, ok := stringArg(args, "path")
	if !ok {
		return nil, fmt.Errorf("fs.organize_dir: missing required argument %q", "path")
	}
	dryRun := boolArg(args, "dry_run")

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}

	moves := make([]map[string]string, 0)
	skipped := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Directories (including categories from a previous run) and
		// dotfiles stay put.
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			skipped++
			continue
		}

		category, ok := categoryByExtension[strings.ToLower(filepath.Ext(e.Name()))]
		if !ok {
			category = "other"
		}

		src := filepath.Join(path, e.Name())
		dst := filepath.Join(path, category, e.Name())
		if _, err := os.Stat(dst); err == nil {
			// Never clobber an existing file at the destination.
			skipped++
			continue
		}

		if !dryRun {
			if err := os.MkdirAll(filepath.Join(path, category), 0o755); err != nil {
				return nil, fmt.Errorf("create category dir %s: %w", category, err)
			}
			if err := os.Rename(src, dst); err != nil {
				return nil, fmt.Errorf("move %s: %w", e.Name(), err)
			}
		}
		moves = append(moves, map[string]string{
			"file":     e.Name(),
			"category": category,
		})
	}

	return map[string]any{
		"path":    path,
		"dry_run": dryRun,
		"moved":   len(moves),
		"skipped": skipped,
		"moves":   moves,
	}, nil
}
