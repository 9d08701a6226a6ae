// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolkit provides the builtin host tools: system inspection,
// network diagnostics, filesystem operations, and process management.
// Each tool is registered with an explicit risk tier; everything
// destructive is declared RiskHigh so the permission policy gates it.
package toolkit

import (
	"github.com/AleutianAI/hostpilot/services/agent/registry"
)

// RegisterBuiltins registers the full builtin tool set on reg.
//
// # Description
//
// Registration is a plain sequence so the tool inventory is statically
// inspectable. The caller freezes the registry afterward; RegisterBuiltins
// itself never freezes, so deployments can append their own tools first.
//
// # Outputs
//
//   - error: The first registration failure, or nil.
func RegisterBuiltins(reg *registry.Registry) error {
	builtins := []registry.Descriptor{
		{
			Name:        "sys.get_info",
			Description: "Report host identity: hostname, OS, kernel, architecture, uptime, and logical CPU count.",
			Risk:        registry.RiskSafe,
			Aliases:     []string{"system information", "host details", "machine info"},
			SampleQueries: []string{
				"what machine is this",
				"show me the system information",
				"what OS is this host running",
			},
			Run: sysGetInfo,
		},
		{
			Name:        "sys.get_cpu_usage",
			Description: "Measure current CPU utilization as a percentage, sampled over a short interval, with load averages.",
			Risk:        registry.RiskSafe,
			Aliases:     []string{"cpu usage", "processor load", "cpu utilization"},
			SampleQueries: []string{
				"how busy is the CPU",
				"check the processor usage",
				"is the cpu under heavy load",
			},
			Run: sysGetCPUUsage,
		},
		{
			Name:        "sys.get_memory_usage",
			Description: "Report physical memory totals: total, used, free, and available bytes plus used percentage.",
			Risk:        registry.RiskSafe,
			Aliases:     []string{"memory usage", "ram usage", "free memory"},
			SampleQueries: []string{
				"how much RAM is in use",
				"check the memory usage",
				"is the system low on memory",
			},
			Run: sysGetMemoryUsage,
		},
		{
			Name:        "sys.get_disk_usage",
			Description: "Report disk capacity and usage for a filesystem path (default /).",
			Risk:        registry.RiskSafe,
			Aliases:     []string{"disk usage", "disk space", "storage usage"},
			SampleQueries: []string{
				"how full is the disk",
				"check available disk space",
				"how much storage is left",
			},
			Run: sysGetDiskUsage,
		},
		{
			Name:        "net.get_config",
			Description: "List network interfaces with their addresses, MAC, MTU, and up/down state.",
			Risk:        registry.RiskSafe,
			Aliases:     []string{"network configuration", "ip address", "network interfaces"},
			SampleQueries: []string{
				"what is my IP address",
				"show the network configuration",
				"list network interfaces",
			},
			Run: netGetConfig,
		},
		{
			Name:        "net.check_connection",
			Description: "Check outbound network connectivity by dialing a well-known endpoint and measuring latency.",
			Risk:        registry.RiskSafe,
			Aliases:     []string{"internet connectivity", "network check", "am I online"},
			SampleQueries: []string{
				"is the internet working",
				"check the network connection",
				"can this host reach the internet",
			},
			Run: netCheckConnection,
		},
		{
			Name:           "fs.list_dir",
			Description:    "List the entries of a directory with sizes and modification times.",
			Risk:           registry.RiskSafe,
			RequiredParams: []string{"path"},
			Aliases:        []string{"list directory", "show files"},
			SampleQueries: []string{
				"what files are in my downloads folder",
				"list the contents of /tmp",
			},
			Run: fsListDir,
		},
		{
			Name:           "fs.file_exists",
			Description:    "Check whether a file or directory exists at a path.",
			Risk:           registry.RiskSafe,
			RequiredParams: []string{"path"},
			Aliases:        []string{"file exists", "check for file"},
			SampleQueries: []string{
				"does /etc/hosts exist",
				"check if the config file is present",
			},
			Run: fsFileExists,
		},
		{
			Name:        "proc.list_top",
			Description: "List the processes consuming the most memory.",
			Risk:        registry.RiskSafe,
			Aliases:     []string{"top processes", "running processes", "what is using memory"},
			SampleQueries: []string{
				"what processes are running",
				"which process is eating all the memory",
			},
			Run: procListTop,
		},
		{
			Name:           "fs.organize_dir",
			Description:    "Sort the files of a directory into subdirectories by file type. Supports dry_run to preview moves.",
			Risk:           registry.RiskMedium,
			RequiredParams: []string{"path"},
			Aliases:        []string{"organize folder", "sort files", "tidy directory"},
			SampleQueries: []string{
				"organize my downloads folder",
				"sort the files in this directory by type",
			},
			Run: fsOrganizeDir,
		},
		{
			Name:           "proc.kill",
			Description:    "Terminate a process by PID. Destructive; requires confirmation outside autonomous mode.",
			Risk:           registry.RiskHigh,
			RequiredParams: []string{"pid"},
			Aliases:        []string{"kill process", "terminate process", "stop process"},
			SampleQueries: []string{
				"kill process 4242",
				"terminate the runaway process",
			},
			Run: procKill,
		},
	}

	for _, d := range builtins {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// stringArg extracts a required string argument from the bag.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// boolArg extracts an optional boolean argument, defaulting to false.
// JSON-decoded bags may carry booleans or the strings "true"/"false".
func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// intArg extracts an integer argument. JSON decoding yields float64 for
// all numbers, so both forms are accepted.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
