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
	"net"
	"time"
)

// connectivityProbes are dialed in order until one answers. DNS servers
// on 53 respond even when HTTP egress is filtered.
var connectivityProbes = []string{
	"1.1.1.1:53",
	"8.8.8.8:53",
}

const connectivityTimeout = 3 * time.Second

func netGetConfig(_ context.Context, _ map[string]any) (any, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(interfaces))
	for _, iface := range interfaces {
		entry := map[string]any{
			"name": iface.Name,
			"mac":  iface.HardwareAddr.String(),
			"mtu":  iface.MTU,
			"up":   iface.Flags&net.FlagUp != 0,
		}

		addrs, err := iface.Addrs()
		if err == nil {
			list := make([]string, 0, len(addrs))
			for _, a := range addrs {
				list = append(list, a.String())
			}
			entry["addresses"] = list
		}
		out = append(out, entry)
	}
	return map[string]any{"interfaces": out}, nil
}

func netCheckConnection(ctx context.Context, args map[string]any) (any, error) {
	probes := connectivityProbes
	if host, ok := stringArg(args, "host"); ok {
		probes = []string{net.JoinHostPort(host, "53")}
	}

	dialer := net.Dialer{Timeout: connectivityTimeout}
	var lastErr error
	for _, probe := range probes {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", probe)
		if err != nil {
			lastErr = err
			continue
		}
		latency := time.Since(start)
		conn.Close()
		return map[string]any{
			"connected":  true,
			"endpoint":   probe,
			"latency_ms": latency.Milliseconds(),
		}, nil
	}

	result := map[string]any{"connected": false}
	if lastErr != nil {
		result["error"] = lastErr.Error()
	}
	return result, nil
}
