// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
)

// redactionPattern pairs a secret-matching regex with a labeled
// replacement so a reader knows what class of secret was present
// without seeing its value.
type redactionPattern struct {
	pattern     *regexp.Regexp
	replacement string
}

// redactionPatterns is ordered most-specific-first: the Anthropic
// pattern must run before the generic sk- pattern, or an Anthropic key
// gets a partial, mislabeled redaction.
var redactionPatterns = []redactionPattern{
	{
		pattern:     regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`),
		replacement: "[REDACTED:anthropic_key]",
	},
	{
		pattern:     regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		replacement: "[REDACTED:openai_key]",
	},
	{
		pattern:     regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`),
		replacement: "[REDACTED:gemini_key]",
	},
	{
		pattern:     regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
		replacement: "[REDACTED:aws_access_key]",
	},
	{
		pattern:     regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		replacement: "[REDACTED:private_key]",
	},
	{
		pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		replacement: "[REDACTED:bearer_token]",
	},
	{
		pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		replacement: "key=[REDACTED]",
	},
	{
		pattern:     regexp.MustCompile(`password=[^\s&]{3,}`),
		replacement: "password=[REDACTED]",
	},
	{
		pattern:     regexp.MustCompile(`(postgres|mysql|mongodb)://[^\s]+@`),
		replacement: "${1}://[REDACTED]@",
	},
}

// Redact strips known secret patterns from text before it leaves the
// host, whether in a cloud prompt or a log line.
//
// # Description
//
// The communication and risk agents send user requests and tool output
// to a cloud model. Tool output can carry anything the host holds, so
// everything crossing that boundary passes through Redact first. The
// same applies to error strings destined for logs.
//
// Pattern-based only: secrets in unrecognized formats pass through.
// Multi-line secrets are not matched beyond the private key header.
//
// # Thread Safety
//
// Safe for concurrent use; the pattern table is never mutated.
func Redact(s string) string {
	if s == "" {
		return s
	}
	for _, p := range redactionPatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
