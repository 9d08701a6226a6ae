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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/hostpilot/services/agent/plan"
)

// commTimeout bounds a single cloud call. Acknowledgments sit on the
// request path; a slow model must not stall the pipeline.
const commTimeout = 15 * time.Second

// commRateLimit throttles cloud calls to 1 per second with a small burst,
// keeping a chatty session inside free-tier quotas.
var commRateLimit = rate.Limit(1)

const commRateBurst = 3

// CommAgent handles user-facing communication: acknowledging requests,
// classifying intent, and summarizing execution results.
//
// # Description
//
// Backed by an OpenAI-compatible chat API when a key is configured. With
// no client, or on any call failure, the agent answers from keyword
// heuristics and templated summaries; communication never blocks the
// pipeline on model availability.
//
// # Thread Safety
//
// Safe for concurrent use.
type CommAgent struct {
	client  *openai.Client // nil = fallback mode
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewCommAgent creates the communication agent. An empty apiKey yields
// fallback mode; empty model defaults to gpt-4o-mini.
func NewCommAgent(apiKey, model string, logger *slog.Logger) *CommAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	var client *openai.Client
	if apiKey != "" {
		client = openai.NewClient(apiKey)
		logger.Info("comm agent: cloud backend connected", slog.String("model", model))
	} else {
		logger.Warn("comm agent: no API key, using fallback mode")
	}

	return &CommAgent{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(commRateLimit, commRateBurst),
		logger:  logger,
	}
}

// Backend reports which backend is live: "cloud" or "fallback".
func (c *CommAgent) Backend() string {
	if c.client != nil {
		return "cloud"
	}
	return "fallback"
}

// Acknowledge produces the structured acknowledgment for a request.
// Falls back to keyword heuristics when the model is unavailable.
func (c *CommAgent) Acknowledge(ctx context.Context, message string) Acknowledgment {
	if c.client == nil {
		return fallbackAcknowledgment(message)
	}

	// Everything leaving for the cloud backend is scrubbed first; the
	// request text is user-typed and can carry pasted credentials.
	prompt := fmt.Sprintf(`You are the communication agent for a host automation system. A user has sent a request.
User request: %q

Respond with a JSON object (no markdown) with exactly two keys:
1. "reply": A single friendly sentence acknowledging the request.
2. "explanation": A clear 2-4 sentence plain-language explanation covering what you understood, what type of actions will be taken, what tools are likely involved, and what outcome to expect. No markdown inside the strings.`, Redact(message))

	raw, err := c.chat(ctx, prompt)
	if err != nil {
		c.logger.Warn("comm agent: acknowledgment failed, using fallback", slog.String("error", err.Error()))
		return fallbackAcknowledgment(message)
	}

	var ack Acknowledgment
	if err := json.Unmarshal([]byte(extractJSON(raw)), &ack); err != nil {
		c.logger.Warn("comm agent: malformed acknowledgment, using fallback", slog.String("error", err.Error()))
		return fallbackAcknowledgment(message)
	}
	if ack.Reply == "" {
		ack.Reply = "Got it, working on it!"
	}
	return ack
}

// ClassifyIntent returns the structured intent for a request. The
// fallback echoes the message with a neutral 0.5 confidence.
func (c *CommAgent) ClassifyIntent(ctx context.Context, message string) Intent {
	fallback := Intent{Intent: message, Category: "general", Confidence: 0.5}
	if c.client == nil {
		return fallback
	}

	prompt := fmt.Sprintf(`Classify this host automation request into a JSON object with keys: intent (short verb-noun), category (system/files/process/network/external), confidence (0-1).

Request: %q
JSON:`, Redact(message))

	raw, err := c.chat(ctx, prompt)
	if err != nil {
		return fallback
	}
	var intent Intent
	if err := json.Unmarshal([]byte(extractJSON(raw)), &intent); err != nil {
		return fallback
	}
	return intent
}

// Summarize turns the result ledger into a short user-facing summary.
// The fallback is a counted template over successes and failures.
func (c *CommAgent) Summarize(ctx context.Context, results []plan.StepResult, userInput string) string {
	successes := 0
	for _, r := range results {
		if r.Status == plan.StatusSuccess {
			successes++
		}
	}
	failures := len(results) - successes

	if c.client == nil {
		return templateSummary(successes, failures, len(results))
	}

	raw, err := json.Marshal(results)
	if err != nil {
		return templateSummary(successes, failures, len(results))
	}
	// Tool output can surface anything the host holds (env dumps, config
	// files), so the ledger is scrubbed before it leaves the machine.
	ledger := Redact(string(raw))
	if len(ledger) > 3000 {
		ledger = ledger[:3000]
	}

	prompt := fmt.Sprintf(`You are summarizing host automation results.
User original request: %q
Execution results:
%s

Task: Provide a 1-2 sentence friendly summary of what was done and the final outcome. If the data contains specific numbers (like CPU %%, file counts), mention them briefly. No markdown. Keep it conversational.`, Redact(userInput), ledger)

	reply, err := c.chat(ctx, prompt)
	if err != nil {
		c.logger.Warn("comm agent: summary failed, using fallback", slog.String("error", err.Error()))
		return templateSummary(successes, failures, len(results))
	}
	return strings.TrimSpace(reply)
}

// chat runs one rate-limited chat completion.
func (c *CommAgent) chat(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// =============================================================================
// Fallbacks
// =============================================================================

// fallbackAcknowledgment answers from keyword heuristics when no model
// is reachable.
func fallbackAcknowledgment(message string) Acknowledgment {
	msg := strings.ToLower(message)
	switch {
	case containsAny(msg, "cpu", "memory", "ram", "disk", "system"):
		return Acknowledgment{
			Reply:       "I'll check your system status right away.",
			Explanation: "You want information about your system's hardware performance. I'll read the current CPU, memory, or disk metrics and report them back to you. No changes will be made; this is a read-only diagnostic.",
		}
	case containsAny(msg, "file", "organiz", "download", "folder"):
		return Acknowledgment{
			Reply:       "I'll help you manage your files.",
			Explanation: "You want a file-related operation. I'll look at the relevant directory, identify the files matching your request, and carry out the action such as listing, searching, or organizing. Your files are only modified if the action explicitly requires it.",
		}
	case containsAny(msg, "process", "kill", "running"):
		return Acknowledgment{
			Reply:       "I'll look at your running processes.",
			Explanation: "You want to inspect or control a running process. I'll list the active processes, identify the one you mean, and take the requested action such as viewing details or terminating it.",
		}
	case containsAny(msg, "network", "internet", "dns", "connect"):
		return Acknowledgment{
			Reply:       "I'll diagnose your network connection.",
			Explanation: "You want to check your network status. I'll test connectivity or inspect your network configuration depending on what you need, and report whether the connection is healthy.",
		}
	default:
		return Acknowledgment{
			Reply:       "I'll help you with that.",
			Explanation: fmt.Sprintf("You asked: %q. I'll analyze your request, determine the best tools to use, and execute the necessary steps to get you the result you need.", message),
		}
	}
}

// templateSummary is the deterministic summary used when no model is
// reachable or the call fails.
func templateSummary(successes, failures, total int) string {
	switch {
	case total == 0:
		return "No steps were executed."
	case failures == 0 && total == 1:
		return "Successfully completed the requested task."
	case failures == 0:
		return fmt.Sprintf("All %d steps were executed successfully.", successes)
	default:
		return fmt.Sprintf("The task was partially completed (%d/%d steps successful). %d steps failed to execute.", successes, total, failures)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
