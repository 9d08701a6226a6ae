// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/hostpilot/services/agent"
	"github.com/AleutianAI/hostpilot/services/agent/plan"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// event is the wire envelope for one streamed run event.
type event struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub fans run events out to connected WebSocket clients.
//
// # Description
//
// Hub implements the orchestrator's event sink on one side and manages
// client connections on the other. Slow or broken clients are dropped
// on the first failed write rather than backpressuring the run loop.
//
// # Thread Safety
//
// Safe for concurrent use. Writes to a single connection are serialized
// by the hub mutex.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *slog.Logger
}

var _ agent.EventSink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and holds the connection open until the
// client disconnects. The read loop exists only to detect closure;
// inbound messages are discarded.
func (h *Hub) ServeWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.clients[ws] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("event stream client connected", slog.Int("clients", count))

	defer func() {
		h.drop(ws)
		h.logger.Info("event stream client disconnected")
	}()
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, ws)
	h.mu.Unlock()
	ws.Close()
}

// broadcast writes the event to every client, dropping any that fail.
func (h *Hub) broadcast(e event) {
	h.mu.Lock()
	var failed []*websocket.Conn
	for ws := range h.clients {
		if err := ws.WriteJSON(e); err != nil {
			failed = append(failed, ws)
		}
	}
	for _, ws := range failed {
		delete(h.clients, ws)
		ws.Close()
	}
	h.mu.Unlock()

	if len(failed) > 0 {
		h.logger.Warn("dropped event stream clients", slog.Int("count", len(failed)))
	}
}

func (h *Hub) OnStateChange(requestID string, from, to agent.State) {
	h.broadcast(event{
		Type:      "state_change",
		RequestID: requestID,
		Payload:   map[string]string{"from": from.String(), "to": to.String()},
	})
}

func (h *Hub) OnPlan(requestID string, p *plan.Plan) {
	h.broadcast(event{Type: "plan", RequestID: requestID, Payload: p})
}

func (h *Hub) OnConfidence(requestID string, score float64) {
	h.broadcast(event{
		Type:      "confidence",
		RequestID: requestID,
		Payload:   map[string]float64{"score": score},
	})
}

func (h *Hub) OnStepResult(requestID string, r plan.StepResult) {
	h.broadcast(event{Type: "step_result", RequestID: requestID, Payload: r})
}

func (h *Hub) OnSummary(requestID string, summary string) {
	h.broadcast(event{
		Type:      "summary",
		RequestID: requestID,
		Payload:   map[string]string{"summary": summary},
	})
}
