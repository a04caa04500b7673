package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/missbott/backend/internal/metrics"
	"github.com/missbott/backend/internal/middleware/validation"
	"github.com/missbott/backend/pkg/logger"
)

// WebSocketHandler streams audit progress to the staff dashboard, one message
// per probe, then the stored report.
type WebSocketHandler struct {
	auditor AuditRunner
	store   AuditStore
}

func NewWebSocketHandler(auditor AuditRunner, store AuditStore) *WebSocketHandler {
	return &WebSocketHandler{
		auditor: auditor,
		store:   store,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Audit WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("Audit WebSocket connection closed")
	}()

	pageURL := c.Query("url")
	if !validation.IsValidURL(pageURL) {
		h.sendError(c, "A valid http(s) url query parameter is required")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a closed socket cancels the audit
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	if err := h.streamAudit(ctx, c, pageURL); err != nil {
		logger.Error("Failed to stream audit", zap.String("url", pageURL), zap.Error(err))
		h.sendError(c, err.Error())
	}
}

func (h *WebSocketHandler) streamAudit(ctx context.Context, c *websocket.Conn, pageURL string) error {
	var mu sync.Mutex
	send := func(msg map[string]interface{}) {
		mu.Lock()
		defer mu.Unlock()
		if err := c.WriteJSON(msg); err != nil {
			logger.Debug("WebSocket write failed", zap.Error(err))
		}
	}

	send(map[string]interface{}{
		"type":    "status",
		"content": "Starting audit of " + pageURL,
	})

	result, err := h.auditor.RunWithProgress(ctx, pageURL, func(step string, payload any) {
		send(map[string]interface{}{
			"type": step,
			"data": payload,
		})
	})
	if err != nil {
		metrics.AuditsTotal.WithLabelValues("websocket", "error").Inc()
		return err
	}

	record, err := h.store.SaveAuditResult(ctx, pageURL, "", result, nil)
	if err != nil {
		metrics.AuditsTotal.WithLabelValues("websocket", "error").Inc()
		return err
	}

	metrics.AuditsTotal.WithLabelValues("websocket", "ok").Inc()
	send(map[string]interface{}{
		"type":     "complete",
		"audit_id": record.ID,
		"data":     result,
	})
	return nil
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	if err := c.WriteJSON(msg); err != nil {
		logger.Debug("WebSocket error write failed", zap.Error(err))
	}
}
