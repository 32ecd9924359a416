package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// testTimeout bounds notification and connection tests started from the console.
const testTimeout = 2 * time.Minute

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Controller is the part of the application the console can drive.
type Controller interface {
	StartMonitor() error
	StopMonitor()
	TestNotification(ctx context.Context, channel string) error
	TestConnection(ctx context.Context) error
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	ctl Controller
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(ctl Controller) *CommandHandler {
	return &CommandHandler{ctl: ctl}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g. "monitor/start").
// triggerStatusUpdate asks the event loop to push a fresh status.
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch cmd.Type {
	case "monitor/start":
		if err := h.ctl.StartMonitor(); err != nil {
			SendError(send, cmd, err)
		} else {
			SendSuccess(send, cmd, nil)
		}
	case "monitor/stop":
		h.ctl.StopMonitor()
		SendSuccess(send, cmd, nil)
	case "notifications/test":
		var req NotificationTestRequest
		if !decodeCommand(cmd, send, &req) {
			return
		}
		h.async(cmd, send, func(ctx context.Context) error {
			return h.ctl.TestNotification(ctx, req.Channel)
		})
	case "connection/test":
		h.async(cmd, send, h.ctl.TestConnection)
	case "status/get":
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd, fmt.Errorf("unknown command %q", cmd.Type))
		return
	}

	triggerStatusUpdate()
}

// async runs a slow action off the reader goroutine with panic recovery.
func (h *CommandHandler) async(cmd WSCommand, send chan<- any, action func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				SendError(send, cmd, fmt.Errorf("internal error"))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		if err := action(ctx); err != nil {
			slog.Warn("command failed", "command", cmd.Type, "error", err)
			SendError(send, cmd, err)
			return
		}
		SendSuccess(send, cmd, nil)
	}()
}
