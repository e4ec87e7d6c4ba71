package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njh/silentjack/internal/config"
	"github.com/njh/silentjack/internal/eventlog"
	"github.com/njh/silentjack/internal/notify"
)

const (
	// DefaultEventLimit is the page size for events/list without a limit.
	DefaultEventLimit = 50
	// notifyTestTimeout bounds a notification test.
	notifyTestTimeout = 30 * time.Second
)

// ErrEventLogDisabled is returned by events/list when no event log is configured.
var ErrEventLogDisabled = errors.New("event log not configured")

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventsPage is the events/list result.
type EventsPage struct {
	Events []eventlog.Event `json:"events"`
	More   bool             `json:"more"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg    *config.Config
	status func() any
}

// NewCommandHandler creates a command handler. status builds the payload
// for status/get.
func NewCommandHandler(cfg *config.Config, status func() any) *CommandHandler {
	return &CommandHandler{cfg: cfg, status: status}
}

// Handle processes one command. Commands are namespace/action pairs such as
// "events/list".
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any) {
	switch cmd.Type {
	case "status/get":
		SendData(send, h.status())
	case "events/list":
		HandleCommand(cmd, send, func(req *EventsRequest) (any, error) {
			return ReadEvents(h.cfg.Snapshot().EventLogPath, req)
		})
	case "notifications/test":
		var req NotificationTestRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		HandleActionAsync(cmd, send, func() (any, error) {
			return nil, h.runTest(req.Channel)
		})
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd.Type, fmt.Errorf("unknown command: %s", cmd.Type))
	}
}

// ReadEvents returns one page of the event log for req.
func ReadEvents(path string, req *EventsRequest) (*EventsPage, error) {
	if path == "" {
		return nil, ErrEventLogDisabled
	}
	limit := req.Limit
	if limit == 0 {
		limit = DefaultEventLimit
	}

	events, more, err := eventlog.ReadLast(path, limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return &EventsPage{Events: events, More: more}, nil
}

// runTest sends a test notification on one channel.
func (h *CommandHandler) runTest(channel string) error {
	cfg := h.cfg.Snapshot()

	var err error
	switch channel {
	case "webhook":
		err = notify.SendTestWebhook(cfg.WebhookURL, cfg.Name)
	case "log":
		err = notify.WriteTestLog(cfg.LogPath)
	case "email":
		err = notify.SendTestEmail(&cfg.Graph, cfg.Name)
	case "zabbix":
		err = notify.SendTestZabbix(&cfg.Zabbix)
	case "archive":
		ctx, cancel := context.WithTimeout(context.Background(), notifyTestTimeout)
		defer cancel()
		err = notify.SendTestArchive(ctx, &cfg.S3)
	default:
		return fmt.Errorf("unknown test type: %s", channel)
	}

	if err != nil {
		slog.Error("notification test failed", "channel", channel, "error", err)
		return err
	}
	slog.Info("notification test succeeded", "channel", channel)
	return nil
}
