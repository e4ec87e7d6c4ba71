package server

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/njh/silentjack/internal/config"
	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/engine"
	"github.com/njh/silentjack/internal/eventlog"
	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/update"
)

func recv(t *testing.T, ch <-chan any) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		m, ok := msg.(map[string]any)
		if !ok {
			t.Fatalf("message is %T, want map", msg)
		}
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func writeEventLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := eventlog.NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range []engine.Event{
		{Type: engine.EventStarted},
		{Type: engine.EventConnected},
		{Type: engine.EventFire, Kind: detector.KindSilence, ID: "a"},
		{Type: engine.EventFire, Kind: detector.KindNoDynamic, ID: "b"},
		{Type: engine.EventFire, Kind: detector.KindSilence, ID: "c"},
	} {
		ev.Time = base.Add(time.Duration(i) * time.Second)
		l.OnEvent(ev)
	}
	return path
}

func TestCommandEventsList(t *testing.T) {
	cfg := config.New("")
	cfg.EventLog.Path = writeEventLog(t)
	h := NewCommandHandler(cfg, func() any { return nil })

	send := make(chan any, 4)
	h.Handle(WSCommand{Type: "events/list", Data: json.RawMessage(`{"limit":2,"filter":"fire"}`)}, send)

	res := recv(t, send)
	if res["type"] != "events/list_result" || res["success"] != true {
		t.Fatalf("response = %v", res)
	}
	page, ok := res["data"].(*EventsPage)
	if !ok {
		t.Fatalf("data is %T", res["data"])
	}
	if len(page.Events) != 2 || page.Events[0].ID != "c" || page.Events[1].ID != "b" || !page.More {
		t.Errorf("page = %+v", page)
	}
}

func TestCommandValidation(t *testing.T) {
	h := NewCommandHandler(config.New(""), func() any { return nil })

	tests := []struct {
		name      string
		cmd       WSCommand
		wantField string
	}{
		{"limit too large", WSCommand{Type: "events/list", Data: json.RawMessage(`{"limit":1000}`)}, "limit"},
		{"negative offset", WSCommand{Type: "events/list", Data: json.RawMessage(`{"offset":-1}`)}, "offset"},
		{"bad filter", WSCommand{Type: "events/list", Data: json.RawMessage(`{"filter":"ticks"}`)}, "filter"},
		{"unknown channel", WSCommand{Type: "notifications/test", Data: json.RawMessage(`{"channel":"pager"}`)}, "channel"},
		{"missing channel", WSCommand{Type: "notifications/test"}, "channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send := make(chan any, 1)
			h.Handle(tt.cmd, send)

			res := recv(t, send)
			if res["success"] != false {
				t.Fatalf("response = %v, want failure", res)
			}
			verr, ok := res["error"].(*types.ValidationError)
			if !ok {
				t.Fatalf("error is %T, want *types.ValidationError", res["error"])
			}
			if len(verr.Errors) != 1 || verr.Errors[0].Field != tt.wantField {
				t.Errorf("errors = %+v, want one on %q", verr.Errors, tt.wantField)
			}
		})
	}
}

func TestCommandEventsWithoutLog(t *testing.T) {
	h := NewCommandHandler(config.New(""), func() any { return nil })

	send := make(chan any, 1)
	h.Handle(WSCommand{Type: "events/list"}, send)

	res := recv(t, send)
	if res["success"] != false || res["error"] != ErrEventLogDisabled.Error() {
		t.Errorf("response = %v", res)
	}
}

func TestCommandNotificationTest(t *testing.T) {
	cfg := config.New("")
	cfg.Notifications.Log.Path = filepath.Join(t.TempDir(), "alerts.jsonl")
	h := NewCommandHandler(cfg, func() any { return nil })

	send := make(chan any, 1)
	h.Handle(WSCommand{Type: "notifications/test", Data: json.RawMessage(`{"channel":"log"}`)}, send)

	res := recv(t, send)
	if res["success"] != true {
		t.Fatalf("response = %v", res)
	}
	if _, err := os.Stat(cfg.Notifications.Log.Path); err != nil {
		t.Errorf("test log entry not written: %v", err)
	}
}

func TestCommandStatusAndUnknown(t *testing.T) {
	status := map[string]any{"type": "status"}
	h := NewCommandHandler(config.New(""), func() any { return status })

	send := make(chan any, 2)
	h.Handle(WSCommand{Type: "status/get"}, send)
	h.Handle(WSCommand{Type: "outputs/add"}, send)

	if res := recv(t, send); res["type"] != "status" {
		t.Errorf("status/get sent %v", res)
	}
	if res := recv(t, send); res["success"] != false {
		t.Errorf("unknown command sent %v", res)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	fast := make(chan any, 4)
	slow := make(chan any) // never read: must not block the hub
	hub.Subscribe(fast)
	hub.Subscribe(slow)

	if got := hub.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	hub.OnTick(engine.TickReport{LevelDB: -12})
	hub.OnEvent(engine.Event{Type: engine.EventFire, Kind: detector.KindSilence})

	tick, ok := (<-fast).(TickMessage)
	if !ok || tick.Type != "tick" || tick.LevelDB != -12 {
		t.Errorf("first message = %+v", tick)
	}
	ev, ok := (<-fast).(EventMessage)
	if !ok || ev.Type != "event" || ev.Event.Kind != detector.KindSilence {
		t.Errorf("second message = %+v", ev)
	}

	hub.OnUpdate(update.Release{Current: "1.0.0", Latest: "1.1.0", Available: true})
	up, ok := (<-fast).(UpdateMessage)
	if !ok || up.Type != "update" || up.Release.Latest != "1.1.0" {
		t.Errorf("third message = %+v", up)
	}

	hub.Unsubscribe(fast)
	hub.OnTick(engine.TickReport{})
	select {
	case msg := <-fast:
		t.Errorf("unsubscribed client got %v", msg)
	default:
	}
}

func TestTickMessageJSON(t *testing.T) {
	data, err := json.Marshal(TickMessage{Type: "tick", TickReport: engine.TickReport{
		LevelDB: -1000,
		State:   detector.State{SilenceCount: 2},
		Fired:   []detector.Kind{detector.KindSilence},
	}})
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "tick" || got["level_db"] != float64(-1000) {
		t.Errorf("tick JSON = %s", data)
	}
	if counters, _ := got["counters"].(map[string]any); counters["silence_count"] != float64(2) {
		t.Errorf("counters = %v", got["counters"])
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "monitor.example.com", true},
		{"http://localhost:3000", "monitor.example.com", true},
		{"http://127.0.0.1", "monitor.example.com", true},
		{"http://192.168.1.20:8080", "monitor.example.com", true},
		{"https://monitor.example.com", "monitor.example.com:8080", true},
		{"https://evil.example.net", "monitor.example.com", false},
		{"://bad", "monitor.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
