package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"

	"github.com/njh/silentjack/internal/config"
	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/engine"
	"github.com/njh/silentjack/internal/eventlog"
	"github.com/njh/silentjack/internal/metrics"
	"github.com/njh/silentjack/internal/server"
	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/update"
)

type fakeEngine struct {
	snap engine.Snapshot
}

func (f *fakeEngine) Status() engine.Snapshot { return f.snap }

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *server.Hub, *metrics.Metrics) {
	t.Helper()
	hub := server.NewHub()
	m := metrics.New("studio")
	eng := &fakeEngine{snap: engine.Snapshot{
		State:     types.StateRunning,
		Name:      "studio",
		Device:    "hw:1",
		Connected: true,
		LevelDB:   -52.5,
		Counters:  detector.State{SilenceCount: 3},
		StartTime: time.Now().Add(-time.Minute),
	}}
	s := NewServer(cfg, eng, hub, m, nil)
	s.devices = func(types.Backend) []types.AudioDevice {
		return []types.AudioDevice{{ID: "hw:1", Name: "USB Audio"}}
	}
	return s, hub, m
}

func TestParseCLI(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, c *CLI)
	}{
		{
			name: "classic flags and command",
			args: []string{"-c", "system:capture_1", "-c", "system:capture_2", "-n", "studio",
				"-l", "-50", "-p", "5", "-d", "0.5", "-P", "30", "-g", "60", "-r", "logger", "-t", "silence"},
			check: func(t *testing.T, c *CLI) {
				if len(c.Connect) != 2 || c.Connect[1] != "system:capture_2" {
					t.Errorf("Connect = %v", c.Connect)
				}
				if c.Name == nil || *c.Name != "studio" {
					t.Errorf("Name = %v", c.Name)
				}
				if c.Level == nil || *c.Level != -50 || c.Period == nil || *c.Period != 5 {
					t.Errorf("Level/Period = %v/%v", c.Level, c.Period)
				}
				if c.DynamicPeriod == nil || *c.DynamicPeriod != 30 || c.Grace == nil || *c.Grace != 60 {
					t.Errorf("DynamicPeriod/Grace = %v/%v", c.DynamicPeriod, c.Grace)
				}
				if !c.Reverse {
					t.Error("Reverse = false")
				}
				if want := []string{"logger", "-t", "silence"}; strings.Join(c.Command, " ") != strings.Join(want, " ") {
					t.Errorf("Command = %v, want %v", c.Command, want)
				}
			},
		},
		{
			name: "negative levels in every form",
			args: []string{"--level", "-45.5", "-l-50", "--level=-60", "-P", "2", "exit"},
			check: func(t *testing.T, c *CLI) {
				if c.Level == nil || *c.Level != -60 {
					t.Errorf("Level = %v, want -60 (last one wins)", c.Level)
				}
				if c.DynamicPeriod == nil || *c.DynamicPeriod != 2 {
					t.Errorf("DynamicPeriod = %v", c.DynamicPeriod)
				}
			},
		},
		{
			name: "negative level before command",
			args: []string{"-l", "-35", "logger", "-t", "silence"},
			check: func(t *testing.T, c *CLI) {
				if c.Level == nil || *c.Level != -35 {
					t.Errorf("Level = %v, want -35", c.Level)
				}
				if strings.Join(c.Command, " ") != "logger -t silence" {
					t.Errorf("Command = %v", c.Command)
				}
			},
		},
		{
			name: "unset flags stay nil",
			args: []string{"exit"},
			check: func(t *testing.T, c *CLI) {
				if c.Name != nil || c.Level != nil || c.Grace != nil || c.Listen != nil {
					t.Errorf("unset flags were set: %+v", c)
				}
				if len(c.Command) != 1 || c.Command[0] != "exit" {
					t.Errorf("Command = %v", c.Command)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c CLI
			opts := append(parserOptions(), kong.Exit(func(int) { t.Fatal("parser exited") }))
			parser, err := kong.New(&c, opts...)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := parser.Parse(tt.args); err != nil {
				t.Fatalf("Parse(%v) error = %v", tt.args, err)
			}
			tt.check(t, &c)
		})
	}
}

func TestOverridesApply(t *testing.T) {
	level := -55.0
	grace := 10
	c := CLI{Level: &level, Grace: &grace, Quiet: true, Command: []string{"exit"}}

	cfg := config.New("")
	if err := cfg.Apply(c.overrides()); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	snap := cfg.Snapshot()
	d := snap.DetectorConfig()
	if d.SilenceThresholdDB != -55 || d.Grace != 10 || d.SilencePeriod != config.DefaultSilencePeriod {
		t.Errorf("DetectorConfig() = %+v", d)
	}
	if !snap.Quiet || len(snap.Command) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, config.New(""))
	rec := httptest.NewRecorder()
	s.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}

	var resp struct {
		Type     string                 `json:"type"`
		Engine   types.EngineStatus     `json:"engine"`
		Detector types.DetectorSettings `json:"detector"`
		Counters detector.State         `json:"counters"`
		LevelDB  float64                `json:"level_db"`
		Devices  []types.AudioDevice    `json:"devices"`
		Version  types.VersionInfo      `json:"version"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "status" || resp.Engine.State != types.StateRunning || !resp.Engine.Connected {
		t.Errorf("engine = %+v", resp.Engine)
	}
	if resp.Engine.Uptime == "" || resp.Engine.Backend != config.DefaultBackend {
		t.Errorf("engine uptime/backend = %q/%q", resp.Engine.Uptime, resp.Engine.Backend)
	}
	if resp.Detector.SilenceThresholdDB != config.DefaultSilenceThresholdDB {
		t.Errorf("detector = %+v", resp.Detector)
	}
	if resp.Counters.SilenceCount != 3 || resp.LevelDB != -52.5 {
		t.Errorf("counters/level = %+v/%v", resp.Counters, resp.LevelDB)
	}
	if len(resp.Devices) != 1 || resp.Version.Current != "dev" {
		t.Errorf("devices/version = %+v/%+v", resp.Devices, resp.Version)
	}
}

func TestEventsEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	logger.OnEvent(engine.Event{Type: engine.EventStarted, Time: time.Now()})
	logger.OnEvent(engine.Event{Type: engine.EventFire, Kind: detector.KindSilence, ID: "f1", Time: time.Now()})
	_ = logger.Close()

	cfg := config.New("")
	cfg.EventLog.Path = path
	s, _, _ := newTestServer(t, cfg)
	handler := s.SetupRoutes()

	tests := []struct {
		query    string
		wantCode int
		wantIDs  []string
	}{
		{"", http.StatusOK, []string{"f1", ""}},
		{"?filter=fire", http.StatusOK, []string{"f1"}},
		{"?limit=1&offset=1", http.StatusOK, []string{""}},
		{"?limit=abc", http.StatusBadRequest, nil},
		{"?limit=9999", http.StatusBadRequest, nil},
		{"?filter=bogus", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events"+tt.query, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var page server.EventsPage
			if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
				t.Fatal(err)
			}
			ids := make([]string, 0, len(page.Events))
			for _, ev := range page.Events {
				ids = append(ids, ev.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %q, want %q", ids, tt.wantIDs)
			}
		})
	}
}

func TestEventsEndpointWithoutLog(t *testing.T) {
	s, _, _ := newTestServer(t, config.New(""))
	rec := httptest.NewRecorder()
	s.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, m := newTestServer(t, config.New(""))
	m.OnTick(engine.TickReport{LevelDB: -20})

	rec := httptest.NewRecorder()
	s.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `silentjack_level_dbfs{name="studio"} -20`) {
		t.Errorf("metrics = %d %s", rec.Code, rec.Body)
	}
}

func TestWebSocketStream(t *testing.T) {
	s, hub, _ := newTestServer(t, config.New(""))
	ts := httptest.NewServer(s.SetupRoutes())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first["type"] != "status" {
		t.Fatalf("first message = %v, want status", first)
	}

	// The handler subscribes before sending the first status.
	hub.OnEvent(engine.Event{Type: engine.EventFire, Kind: detector.KindNoDynamic})
	var ev server.EventMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "event" || ev.Event.Kind != detector.KindNoDynamic {
		t.Errorf("event message = %+v", ev)
	}

	if err := conn.WriteJSON(server.WSCommand{Type: "status/get"}); err != nil {
		t.Fatal(err)
	}
	var status map[string]any
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status["type"] != "status" {
		t.Errorf("status/get reply = %v", status)
	}
}

func TestStatusReportsRelease(t *testing.T) {
	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v1.5.0"}`))
	}))
	defer gh.Close()

	updates := update.New(update.Options{
		Repo:     "njh/silentjack",
		Current:  "1.4.2",
		Interval: time.Hour,
		BaseURL:  gh.URL,
	})
	if err := updates.Check(t.Context()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	s, _, _ := newTestServer(t, config.New(""))
	s.updates = updates
	rec := httptest.NewRecorder()
	s.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp struct {
		Version types.VersionInfo `json:"version"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	// The running binary is a dev build, so the update flag follows the
	// checker, which was told it runs 1.4.2.
	if resp.Version.Current != "dev" || resp.Version.Latest != "1.5.0" || !resp.Version.UpdateAvail {
		t.Errorf("version = %+v", resp.Version)
	}
}
