package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/types"
)

func ptr[T any](v T) *T { return &v }

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c := New("")
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	snap := c.Snapshot()
	want := detector.Config{
		SilenceThresholdDB: -40,
		SilencePeriod:      1,
		NoDynamicPeriod:    10,
	}
	if got := snap.DetectorConfig(); got != want {
		t.Errorf("DetectorConfig() = %+v, want %+v", got, want)
	}
	if snap.Name != DefaultName || snap.Backend != types.BackendPortAudio {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if snap.HasWebhook() || snap.HasGraph() || snap.HasLogPath() || snap.HasZabbix() || snap.HasS3() {
		t.Error("notification channels enabled by default")
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"json", "silentjack.json", `{
  "name": "studio-a",
  "audio": {"backend": "capture", "connect": ["hw:1"]},
  "detection": {"silence_threshold_db": -50, "silence_period": 5, "no_dynamic_threshold_db": 0.5, "no_dynamic_period": 30, "grace": 60},
  "trigger": {"command": ["/usr/local/bin/failover", "--now"]},
  "notifications": {"webhook": {"url": "https://example.com/hook"}}
}`},
		{"yaml", "silentjack.yaml", `name: studio-a
audio:
  backend: capture
  connect: [hw:1]
detection:
  silence_threshold_db: -50
  silence_period: 5
  no_dynamic_threshold_db: 0.5
  no_dynamic_period: 30
  grace: 60
trigger:
  command: [/usr/local/bin/failover, --now]
notifications:
  webhook:
    url: https://example.com/hook
`},
		{"toml", "silentjack.toml", `name = "studio-a"

[audio]
backend = "capture"
connect = ["hw:1"]

[detection]
silence_threshold_db = -50.0
silence_period = 5
no_dynamic_threshold_db = 0.5
no_dynamic_period = 30.0
grace = 60

[trigger]
command = ["/usr/local/bin/failover", "--now"]

[notifications.webhook]
url = "https://example.com/hook"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(writeFile(t, tt.file, tt.body))
			if err := c.Load(); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			snap := c.Snapshot()

			want := detector.Config{
				SilenceThresholdDB:   -50,
				SilencePeriod:        5,
				NoDynamicThresholdDB: 0.5,
				NoDynamicPeriod:      30,
				Grace:                60,
			}
			if got := snap.DetectorConfig(); got != want {
				t.Errorf("DetectorConfig() = %+v, want %+v", got, want)
			}
			if snap.Name != "studio-a" || snap.Backend != types.BackendCapture {
				t.Errorf("name/backend = %q/%q", snap.Name, snap.Backend)
			}
			if !slices.Equal(snap.Connect, []string{"hw:1"}) {
				t.Errorf("Connect = %v", snap.Connect)
			}
			if !slices.Equal(snap.Command, []string{"/usr/local/bin/failover", "--now"}) {
				t.Errorf("Command = %v", snap.Command)
			}
			if !snap.HasWebhook() {
				t.Error("HasWebhook() = false")
			}
		})
	}
}

func TestLoadCreatesMissingFile(t *testing.T) {
	for _, name := range []string{"new.json", "new.yml", "new.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "conf", name)
			if err := New(path).Load(); err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			// The written file loads back to the same defaults.
			c := New(path)
			if err := c.Load(); err != nil {
				t.Fatalf("reload error = %v", err)
			}
			snap := c.Snapshot()
			if got := snap.DetectorConfig(); got.SilenceThresholdDB != DefaultSilenceThresholdDB || got.NoDynamicPeriod != DefaultNoDynamicPeriod {
				t.Errorf("reloaded DetectorConfig() = %+v", got)
			}
		})
	}
}

func TestLoadParseError(t *testing.T) {
	c := New(writeFile(t, "broken.json", `{"name": `))
	if err := c.Load(); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("Load() error = %v, want parse error", err)
	}
}

func TestApplyOverrides(t *testing.T) {
	c := New(writeFile(t, "c.json", `{"name": "file", "detection": {"silence_threshold_db": -50, "silence_period": 5, "grace": 3}}`))
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	err := c.Apply(&Overrides{
		Name:          ptr("cli"),
		Connect:       []string{"system:capture_1", "system:capture_2"},
		SilencePeriod: ptr(10),
		Reverse:       true,
		Command:       []string{"exit"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	snap := c.Snapshot()
	if snap.Name != "cli" {
		t.Errorf("Name = %q, want cli", snap.Name)
	}
	got := snap.DetectorConfig()
	want := detector.Config{SilenceThresholdDB: -50, SilencePeriod: 10, NoDynamicPeriod: 10, Grace: 3, Invert: true}
	if got != want {
		t.Errorf("DetectorConfig() = %+v, want %+v", got, want)
	}
	if !slices.Equal(snap.Connect, []string{"system:capture_1", "system:capture_2"}) {
		t.Errorf("Connect = %v", snap.Connect)
	}
	if !slices.Equal(snap.Command, []string{"exit"}) {
		t.Errorf("Command = %v", snap.Command)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides Overrides
		field     string
	}{
		{"negative silence period", Overrides{SilencePeriod: ptr(-1)}, "detection.silence_period"},
		{"negative grace", Overrides{Grace: ptr(-5)}, "detection.grace"},
		{"negative dynamic threshold", Overrides{NoDynamicThresholdDB: ptr(-1.0)}, "detection.no_dynamic_threshold_db"},
		{"fractional dynamic period", Overrides{NoDynamicPeriod: ptr(2.5)}, "detection.no_dynamic_period"},
		{"negative dynamic period", Overrides{NoDynamicPeriod: ptr(-3.0)}, "detection.no_dynamic_period"},
		{"verbose and quiet", Overrides{Verbose: true, Quiet: true}, "logging"},
		{"unknown backend", Overrides{Backend: ptr("jack")}, "audio.backend"},
		{"too many ports", Overrides{Connect: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"}}, "audio.connect"},
		{"bad listen address", Overrides{Listen: ptr("not an address")}, "server.listen"},
		{"control characters in name", Overrides{Name: ptr("bad\r\nname")}, "name"},
		{"event log climbs out", Overrides{EventLog: ptr("../../etc/events.jsonl")}, "event_log.path"},
		{"dynamic period beyond int32", Overrides{NoDynamicPeriod: ptr(3e9)}, "detection.no_dynamic_period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("")
			err := c.Apply(&tt.overrides)

			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Apply() error = %v, want ValidationError", err)
			}
			var fields []string
			for _, fe := range verr.Errors {
				fields = append(fields, fe.Field)
			}
			if !slices.Contains(fields, tt.field) {
				t.Errorf("error fields = %v, want %s", fields, tt.field)
			}
		})
	}
}

func TestValidationAcceptsEdgeValues(t *testing.T) {
	c := New("")
	err := c.Apply(&Overrides{
		SilenceThresholdDB:   ptr(0.0), // disables silence detection
		SilencePeriod:        ptr(0),
		NoDynamicThresholdDB: ptr(1.0),
		NoDynamicPeriod:      ptr(0.0),
		Grace:                ptr(0),
		Listen:               ptr("127.0.0.1:8080"),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	snap := c.Snapshot()
	if cfg := snap.DetectorConfig(); cfg.SilenceEnabled() || !cfg.NoDynamicEnabled() {
		t.Errorf("DetectorConfig() = %+v", cfg)
	}
}

func TestUpdateSettings(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantRepo     string
		wantInterval time.Duration
		wantField    string
	}{
		{"defaults", "name: studio\n", DefaultUpdateRepo, 24 * time.Hour, ""},
		{"custom", "server:\n  update_repo: acme/silentjack\n  update_interval: 6h\n", "acme/silentjack", 6 * time.Hour, ""},
		{"disabled", "server:\n  update_interval: \"0\"\n", DefaultUpdateRepo, 0, ""},
		{"unparsable interval", "server:\n  update_interval: daily\n", "", 0, "server.update_interval"},
		{"interval too short", "server:\n  update_interval: 10m\n", "", 0, "server.update_interval"},
		{"repo without owner", "server:\n  update_repo: silentjack\n", "", 0, "server.update_repo"},
		{"repo with extra path", "server:\n  update_repo: a/b/c\n", "", 0, "server.update_repo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(writeFile(t, "silentjack.yaml", tt.body))
			err := c.Load()

			if tt.wantField != "" {
				var verr *types.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Load() error = %v, want ValidationError", err)
				}
				if verr.Errors[0].Field != tt.wantField {
					t.Errorf("error field = %s, want %s", verr.Errors[0].Field, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			snap := c.Snapshot()
			if snap.UpdateRepo != tt.wantRepo || snap.UpdateInterval != tt.wantInterval {
				t.Errorf("update settings = %s every %s, want %s every %s",
					snap.UpdateRepo, snap.UpdateInterval, tt.wantRepo, tt.wantInterval)
			}
		})
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New("")
	if err := c.Apply(&Overrides{Connect: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	snap.Connect[0] = "changed"
	if got := c.Snapshot().Connect[0]; got != "a" {
		t.Errorf("Connect[0] = %q after mutating a snapshot", got)
	}
}
