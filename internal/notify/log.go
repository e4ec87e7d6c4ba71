package notify

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/njh/silentjack/internal/util"
)

// LogEntry is one line of the notification log file.
type LogEntry struct {
	Timestamp   string  `json:"timestamp"`
	EventID     string  `json:"event_id,omitempty"`
	Event       string  `json:"event"`
	Name        string  `json:"name,omitempty"`
	LevelDB     float64 `json:"level_db"`
	ThresholdDB float64 `json:"threshold_db"`
	PeriodSecs  int     `json:"period_secs,omitempty"`
}

// LogFire records a detector fire.
func LogFire(logPath string, a *Alert) error {
	return appendLogEntry(logPath, &LogEntry{
		Timestamp:   timestampUTC(),
		EventID:     a.ID,
		Event:       string(a.Kind),
		Name:        a.Name,
		LevelDB:     a.LevelDB,
		ThresholdDB: a.ThresholdDB,
		PeriodSecs:  a.PeriodSecs,
	})
}

// WriteTestLog writes a test log entry.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return fmt.Errorf("log file path not configured")
	}

	return appendLogEntry(logPath, &LogEntry{
		Timestamp: timestampUTC(),
		Event:     "test",
	})
}

// appendLogEntry appends a log entry to the file.
func appendLogEntry(logPath string, entry *LogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(append(jsonData, '\n')); err != nil {
		return util.WrapError("write log entry", err)
	}

	return nil
}
