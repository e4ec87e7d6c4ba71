// Package eventlog records detector and input events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/engine"
)

// EventType represents the type of event.
type EventType string

// Lifecycle event types.
const (
	DetectorStarted EventType = "detector_started"
	DetectorStopped EventType = "detector_stopped"
)

// Input event types.
const (
	InputConnected    EventType = "input_connected"
	InputDisconnected EventType = "input_disconnected"
	InputLost         EventType = "input_lost"
)

// Fire is logged for every detector fire.
const Fire EventType = "fire"

// Event represents a single log entry.
type Event struct {
	Timestamp time.Time     `json:"ts"`
	Type      EventType     `json:"type"`
	ID        string        `json:"id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Device    string        `json:"device,omitempty"`
	Kind      detector.Kind `json:"kind,omitempty"`
	LevelDB   *float64      `json:"level_db,omitempty"`
	Message   string        `json:"msg,omitempty"`
}

var engineTypes = map[engine.EventType]EventType{
	engine.EventStarted:      DetectorStarted,
	engine.EventStopped:      DetectorStopped,
	engine.EventConnected:    InputConnected,
	engine.EventDisconnected: InputDisconnected,
	engine.EventSourceLost:   InputLost,
	engine.EventFire:         Fire,
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// OnEvent records an engine event.
func (l *Logger) OnEvent(ev engine.Event) {
	t, ok := engineTypes[ev.Type]
	if !ok {
		return
	}

	event := &Event{
		Timestamp: ev.Time,
		Type:      t,
		ID:        ev.ID,
		Name:      ev.Name,
		Device:    ev.Device,
		Kind:      ev.Kind,
		Message:   ev.Message,
	}
	if t == Fire {
		level := ev.LevelDB
		event.LevelDB = &level
	}

	if err := l.Log(event); err != nil {
		slog.Warn("failed to write event log", "path", l.filePath, "error", err)
	}
}

// OnTick is a no-op; ticks are not logged.
func (l *Logger) OnTick(engine.TickReport) {}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterFire      TypeFilter = "fire"
	FilterInput     TypeFilter = "input"
	FilterLifecycle TypeFilter = "lifecycle"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest
// first. The bool reports whether older matching events remain.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	matched := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}

		matched++
		if matched <= offset {
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterAll:
		return true
	case FilterFire:
		return t == Fire
	case FilterInput:
		return IsInputEvent(t)
	case FilterLifecycle:
		return t == DetectorStarted || t == DetectorStopped
	default:
		return false
	}
}

// IsInputEvent returns true if the event type concerns the audio input.
func IsInputEvent(t EventType) bool {
	return t == InputConnected || t == InputDisconnected || t == InputLost
}
