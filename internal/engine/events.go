package engine

import (
	"time"

	"github.com/njh/silentjack/internal/detector"
)

// EventType identifies an engine event.
type EventType string

const (
	EventStarted      EventType = "started"
	EventStopped      EventType = "stopped"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventFire         EventType = "fire"
	EventSourceLost   EventType = "source_lost"
)

// Event is a lifecycle change or a detector fire.
type Event struct {
	ID      string        `json:"id"`
	Time    time.Time     `json:"ts"`
	Type    EventType     `json:"event"`
	Name    string        `json:"name,omitempty"`
	Device  string        `json:"device,omitempty"`
	Kind    detector.Kind `json:"kind,omitempty"`
	LevelDB float64       `json:"level_db"`
	Message string        `json:"msg,omitempty"`
}

// TickReport describes one evaluated tick.
type TickReport struct {
	Time       time.Time       `json:"ts"`
	LevelDB    float64         `json:"level_db"`
	PreviousDB float64         `json:"previous_db"`
	State      detector.State  `json:"counters"`
	Fired      []detector.Kind `json:"fired,omitempty"`
}

// Observer receives engine output. Both methods are called from the control
// loop and must return quickly.
type Observer interface {
	OnTick(report TickReport)
	OnEvent(ev Event)
}
