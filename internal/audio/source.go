package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/njh/silentjack/internal/types"
)

// ErrAlreadyStarted is returned when Start is called twice on a source.
var ErrAlreadyStarted = errors.New("audio source already started")

// Sink receives audio blocks from a source. Both methods are called from the
// source's audio context and must not block.
type Sink interface {
	Observe(block []float32)
	ObserveS16LE(buf []byte)
}

// Source delivers live mono audio to a Sink.
type Source interface {
	// Start begins delivering audio to sink. It returns once the source is
	// running; delivery continues in the background.
	Start(ctx context.Context, sink Sink) error

	// Connected reports whether audio is currently arriving.
	Connected() bool

	// Done is closed when the source has gone away for good.
	Done() <-chan struct{}

	// Device names the input in use, if known.
	Device() string

	Close() error
}

// activity tracks when audio last arrived and signals a source's end.
type activity struct {
	last     atomic.Int64 // unix nanos of the last block
	done     chan struct{}
	doneOnce sync.Once
	now      func() time.Time
}

func newActivity() *activity {
	return &activity{done: make(chan struct{}), now: time.Now}
}

func (a *activity) touch() {
	a.last.Store(a.now().UnixNano())
}

// recent reports whether a block arrived within window.
func (a *activity) recent(window time.Duration) bool {
	last := a.last.Load()
	if last == 0 {
		return false
	}
	return a.now().Sub(time.Unix(0, last)) < window
}

// idle returns how long it has been since the last block, or since start if
// nothing has arrived yet.
func (a *activity) idle(start time.Time) time.Duration {
	last := a.last.Load()
	if last == 0 {
		return a.now().Sub(start)
	}
	return a.now().Sub(time.Unix(0, last))
}

func (a *activity) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// connected is the default connectivity check shared by sources.
func (a *activity) connected() bool {
	return a.recent(types.ConnectedWindow)
}
