package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// readBufferSize holds roughly 100ms of mono S16LE audio at 48kHz.
const readBufferSize = 9600

// CaptureSource runs an external capture process (arecord or FFmpeg) and
// reads mono S16LE PCM from its stdout. The process is restarted with
// exponential backoff; after MaxRetries consecutive short runs the source
// gives up and closes Done.
type CaptureSource struct {
	devices    []string
	ffmpegPath string

	// buildCommand resolves a device to a capture command line.
	buildCommand func(device, ffmpegPath string) (string, []string, error)
	backoff      *util.Backoff
	maxRetries   int

	act *activity

	mu         sync.RWMutex
	started    bool
	cancel     context.CancelFunc
	device     string
	lastError  string
	retryCount int
	wg         sync.WaitGroup
}

// NewCaptureSource returns a capture source that tries devices in order on
// each (re)start. An empty list uses the platform default input.
func NewCaptureSource(devices []string, ffmpegPath string) *CaptureSource {
	if len(devices) == 0 {
		devices = []string{""}
	}
	return &CaptureSource{
		devices:      devices,
		ffmpegPath:   ffmpegPath,
		buildCommand: BuildCaptureCommand,
		backoff:      util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
		maxRetries:   types.MaxRetries,
		act:          newActivity(),
	}
}

// Start launches the capture loop.
func (s *CaptureSource) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Go(func() {
		s.runLoop(ctx, sink)
	})
	return nil
}

// Connected reports whether PCM arrived within the connected window.
func (s *CaptureSource) Connected() bool {
	return s.act.connected()
}

// Done is closed when the source gives up or is closed.
func (s *CaptureSource) Done() <-chan struct{} {
	return s.act.done
}

// Device returns the device of the current or most recent capture run.
func (s *CaptureSource) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// LastError returns the last capture error, if any.
func (s *CaptureSource) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// RetryCount returns the number of consecutive failed capture runs.
func (s *CaptureSource) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

// Close stops the capture process and waits for the loop to exit.
func (s *CaptureSource) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.act.finish()
	return nil
}

func (s *CaptureSource) runLoop(ctx context.Context, sink Sink) {
	defer s.act.finish()

	for attempt := 0; ; attempt++ {
		device := s.devices[attempt%len(s.devices)]

		startTime := time.Now()
		stderrOutput, err := s.runCapture(ctx, device, sink)
		runDuration := time.Since(startTime)

		if ctx.Err() != nil {
			return
		}

		errMsg := "capture process exited"
		if err != nil {
			errMsg = err.Error()
		}
		if stderrOutput != "" {
			errMsg = stderrOutput
		}

		s.mu.Lock()
		s.lastError = errMsg
		if runDuration >= types.SuccessThreshold {
			s.retryCount = 0
			s.backoff.Reset()
		} else {
			s.retryCount++
		}
		retries := s.retryCount
		s.mu.Unlock()

		slog.Error("audio capture error", "device", device, "error", errMsg)

		if retries >= s.maxRetries {
			slog.Error("audio capture failed, giving up", "attempts", retries)
			s.mu.Lock()
			s.lastError = fmt.Sprintf("stopped after %d failed attempts: %s", retries, errMsg)
			s.mu.Unlock()
			return
		}

		retryDelay := s.backoff.Next()
		slog.Info("audio capture stopped, waiting before restart",
			"delay", retryDelay, "attempt", retries+1, "max_retries", s.maxRetries)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// runCapture executes one capture process and pumps its stdout into sink
// until the process exits or ctx is cancelled.
func (s *CaptureSource) runCapture(ctx context.Context, device string, sink Sink) (string, error) {
	cmdName, args, err := s.buildCommand(device, s.ffmpegPath)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.device = device
	s.mu.Unlock()

	slog.Info("starting audio capture", "command", cmdName, "device", device)

	cmd := exec.CommandContext(ctx, cmdName, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return "", err
	}

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			sink.ObserveS16LE(buf[:n])
			s.act.touch()
		}
		if readErr != nil {
			if readErr != io.EOF {
				slog.Debug("audio capture read ended", "error", readErr)
			}
			break
		}
	}

	err = cmd.Wait()
	return util.ExtractLastError(stderrBuf.String()), err
}
