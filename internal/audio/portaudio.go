package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// stallCheckInterval is how often the stall monitor looks at callback activity.
const stallCheckInterval = time.Second

// PortAudioSource delivers audio through a PortAudio input callback. The
// callback runs on PortAudio's real-time thread and only hands each block to
// the sink.
type PortAudioSource struct {
	devices []string
	act     *activity

	mu      sync.Mutex
	stream  *portaudio.Stream
	device  string
	started bool
	closed  bool
	wg      sync.WaitGroup
	stop    chan struct{}
}

// NewPortAudioSource returns a source that opens the first input device whose
// name matches one of devices, or the default input if none do.
func NewPortAudioSource(devices []string) *PortAudioSource {
	return &PortAudioSource{
		devices: devices,
		act:     newActivity(),
		stop:    make(chan struct{}),
	}
}

// Start initializes PortAudio and opens a mono input stream.
func (s *PortAudioSource) Start(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	if err := portaudio.Initialize(); err != nil {
		return util.WrapError("initialize PortAudio", err)
	}

	dev, err := s.inputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: types.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      types.SampleRate,
		FramesPerBuffer: types.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		sink.Observe(in)
		s.act.touch()
	})
	if err != nil {
		_ = portaudio.Terminate()
		return util.WrapError("open audio stream", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return util.WrapError("start audio stream", err)
	}

	s.stream = stream
	s.device = dev.Name
	s.started = true
	slog.Info("started audio capture", "backend", types.BackendPortAudio, "device", dev.Name)

	s.wg.Go(func() {
		s.monitor(ctx, time.Now())
	})
	return nil
}

// inputDevice picks the configured device or falls back to the default input.
func (s *PortAudioSource) inputDevice() (*portaudio.DeviceInfo, error) {
	if len(s.devices) > 0 {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, util.WrapError("list audio devices", err)
		}
		if dev := selectInputDevice(devices, s.devices); dev != nil {
			return dev, nil
		}
		slog.Warn("no configured input device found, using default", "devices", s.devices)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAudioDevice, err)
	}
	return dev, nil
}

// selectInputDevice returns the first device, in preference order, whose name
// matches and that has at least one input channel.
func selectInputDevice(available []*portaudio.DeviceInfo, preferred []string) *portaudio.DeviceInfo {
	for _, name := range preferred {
		for _, dev := range available {
			if dev != nil && dev.Name == name && dev.MaxInputChannels > 0 {
				return dev
			}
		}
	}
	return nil
}

// monitor closes Done when the callback stops firing for StallTimeout, which
// is how a vanished audio server shows up.
func (s *PortAudioSource) monitor(ctx context.Context, start time.Time) {
	ticker := time.NewTicker(stallCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if idle := s.act.idle(start); idle >= types.StallTimeout {
				slog.Error("audio stream stalled", "device", s.Device(), "idle", idle)
				s.act.finish()
				return
			}
		}
	}
}

// Connected reports whether the callback delivered audio recently.
func (s *PortAudioSource) Connected() bool {
	return s.act.connected()
}

// Done is closed when the stream stalls or the source is closed.
func (s *PortAudioSource) Done() <-chan struct{} {
	return s.act.done
}

// Device returns the name of the open input device.
func (s *PortAudioSource) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Close stops the stream and releases PortAudio.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	stream := s.stream
	started := s.started
	s.mu.Unlock()

	s.wg.Wait()
	s.act.finish()

	if !started {
		return nil
	}

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, util.WrapError("stop audio stream", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, util.WrapError("close audio stream", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, util.WrapError("terminate PortAudio", err))
	}
	return errors.Join(errs...)
}

// PortAudioDevices lists PortAudio devices with input channels.
func PortAudioDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, util.WrapError("initialize PortAudio", err)
	}
	defer func() { _ = portaudio.Terminate() }()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, util.WrapError("list audio devices", err)
	}

	var devices []Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		devices = append(devices, Device{ID: info.Name, Name: info.Name})
	}
	return devices, nil
}
