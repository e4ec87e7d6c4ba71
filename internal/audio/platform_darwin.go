//go:build darwin

package audio

import "regexp"

// getPlatformConfig captures through ffmpeg's AVFoundation input, since macOS
// has no arecord. ":0" is the first audio input with no video device.
func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
		BuildArgs:     buildDarwinArgs,
	}
}

// buildDarwinArgs reads device as mono S16LE at the detector sample rate, the
// format CaptureSource feeds to ObserveS16LE.
func buildDarwinArgs(device string) []string {
	return buildFFmpegCaptureArgs("avfoundation", device)
}

// Devices lists AVFoundation audio inputs for /status. Each ID is already in
// the ":N" form that --connect and buildDarwinArgs accept.
func (cfg *CaptureConfig) Devices() []Device {
	return parseDeviceList(avfoundationDeviceList())
}

func avfoundationDeviceList() DeviceListConfig {
	return DeviceListConfig{
		Command:          []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		AudioStartMarker: "AVFoundation audio devices:",
		AudioStopMarker:  "AVFoundation video devices:",
		DevicePattern:    regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
		ParseDevice: func(matches []string) *Device {
			if len(matches) < 3 {
				return nil
			}
			return &Device{
				ID:   ":" + matches[1],
				Name: matches[2],
			}
		},
	}
}
