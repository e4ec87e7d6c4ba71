//go:build darwin

package audio

import (
	"slices"
	"testing"
)

func TestDarwinCaptureIsMonoS16LE(t *testing.T) {
	args := buildDarwinArgs(":1")

	for _, pair := range [][2]string{{"-f", "avfoundation"}, {"-i", ":1"}, {"-ac", "1"}, {"-ar", "48000"}} {
		i := slices.Index(args, pair[0])
		if i < 0 || i+1 >= len(args) || args[i+1] != pair[1] {
			t.Errorf("args %v missing %s %s", args, pair[0], pair[1])
		}
	}
	if !slices.Contains(args, "s16le") || args[len(args)-1] != "pipe:1" {
		t.Errorf("args %v do not write s16le to stdout", args)
	}
}

func TestAVFoundationDeviceIDs(t *testing.T) {
	output := `[AVFoundation indev @ 0x7f8] AVFoundation video devices:
[AVFoundation indev @ 0x7f8] [0] FaceTime HD Camera
[AVFoundation indev @ 0x7f8] AVFoundation audio devices:
[AVFoundation indev @ 0x7f8] [0] MacBook Pro Microphone
[AVFoundation indev @ 0x7f8] [1] USB Audio CODEC
`
	got := parseDeviceOutput(output, avfoundationDeviceList())
	want := []Device{
		{ID: ":0", Name: "MacBook Pro Microphone"},
		{ID: ":1", Name: "USB Audio CODEC"},
	}
	if !slices.Equal(got, want) {
		t.Errorf("parseDeviceOutput() = %v, want %v", got, want)
	}
}
