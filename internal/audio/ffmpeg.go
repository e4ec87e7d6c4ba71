//go:build !linux && !windows

package audio

import (
	"fmt"

	"github.com/njh/silentjack/internal/types"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono S16LE capture.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", fmt.Sprintf("%d", types.Channels),
		"-ar", fmt.Sprintf("%d", types.SampleRate),
		"pipe:1",
	}
}
