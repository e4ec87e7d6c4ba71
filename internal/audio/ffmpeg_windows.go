//go:build windows

package audio

import (
	"fmt"

	"github.com/njh/silentjack/internal/types"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono S16LE capture on Windows.
// -nostdin is left out so FFmpeg keeps reading its quit command from stdin.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", fmt.Sprintf("%d", types.Channels),
		"-ar", fmt.Sprintf("%d", types.SampleRate),
		"pipe:1",
	}
}
