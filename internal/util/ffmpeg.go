package util

import "os/exec"

// ResolveFFmpegPath returns the FFmpeg binary used for capture on platforms
// without arecord. A custom path must resolve; otherwise PATH is searched.
// Returns an empty string if FFmpeg is not found.
func ResolveFFmpegPath(customPath string) string {
	name := "ffmpeg"
	if customPath != "" {
		name = customPath
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}
