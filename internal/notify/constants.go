package notify

import (
	"strings"
	"time"

	"github.com/njh/silentjack/internal/detector"
)

// AppName is the application name used in notifications.
const AppName = "silentjack"

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// kindTitle returns the alert wording for a fire kind.
func kindTitle(kind detector.Kind) string {
	switch kind {
	case detector.KindSilence:
		return "Silence Detected"
	case detector.KindNoDynamic:
		return "Dead Air Detected"
	case detector.KindNoise:
		return "Signal Detected"
	case detector.KindDynamic:
		return "Dynamic Audio Detected"
	default:
		return "Detector Fired"
	}
}

// kindCode returns the upper-case event code used by Zabbix and log lines.
func kindCode(kind detector.Kind) string {
	return strings.ToUpper(string(kind))
}
