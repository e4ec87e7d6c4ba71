package notify

import (
	"fmt"

	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// fireEmail renders the subject and body for a fire alert.
func fireEmail(a *Alert) (subject, body string) {
	subject = "[ALERT] " + kindTitle(a.Kind) + " - " + a.Name
	body = fmt.Sprintf(
		"%s\n\n"+
			"Input:     %s\n"+
			"Level:     %.1f dB\n"+
			"Threshold: %.1f dB\n"+
			"Held for:  %s\n"+
			"Event ID:  %s\n"+
			"Time:      %s\n\n"+
			"Please check the audio feed.",
		a.Summary(), a.Device, a.LevelDB, a.ThresholdDB,
		util.FormatSeconds(a.PeriodSecs), a.ID, util.HumanTime(),
	)
	return subject, body
}

// sendFireEmail mails a fire alert with client.
func sendFireEmail(client *GraphClient, cfg *GraphConfig, a *Alert) error {
	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}

	subject, body := fireEmail(a)
	if err := client.SendMail(recipients, subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(cfg *GraphConfig, name string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	subject := "[TEST] " + AppName + " " + name
	body := fmt.Sprintf(
		"Test email from %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTime(),
	)

	if err := client.SendMail(ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
