// Package notify fans detector fires out to webhooks, Zabbix, email, a log
// file and an S3 archive.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/njh/silentjack/internal/config"
	"github.com/njh/silentjack/internal/detector"
	"github.com/njh/silentjack/internal/engine"
	"github.com/njh/silentjack/internal/util"
)

// Alert describes one fire for notification channels.
type Alert struct {
	ID          string        `json:"event_id"`
	Time        time.Time     `json:"time"`
	Kind        detector.Kind `json:"event"`
	Name        string        `json:"name"`
	Device      string        `json:"device,omitempty"`
	LevelDB     float64       `json:"level_db"`
	ThresholdDB float64       `json:"threshold_db"`
	PeriodSecs  int           `json:"period_secs"`
}

// Summary returns a one-line description of the alert.
func (a *Alert) Summary() string {
	return fmt.Sprintf("%s on %s: level %.1f dB, threshold %.1f dB, held %s",
		kindTitle(a.Kind), a.Name, a.LevelDB, a.ThresholdDB, util.FormatSeconds(a.PeriodSecs))
}

// Notifier sends fire alerts to every configured channel. Each channel is
// delivered on its own goroutine so the control loop never waits on the
// network.
type Notifier struct {
	cfg config.Snapshot

	// mu protects graphClient
	mu          sync.Mutex
	graphClient *GraphClient

	s3 *S3Archiver
	wg sync.WaitGroup
}

// NewNotifier returns a Notifier for the channels configured in cfg.
//
//nolint:gocritic // hugeParam: snapshot is copied once at startup
func NewNotifier(cfg config.Snapshot) *Notifier {
	n := &Notifier{cfg: cfg}
	if cfg.HasS3() {
		n.s3 = NewS3Archiver(&cfg.S3)
	}
	return n
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.HasWebhook() || n.cfg.HasGraph() || n.cfg.HasLogPath() ||
		n.cfg.HasZabbix() || n.s3 != nil
}

// OnTick is a no-op; only fires are notified.
func (n *Notifier) OnTick(engine.TickReport) {}

// OnEvent dispatches fire events.
func (n *Notifier) OnEvent(ev engine.Event) {
	if ev.Type != engine.EventFire {
		return
	}
	n.Notify(n.alertFor(ev))
}

// Notify sends alert to every configured channel in the background.
func (n *Notifier) Notify(alert *Alert) {
	cfg := &n.cfg

	if cfg.HasWebhook() {
		n.send("Fire webhook", func() error { return SendFireWebhook(cfg.WebhookURL, alert) })
	}
	if cfg.HasZabbix() {
		n.send("Fire zabbix", func() error { return SendFireZabbix(&cfg.Zabbix, alert) })
	}
	if cfg.HasGraph() {
		n.send("Fire email", func() error { return n.sendEmail(alert) })
	}
	if cfg.HasLogPath() {
		n.send("Fire log", func() error { return LogFire(cfg.LogPath, alert) })
	}
	if n.s3 != nil {
		n.send("Fire archive", func() error { return n.s3.Archive(context.Background(), alert) })
	}
}

// Wait blocks until every notification in flight has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(notifyType string, fn func() error) {
	n.wg.Go(func() {
		util.LogNotifyResult(fn, notifyType)
	})
}

// alertFor fills in the threshold and period that applied to the fire.
func (n *Notifier) alertFor(ev engine.Event) *Alert {
	d := n.cfg.Detection
	alert := &Alert{
		ID:      ev.ID,
		Time:    ev.Time,
		Kind:    ev.Kind,
		Name:    ev.Name,
		Device:  ev.Device,
		LevelDB: ev.LevelDB,
	}
	switch ev.Kind {
	case detector.KindSilence, detector.KindNoise:
		alert.ThresholdDB = d.SilenceThresholdDB
		alert.PeriodSecs = d.SilencePeriod
	case detector.KindNoDynamic, detector.KindDynamic:
		alert.ThresholdDB = d.NoDynamicThresholdDB
		alert.PeriodSecs = int(d.NoDynamicPeriod)
	}
	if alert.Name == "" {
		alert.Name = n.cfg.Name
	}
	return alert
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *Notifier) getOrCreateGraphClient() (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(&n.cfg.Graph)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

func (n *Notifier) sendEmail(alert *Alert) error {
	client, err := n.getOrCreateGraphClient()
	if err != nil {
		return util.WrapError("create Graph client", err)
	}
	return sendFireEmail(client, &n.cfg.Graph, alert)
}
