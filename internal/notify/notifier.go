// Package notify sends webhook and Microsoft Graph e-mail alerts when uploads
// are abandoned or the audio device fails.
package notify

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/oszuidwest/rdio-vox/internal/config"
	"github.com/oszuidwest/rdio-vox/internal/types"
	"github.com/oszuidwest/rdio-vox/internal/util"
)

// Event names used in webhook payloads.
const (
	EventUploadFailed    = "upload_failed"
	EventUploadDropped   = "upload_dropped"
	EventDeviceError     = "device_error"
	EventDeviceRecovered = "device_recovered"
	EventTest            = "test"
)

// Test channels.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
)

// sendTimeout bounds one alert on one channel, retries included.
const sendTimeout = 2 * time.Minute

// ErrNotConfigured is returned by Test for a channel without settings.
var ErrNotConfigured = errors.New("notification channel not configured")

// UploadAlert describes an upload that did not reach the server.
type UploadAlert struct {
	SessionID string
	Filename  string
	Talkgroup string
	Duration  time.Duration
	Attempts  int
	Err       error
}

// Notifier delivers alerts on every configured channel. Sends run in the
// background so callers on the audio or upload path never wait on the network.
// It is safe for concurrent use.
type Notifier struct {
	settings func() config.Snapshot
	http     *http.Client

	// mu protects the fields below
	mu sync.Mutex

	// deviceAlerted is set once a device error has been reported, so a
	// recovery notice follows and repeated failures are not re-sent.
	deviceAlerted bool

	graphClient *GraphClient
	graphCfg    types.GraphConfig

	wg sync.WaitGroup
}

// NewNotifier returns a Notifier that reads channel settings on every alert.
func NewNotifier(settings func() config.Snapshot) *Notifier {
	return &Notifier{
		settings: settings,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// UploadFailed reports a recording that exhausted its attempts or was rejected.
func (n *Notifier) UploadFailed(a UploadAlert) {
	n.dispatch(func(station string) message { return uploadFailedMessage(station, a) })
}

// UploadDropped reports a recording spilled to disk by a full queue.
func (n *Notifier) UploadDropped(a UploadAlert) {
	n.dispatch(func(station string) message { return uploadDroppedMessage(station, a) })
}

// DeviceError reports that monitoring stopped on a capture failure. Only the
// first error until the next DeviceRecovered is sent.
func (n *Notifier) DeviceError(err error) {
	if !n.trySetDeviceAlerted(true) {
		return
	}
	n.dispatch(func(station string) message { return deviceErrorMessage(station, err) })
}

// DeviceRecovered reports that monitoring started again after a device error.
// It does nothing when no device error was reported.
func (n *Notifier) DeviceRecovered() {
	if !n.trySetDeviceAlerted(false) {
		return
	}
	n.dispatch(deviceRecoveredMessage)
}

// trySetDeviceAlerted sets the flag and reports whether it changed.
func (n *Notifier) trySetDeviceAlerted(v bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.deviceAlerted == v {
		return false
	}
	n.deviceAlerted = v
	return true
}

// dispatch renders a message and sends it on each configured channel.
func (n *Notifier) dispatch(render func(station string) message) {
	cfg := n.settings()
	msg := render(stationName(&cfg))

	if cfg.HasWebhook() {
		n.goSend(func(ctx context.Context) {
			util.LogNotifyResult(func() error { return n.sendWebhook(ctx, &cfg, msg) }, ChannelWebhook, msg.event)
		})
	}
	if cfg.HasGraph() {
		graphCfg := cfg.GraphConfig()
		n.goSend(func(ctx context.Context) {
			util.LogNotifyResult(func() error { return n.sendEmail(ctx, &graphCfg, msg) }, ChannelEmail, msg.event)
		})
	}
}

func (n *Notifier) goSend(send func(ctx context.Context)) {
	n.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		send(ctx)
	})
}

// Wait blocks until queued alerts have been sent or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Test sends a test alert on one channel and returns its error.
func (n *Notifier) Test(ctx context.Context, channel string) error {
	cfg := n.settings()
	msg := testMessage(stationName(&cfg))

	switch channel {
	case ChannelWebhook:
		if !cfg.HasWebhook() {
			return ErrNotConfigured
		}
		return n.sendWebhook(ctx, &cfg, msg)
	case ChannelEmail:
		graphCfg := cfg.GraphConfig()
		if err := ValidateConfig(&graphCfg); err != nil {
			return fmt.Errorf("%w: %w", ErrNotConfigured, err)
		}
		client, err := n.graph(&graphCfg)
		if err != nil {
			return util.WrapError("create Graph client", err)
		}
		if err := client.ValidateAuth(ctx); err != nil {
			return err
		}
		return n.sendEmail(ctx, &graphCfg, msg)
	default:
		return fmt.Errorf("unknown notification channel %q", channel)
	}
}

func (n *Notifier) sendWebhook(ctx context.Context, cfg *config.Snapshot, msg message) error {
	payload := msg.payload
	payload.Event = msg.event
	payload.Station = stationName(cfg)
	payload.Timestamp = timestampUTC()
	return sendWebhook(ctx, n.http, cfg.WebhookURL, &payload)
}

func (n *Notifier) sendEmail(ctx context.Context, cfg *types.GraphConfig, msg message) error {
	client, err := n.graph(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}

	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}
	if err := client.SendMail(ctx, recipients, msg.subject, msg.body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// graph returns the cached Graph client, replacing it when the credentials changed.
func (n *Notifier) graph(cfg *types.GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil && n.graphCfg == *cfg {
		return n.graphClient, nil
	}
	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	n.graphCfg = *cfg
	return client, nil
}

// stationName labels alerts with the radio system, falling back to the app name.
func stationName(cfg *config.Snapshot) string {
	return cmp.Or(cfg.Metadata.SystemLabel, cfg.Metadata.System, AppName)
}
