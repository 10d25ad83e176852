// Package systemd reports service readiness and session status to systemd
// for units with Type=notify.
package systemd

import (
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/smazurov/pwmirror/internal/events"
)

// Notifier sends sd_notify messages. Without NOTIFY_SOCKET every call is a
// no-op.
type Notifier struct {
	logger *slog.Logger
	notify func(unsetEnv bool, state string) (bool, error)
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger, notify: daemon.SdNotify}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.logger.Warn("Failed to notify systemd", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("Notified systemd", "state", state)
	}
}

// Ready tells systemd the service finished starting up.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping tells systemd the service is shutting down.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(status string) { n.send("STATUS=" + status) }

// Watch mirrors session state changes into the status line until the
// returned function is called.
func (n *Notifier) Watch(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.SessionStateChangedEvent) {
			n.Status("session " + e.SessionID + ": " + e.To)
		}),
		bus.Subscribe(func(e events.FormatNegotiatedEvent) {
			n.Status("session " + e.SessionID + ": streaming " + e.PixelFormat)
		}),
		bus.Subscribe(func(e events.SessionEndedEvent) {
			if e.Error != "" {
				n.Status("session " + e.SessionID + " failed: " + e.Error)
				return
			}
			n.Status("session " + e.SessionID + " ended")
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
