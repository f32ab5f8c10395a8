// Package systemd reports service state to systemd through sd_notify.
// Outside a systemd unit every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

const (
	Ready     = daemon.SdNotifyReady
	Stopping  = daemon.SdNotifyStopping
	Watchdog  = daemon.SdNotifyWatchdog
	statusKey = "STATUS="
)

// NotifyFunc sends one state string. sent is false when no notify socket is
// configured.
type NotifyFunc func(state string) (sent bool, err error)

// Notify is the production NotifyFunc.
func Notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Status formats a free-form STATUS= line.
func Status(s string) string { return statusKey + s }

// WatchdogInterval returns the interval systemd expects pings at, or 0 when
// the watchdog is not enabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

// RunWatchdog pings at half the interval until ctx is done.
func RunWatchdog(ctx context.Context, interval time.Duration, notify NotifyFunc) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := notify(Watchdog); err != nil {
				return err
			}
		}
	}
}
