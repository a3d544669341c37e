package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "standupbot/pkg/logx"
)

const (
	sdReady    = daemon.SdNotifyReady
	sdStopping = daemon.SdNotifyStopping
)

// sdNotify returns a notifier that reports state to systemd when running
// under a Type=notify unit and does nothing otherwise.
func sdNotify(log logx.Logger) func(state string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		switch {
		case err != nil:
			log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		case sent:
			log.Debug("sd_notify sent", logx.String("state", state))
		}
	}
}
