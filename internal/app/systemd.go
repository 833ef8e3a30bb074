package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"vigil/internal/runtime/supervisor"
	logx "vigil/pkg/logx"
)

// notifyReady tells systemd the daemon is up and, when the unit has a
// watchdog armed, starts pinging it at half the configured interval.
// Outside systemd both calls are no-ops.
func (a *App) notifyReady(sup *supervisor.Supervisor) {
	ok, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if !ok {
		return
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("watchdog detection failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}

	sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
	a.log.Info("systemd watchdog armed", logx.Duration("interval", interval))
}

func (a *App) notifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
