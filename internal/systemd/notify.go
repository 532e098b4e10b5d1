package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the daemon finished booting. A no-op outside a
// Type=notify unit.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd the daemon began shutting down.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus publishes a free-form status line visible in systemctl status.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, fmt.Sprintf("STATUS=%s", status))
}
