// Package systemd asks systemctl about local unit state. The daemon
// only ever reads; starting or stopping units is an operator action.
package systemd

import (
	"context"
	"os/exec"
	"strings"
)

// IsActive reports whether the unit is in the "active" state.
func IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", unit).CombinedOutput()
	state := strings.TrimSpace(string(out))
	if err != nil && state == "" {
		// is-active exits non-zero for every state but "active"; an
		// empty answer means systemctl itself failed (or is missing).
		return false, err
	}
	return state == "active", nil
}
