//go:build linux

package checks

import "syscall"

// diskUsedPct returns the used percentage of the filesystem at path.
// ok is false when the mount cannot be inspected.
func diskUsedPct(path string) (pct int, ok bool) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, false
	}
	total := st.Blocks * uint64(st.Bsize)
	if total == 0 {
		return 0, false
	}
	free := st.Bavail * uint64(st.Bsize)
	used := total - free
	return int(used * 100 / total), true
}
