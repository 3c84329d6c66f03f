//go:build linux

package usecase

import (
	"io/fs"
	"syscall"
	"time"
)

// fileAge returns the oldest of a file's access, modification and change
// times.
func fileAge(info fs.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	oldest := time.Unix(st.Atim.Unix())
	for _, ts := range []syscall.Timespec{st.Mtim, st.Ctim} {
		if t := time.Unix(ts.Unix()); t.Before(oldest) {
			oldest = t
		}
	}
	return oldest
}
