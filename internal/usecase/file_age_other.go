//go:build !linux

package usecase

import (
	"io/fs"
	"time"
)

// fileAge falls back to the modification time where the platform stat
// layout is not known.
func fileAge(info fs.FileInfo) time.Time {
	return info.ModTime()
}
