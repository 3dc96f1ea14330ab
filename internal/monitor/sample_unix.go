//go:build !windows
// +build !windows

package monitor

import (
	"os"
	"syscall"
)

// openHandles counts the process's open file descriptors via /proc. On
// systems without /proc it reports -1.
func openHandles() int {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return -1
	}
	return len(entries)
}

// cpuSeconds returns the process's cumulative user+system CPU time.
func cpuSeconds() float64 {
	var usage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &usage); err != nil {
		return -1
	}
	user := float64(usage.Utime.Sec) + float64(usage.Utime.Usec)/1e6
	sys := float64(usage.Stime.Sec) + float64(usage.Stime.Usec)/1e6
	return user + sys
}
