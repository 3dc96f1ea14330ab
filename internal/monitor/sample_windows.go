//go:build windows
// +build windows

package monitor

// Handle and CPU sampling are not implemented on Windows; the ceilings that
// depend on them are skipped.

func openHandles() int {
	return -1
}

func cpuSeconds() float64 {
	return -1
}
