//go:build linux

package capture

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinCaptureThread locks the calling goroutine to its OS thread and, when
// nice is non-zero, sets that thread's scheduling priority. The returned
// func restores the priority and unlocks the thread.
func pinCaptureThread(nice int) (func(), error) {
	runtime.LockOSThread()
	if nice == 0 {
		return runtime.UnlockOSThread, nil
	}

	tid := unix.Gettid()
	prev, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
	if err != nil {
		return runtime.UnlockOSThread, fmt.Errorf("getpriority: %w", err)
	}
	// The raw syscall returns 20-nice.
	prev = 20 - prev

	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil {
		return runtime.UnlockOSThread, fmt.Errorf("setpriority %d: %w", nice, err)
	}
	return func() {
		_ = unix.Setpriority(unix.PRIO_PROCESS, tid, prev)
		runtime.UnlockOSThread()
	}, nil
}
