//go:build !linux

package capture

import "runtime"

func pinCaptureThread(int) (func(), error) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread, nil
}
