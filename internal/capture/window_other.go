//go:build !windows

package capture

// Window control is only implemented on Windows; elsewhere the capture
// application manages its own window.
func bringToFront(pid int32) error { return nil }
