package capture

import (
	"context"
	"os/exec"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Platform is the OS seam used by the Adapter.
type Platform interface {
	// FindProcess returns the first process whose executable name matches name,
	// ignoring case and a trailing ".exe".
	FindProcess(ctx context.Context, name string) (pid int32, found bool, err error)
	Alive(pid int32) bool
	Start(path string) (pid int32, err error)
	// BringToFront restores the main window of pid if minimized and focuses it.
	BringToFront(pid int32) error
}

// OSPlatform implements Platform against the running host.
type OSPlatform struct{}

func (OSPlatform) FindProcess(ctx context.Context, name string) (int32, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, err
	}
	want := normalizeName(name)
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			// exited or not ours to inspect
			continue
		}
		if normalizeName(n) == want {
			return p.Pid, true, nil
		}
	}
	return 0, false, nil
}

func (OSPlatform) Alive(pid int32) bool {
	ok, err := process.PidExists(pid)
	return err == nil && ok
}

func (OSPlatform) Start(path string) (int32, error) {
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := int32(cmd.Process.Pid)
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (OSPlatform) BringToFront(pid int32) error {
	return bringToFront(pid)
}

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}
