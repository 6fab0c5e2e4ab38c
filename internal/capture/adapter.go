// Package capture controls the external photo-capture application: launch,
// running check, window visibility and the advisory start signal.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrPathNotConfigured means no executable path is set.
	ErrPathNotConfigured = errors.New("capture application path not configured")
	// ErrExecutableMissing means the configured path does not point at a file.
	ErrExecutableMissing = errors.New("capture application executable missing")
	// ErrNotRunning is returned when showing an application that is not running.
	ErrNotRunning = errors.New("capture application not running")
)

// LaunchError wraps the cause of a failed process start.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// KioskWindow is the kiosk's own window. It is shown whenever the capture
// application is hidden and vice versa.
type KioskWindow interface {
	SetVisible(visible bool) error
}

// KioskWindowFunc adapts a func to KioskWindow.
type KioskWindowFunc func(visible bool) error

func (f KioskWindowFunc) SetVisible(visible bool) error { return f(visible) }

// Options configures an Adapter.
type Options struct {
	Path        string
	ProcessName string
	SettleDelay time.Duration
	ControlURL  string
	Password    string
	Mode        string
	HTTPClient  *http.Client
}

// Launched describes the process after Launch.
type Launched struct {
	PID   int32
	Fresh bool // false when an existing instance was brought forward
}

// Adapter owns the capture process handle. All methods are safe for
// concurrent use and idempotent from the caller's point of view.
type Adapter struct {
	opts     Options
	platform Platform
	kiosk    KioskWindow
	http     *http.Client
	log      *logrus.Entry

	// launchMu serializes Launch so two callers never start two instances.
	launchMu sync.Mutex

	mu  sync.Mutex
	pid int32

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an Adapter. kiosk may be nil when there is no kiosk window to toggle.
func New(opts Options, platform Platform, kiosk KioskWindow, log *logrus.Entry) *Adapter {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Adapter{
		opts:     opts,
		platform: platform,
		kiosk:    kiosk,
		http:     client,
		log:      log.WithField("component", "capture"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckPath validates the configured executable path.
func (a *Adapter) CheckPath() error {
	if a.opts.Path == "" {
		return ErrPathNotConfigured
	}
	info, err := os.Stat(a.opts.Path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrExecutableMissing, a.opts.Path)
	}
	return nil
}

// IsRunning checks the cached handle, then scans the process table by name and
// caches what it finds.
func (a *Adapter) IsRunning(ctx context.Context) bool {
	_, ok := a.runningPID(ctx)
	return ok
}

func (a *Adapter) runningPID(ctx context.Context) (int32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pid != 0 && a.platform.Alive(a.pid) {
		return a.pid, true
	}
	a.pid = 0

	pid, found, err := a.platform.FindProcess(ctx, a.opts.ProcessName)
	if err != nil {
		a.log.WithError(err).Warn("process scan failed")
		return 0, false
	}
	if !found {
		return 0, false
	}
	a.pid = pid
	return pid, true
}

// Launch starts the capture application unless it is already running, in
// which case its window is brought forward instead. A fresh start waits the
// settle delay before returning.
func (a *Adapter) Launch(ctx context.Context) (Launched, error) {
	a.launchMu.Lock()
	defer a.launchMu.Unlock()

	if pid, ok := a.runningPID(ctx); ok {
		if err := a.platform.BringToFront(pid); err != nil {
			a.log.WithError(err).WithField("pid", pid).Warn("bring capture window to front failed")
		}
		a.log.WithField("pid", pid).Debug("capture application already running")
		return Launched{PID: pid}, nil
	}

	if err := a.CheckPath(); err != nil {
		a.log.WithError(err).Warn("capture application not launchable")
		return Launched{}, err
	}

	a.log.WithField("path", a.opts.Path).Info("launching capture application")
	pid, err := a.platform.Start(a.opts.Path)
	if err != nil {
		return Launched{}, &LaunchError{Path: a.opts.Path, Err: err}
	}

	a.mu.Lock()
	a.pid = pid
	a.mu.Unlock()

	if err := a.sleep(ctx, a.opts.SettleDelay); err != nil {
		return Launched{PID: pid, Fresh: true}, err
	}
	a.log.WithField("pid", pid).Info("capture application launched")
	return Launched{PID: pid, Fresh: true}, nil
}

// SetVisibility shows (restore and foreground) or hides the capture
// application, setting the kiosk window to the opposite state. Hiding leaves
// the capture window where it is and raises the kiosk over it.
func (a *Adapter) SetVisibility(ctx context.Context, visible bool) error {
	if visible {
		pid, ok := a.runningPID(ctx)
		if !ok {
			return ErrNotRunning
		}
		if err := a.platform.BringToFront(pid); err != nil {
			return fmt.Errorf("show capture window: %w", err)
		}
	}

	if a.kiosk != nil {
		if err := a.kiosk.SetVisible(!visible); err != nil {
			return fmt.Errorf("set kiosk visibility: %w", err)
		}
	}
	a.log.WithField("visible", visible).Debug("capture visibility set")
	return nil
}

// SignalStart asks the capture application to begin a capture flow through
// its local control endpoint. Failures are only logged.
func (a *Adapter) SignalStart(ctx context.Context) {
	if a.opts.ControlURL == "" {
		return
	}
	u, err := url.Parse(a.opts.ControlURL)
	if err != nil {
		a.log.WithError(err).Warn("bad capture control url")
		return
	}
	q := u.Query()
	if a.opts.Mode != "" {
		q.Set("mode", a.opts.Mode)
	}
	if a.opts.Password != "" {
		q.Set("password", a.opts.Password)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		a.log.WithError(err).Warn("build start signal")
		return
	}
	resp, err := a.http.Do(req)
	if err != nil {
		a.log.WithError(err).Warn("start signal failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		a.log.WithField("http_status", resp.StatusCode).Warn("start signal refused")
		return
	}
	a.log.Debug("start signal sent")
}
