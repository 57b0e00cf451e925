package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// ========================================
// App - application context and bindings
// ========================================

// App wires the toolchain, the device poller, the mirror manager and the
// session store together and exposes them to the frontend. All methods on App
// are bound through Wails.
type App struct {
	ctx     context.Context
	version string
	dataDir string

	tools   *Toolchain
	bridge  *BridgeClient
	poller  *DevicePoller
	mirrors *MirrorManager
	store   *SessionStore
}

// NewApp creates the application shell. Components are constructed at
// startup, once the runtime context is available.
func NewApp(version string) *App {
	return &App{version: version}
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "glimpse-data"
	}
	return filepath.Join(base, "glimpse")
}

// startup initializes logging, storage and the background loops. Called by
// the Wails runtime before the window is shown.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.dataDir = defaultDataDir()

	if err := InitLogger(PersistentLogConfig(a.dataDir)); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
	}
	LogAppState(StateStarting, map[string]interface{}{"version": a.version})

	store, err := NewSessionStore(a.dataDir)
	if err != nil {
		// History is optional, the app runs without it.
		LogWarn("app").Err(err).Msg("Session store unavailable, history disabled")
	} else {
		a.store = store
	}

	notifier := &wailsNotifier{app: a}

	a.tools = NewToolchain(DefaultToolsDir())
	a.tools.Resolve()
	notifier.ToolStatus(a.tools.Found())

	a.bridge = NewBridgeClient(a.tools)
	a.poller = NewDevicePoller(a.bridge, a.tools, notifier)
	a.mirrors = NewMirrorManager(a.tools, notifier, a.store)

	if err := a.tools.Watch(func() {
		notifier.ToolStatus(a.tools.Found())
		a.poller.Refresh()
	}); err != nil {
		LogWarn("app").Err(err).Msg("Tool directory watch unavailable")
	}

	a.poller.Start()

	go func() {
		if meta := CheckForUpdate(ctx, updateEndpoint, a.version); meta != nil {
			notifier.UpdateAvailable(*meta)
		}
	}()

	LogAppState(StateReady, nil)
}

// shutdown stops the background loops and releases resources. Called by the
// Wails runtime when the window closes.
func (a *App) shutdown(ctx context.Context) {
	LogAppState(StateShuttingDown, nil)

	if a.poller != nil {
		a.poller.Stop()
	}
	if a.mirrors != nil {
		a.mirrors.Shutdown()
	}
	if a.tools != nil {
		a.tools.StopWatch()
	}
	if a.store != nil {
		a.store.Close()
	}
	CloseLogger()
}

// ========================================
// Bound API
// ========================================

// GetDevices returns the devices from the most recent poll cycle.
func (a *App) GetDevices() []Device {
	return a.poller.Snapshot().Devices
}

// RefreshDevices requests an immediate poll cycle.
func (a *App) RefreshDevices() {
	a.poller.Refresh()
}

// StartMirror launches a mirroring session for the device with the given
// serial. Devices pending authorization cannot be mirrored.
func (a *App) StartMirror(serial string) error {
	device, ok := a.poller.Snapshot().Get(serial)
	if !ok {
		return fmt.Errorf("device %s not connected", serial)
	}
	if device.Status == StatusUnauthorized {
		return fmt.Errorf("device %s is pending authorization", serial)
	}
	return a.mirrors.Launch(device)
}

// StopMirror terminates the mirroring session for the given serial.
func (a *App) StopMirror(serial string) error {
	return a.mirrors.Stop(serial)
}

// ActiveMirrors returns the serials with live mirroring sessions.
func (a *App) ActiveMirrors() []string {
	return a.mirrors.Active()
}

// GetMirrorHistory returns up to limit recent sessions, newest first.
func (a *App) GetMirrorHistory(limit int) ([]SessionRecord, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.Recent(limit)
}

// GetAppVersion returns the running version.
func (a *App) GetAppVersion() string {
	return a.version
}

// GetToolStatus reports whether the adb and scrcpy executables were found.
func (a *App) GetToolStatus() map[string]bool {
	adb, scrcpy := a.tools.Found()
	return map[string]bool{"adb": adb, "scrcpy": scrcpy}
}

// ========================================
// Notifier - Wails event emission
// ========================================

// wailsNotifier forwards notifications to the frontend as Wails events. All
// emission is skipped before startup completes, which keeps the core usable
// headless.
type wailsNotifier struct {
	app *App
}

func (n *wailsNotifier) emit(name string, data ...interface{}) {
	if n.app.ctx == nil {
		return
	}
	runtime.EventsEmit(n.app.ctx, name, data...)
}

func (n *wailsNotifier) DeviceListChanged(devices []Device) {
	n.emit(EventDeviceListChanged, devices)
}

func (n *wailsNotifier) DeviceCount(count int) {
	n.emit(EventDeviceCount, count)
}

func (n *wailsNotifier) ToolStatus(adbFound, scrcpyFound bool) {
	n.emit(EventToolStatus, map[string]bool{"adb": adbFound, "scrcpy": scrcpyFound})
}

func (n *wailsNotifier) SessionStarted(serial string) {
	n.emit(EventMirrorStarted, serial)
}

func (n *wailsNotifier) SessionStatus(serial string, status MirrorStatus) {
	n.emit(EventMirrorStatus, map[string]string{"serial": serial, "status": string(status)})
}

func (n *wailsNotifier) SessionEnded(serial string) {
	n.emit(EventMirrorStopped, serial)
}

func (n *wailsNotifier) SessionBusy(serial string) {
	n.emit(EventMirrorBusy, serial)
}

func (n *wailsNotifier) UpdateAvailable(meta UpdateMetadata) {
	n.emit(EventUpdateAvailable, meta)
}
