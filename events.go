package main

// ========================================
// Typed events consumed by the presentation layer
// ========================================

// MirrorStatus is the install-progress state of one mirror session, parsed
// from the scrcpy output streams.
type MirrorStatus string

const (
	MirrorInstalling     MirrorStatus = "installing"
	MirrorInstallSuccess MirrorStatus = "install-success"
	MirrorInstallFailure MirrorStatus = "install-failure"
	MirrorIdle           MirrorStatus = "idle"
)

// Wails event names emitted to the frontend.
const (
	EventDeviceListChanged = "device-list-changed"
	EventDeviceCount       = "device-count"
	EventToolStatus        = "tool-status"
	EventMirrorStarted     = "mirror-started"
	EventMirrorStatus      = "mirror-status"
	EventMirrorStopped     = "mirror-stopped"
	EventMirrorBusy        = "mirror-busy"
	EventUpdateAvailable   = "update-available"
)

// Notifier receives events from the discovery and mirror components and
// marshals them onto the UI context. Implementations must be safe to call
// from any goroutine; workers never touch UI state directly.
type Notifier interface {
	// DeviceListChanged fires when the visible device set changed and the
	// device cards need a full rebuild. An empty slice means the empty state.
	DeviceListChanged(devices []Device)
	// DeviceCount fires every poll cycle, changed or not.
	DeviceCount(n int)
	// ToolStatus reports whether the adb and scrcpy executables are located.
	ToolStatus(adbFound, scrcpyFound bool)

	SessionStarted(serial string)
	SessionStatus(serial string, status MirrorStatus)
	// SessionEnded fires exactly once per launched session, including on
	// abnormal termination and spawn failure.
	SessionEnded(serial string)
	// SessionBusy fires when a launch was rejected because a session for the
	// same serial is still live.
	SessionBusy(serial string)

	UpdateAvailable(meta UpdateMetadata)
}
