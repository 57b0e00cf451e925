package main

import (
	"errors"
	"os/exec"
	"runtime"
)

// ========================================
// USB driver installer shortcut (Windows)
// ========================================

// ErrDriverUnsupported is returned on platforms without a driver installer.
var ErrDriverUnsupported = errors.New("driver installer is only available on Windows")

// ErrDriverMissing is returned when the bundled installer cannot be found.
var ErrDriverMissing = errors.New("driver installer executable not found")

// DriverInstallerAvailable reports whether the bundled Zadig installer can be
// launched on this platform.
func (a *App) DriverInstallerAvailable() bool {
	return runtime.GOOS == "windows" && a.tools.ZadigPath() != ""
}

// LaunchDriverInstaller starts the bundled Zadig installer and returns
// without waiting for it. Zadig requests elevation through its own manifest.
func (a *App) LaunchDriverInstaller() error {
	if runtime.GOOS != "windows" {
		return ErrDriverUnsupported
	}
	zadig := a.tools.ZadigPath()
	if zadig == "" {
		return ErrDriverMissing
	}

	cmd := exec.Command(zadig)
	if err := cmd.Start(); err != nil {
		LogError("driver").Str("path", zadig).Err(err).Msg("Failed to launch driver installer")
		return err
	}
	LogInfo("driver").Str("path", zadig).Msg("Driver installer launched")
	return nil
}
