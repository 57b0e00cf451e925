package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ========================================
// Toolchain - external executable discovery
// ========================================

// Toolchain locates the bridge (adb), mirroring (scrcpy) and driver-setup
// (zadig) executables and builds the environment mirror processes run with.
// It replaces the module-level tool paths of earlier revisions: built once at
// startup and handed to every component that shells out.
type Toolchain struct {
	toolsDir string

	mu         sync.RWMutex
	adbPath    string
	scrcpyPath string
	zadigPath  string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewToolchain creates a toolchain rooted at toolsDir and performs the
// initial resolution.
func NewToolchain(toolsDir string) *Toolchain {
	t := &Toolchain{toolsDir: toolsDir}
	t.Resolve()
	return t
}

// DefaultToolsDir is the tools directory next to the application executable.
func DefaultToolsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "tools"
	}
	return filepath.Join(filepath.Dir(exe), "tools")
}

// Resolve re-locates all executables and reports whether any path changed.
// System installs on PATH win over bundled copies.
func (t *Toolchain) Resolve() (changed bool) {
	adb := t.findTool("adb")
	scrcpy := t.findTool("scrcpy")
	zadig := t.findZadig()

	t.mu.Lock()
	defer t.mu.Unlock()
	changed = adb != t.adbPath || scrcpy != t.scrcpyPath || zadig != t.zadigPath
	t.adbPath, t.scrcpyPath, t.zadigPath = adb, scrcpy, zadig
	return changed
}

func (t *Toolchain) findTool(name string) string {
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	for _, candidate := range t.bundledCandidates(name) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			if runtime.GOOS != "windows" {
				_ = os.Chmod(candidate, 0755)
			}
			return candidate
		}
	}
	return ""
}

// bundledCandidates lists where the bundled tool archives unpack each
// executable. The scrcpy release zip ships adb alongside scrcpy.
func (t *Toolchain) bundledCandidates(name string) []string {
	exe := name
	switch runtime.GOOS {
	case "windows":
		exe += ".exe"
		return []string{filepath.Join(t.toolsDir, "windows", "scrcpy", exe)}
	case "darwin":
		return []string{
			filepath.Join(t.toolsDir, "macos", "scrcpy", exe),
			filepath.Join(t.toolsDir, "macos", "platform-tools", exe),
		}
	default:
		return []string{
			filepath.Join(t.toolsDir, "linux", "scrcpy", exe),
			filepath.Join(t.toolsDir, "linux", "platform-tools", exe),
		}
	}
}

func (t *Toolchain) findZadig() string {
	if runtime.GOOS != "windows" {
		return ""
	}
	for _, name := range []string{"zadig-2.9.exe", "zadig.exe"} {
		path := filepath.Join(t.toolsDir, "windows", name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// AdbPath returns the resolved bridge executable, or "" when missing.
func (t *Toolchain) AdbPath() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.adbPath
}

// ScrcpyPath returns the resolved mirroring executable, or "" when missing.
func (t *Toolchain) ScrcpyPath() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scrcpyPath
}

// ZadigPath returns the resolved driver installer, or "" when missing.
func (t *Toolchain) ZadigPath() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.zadigPath
}

// Found reports whether the bridge and mirroring executables are located.
func (t *Toolchain) Found() (adb, scrcpy bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.adbPath != "", t.scrcpyPath != ""
}

// Env builds the environment mirror processes inherit: the proxy-scrubbed
// process environment with the tool directories prepended to PATH and the
// ADB variable pointing scrcpy at our bridge executable.
func (t *Toolchain) Env() []string {
	t.mu.RLock()
	adb, scrcpy := t.adbPath, t.scrcpyPath
	t.mu.RUnlock()

	env := scrubEnv()
	var prefix []string
	if scrcpy != "" {
		prefix = append(prefix, filepath.Dir(scrcpy))
	}
	if adb != "" {
		prefix = append(prefix, filepath.Dir(adb))
		env = append(env, "ADB="+adb)
	}
	if len(prefix) == 0 {
		return env
	}

	extra := strings.Join(prefix, string(os.PathListSeparator))
	for i, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			env[i] = "PATH=" + extra + string(os.PathListSeparator) + strings.TrimPrefix(e, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+extra)
}

// scrubEnv returns the process environment without proxy variables, which
// break adb's localhost transport on some setups.
func scrubEnv() []string {
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

	env := os.Environ()
	scrubbed := make([]string, 0, len(env))
	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			scrubbed = append(scrubbed, e)
		}
	}
	return scrubbed
}

// ========================================
// Tools directory watcher
// ========================================

// Watch re-resolves the toolchain when the tools directory changes, so
// binaries dropped in after startup are picked up without waiting for a poll
// cycle. onChange is called after any resolution that changed a path.
func (t *Toolchain) Watch(onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(t.toolsDir); err != nil {
		// Directory may not exist in a source checkout; polling still
		// re-resolves every cycle while tools are missing.
		watcher.Close()
		return err
	}

	t.mu.Lock()
	t.watcher = watcher
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	LogInfo("tools").Str("path", t.toolsDir).Msg("Watching tools directory")
	go t.watch(watcher, t.stopCh, onChange)
	return nil
}

// StopWatch stops the directory watcher. Safe to call when Watch failed or
// was never started.
func (t *Toolchain) StopWatch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watcher != nil {
		close(t.stopCh)
		t.watcher.Close()
		t.watcher = nil
	}
}

func (t *Toolchain) watch(watcher *fsnotify.Watcher, stopCh chan struct{}, onChange func()) {
	// Debounce: archive unpacks touch many files in a burst.
	var debounce *time.Timer
	const debounceDelay = 300 * time.Millisecond

	for {
		select {
		case <-stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if t.Resolve() {
					LogInfo("tools").Msg("Toolchain re-resolved after tools directory change")
					onChange()
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			LogError("tools").Err(err).Msg("Tools watcher error")
		}
	}
}
