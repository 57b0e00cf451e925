package main

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ========================================
// MirrorManager - scrcpy process lifecycle
// ========================================

// statusResetDelay is how long install success/failure stays on screen
// before the status line clears.
const statusResetDelay = 3 * time.Second

// ErrSessionBusy is returned when a launch is rejected because a session for
// the same serial is still live.
var ErrSessionBusy = errors.New("mirror session already running for device")

// ErrMirrorToolMissing is returned when the mirroring executable cannot be
// located.
var ErrMirrorToolMissing = errors.New("scrcpy executable not found")

// MirrorSession is one managed scrcpy process for one device serial.
type MirrorSession struct {
	ID        string
	Serial    string
	Name      string
	StartedAt time.Time

	// cmd is assigned before the session is published to the manager's map
	// and never reassigned; a tracked session always has a started process.
	cmd  *exec.Cmd
	done chan struct{} // closed once the process has exited
}

func (s *MirrorSession) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// MirrorManager owns at most one live mirroring process per device serial.
// Sessions are created by Launch, removed when their process exits, and all
// terminated at Shutdown. Every mutation of the session map goes through the
// manager's mutex; status events flow out through the Notifier.
type MirrorManager struct {
	tools    *Toolchain
	notifier Notifier
	store    *SessionStore // optional history sink

	resetDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*MirrorSession
}

// NewMirrorManager creates a manager. store may be nil when history
// persistence is unavailable.
func NewMirrorManager(tools *Toolchain, notifier Notifier, store *SessionStore) *MirrorManager {
	return &MirrorManager{
		tools:      tools,
		notifier:   notifier,
		store:      store,
		resetDelay: statusResetDelay,
		sessions:   make(map[string]*MirrorSession),
	}
}

// Launch starts a mirroring session for the device. Progress is reported
// through the Notifier; the returned error covers only launch-time
// conditions. A launch for a serial whose session is still live is rejected
// with ErrSessionBusy and a SessionBusy event, and starts nothing. A tracked
// session whose process already exited is evicted before the new launch.
func (m *MirrorManager) Launch(device Device) error {
	scrcpy := m.tools.ScrcpyPath()
	if scrcpy == "" {
		return ErrMirrorToolMissing
	}

	m.mu.Lock()
	if existing, ok := m.sessions[device.Serial]; ok {
		if !existing.exited() {
			m.mu.Unlock()
			LogInfo("mirror").Str("serial", device.Serial).Msg("Launch rejected, session still live")
			m.notifier.SessionBusy(device.Serial)
			return ErrSessionBusy
		}
		delete(m.sessions, device.Serial)
	}

	session := &MirrorSession{
		ID:        uuid.New().String(),
		Serial:    device.Serial,
		Name:      device.DisplayName(),
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}

	cmd := exec.Command(scrcpy, "-s", session.Serial, "--window-title", "Mirror: "+session.Name)
	cmd.Env = m.tools.Env()
	session.cmd = cmd

	stdout, startErr := cmd.StdoutPipe()
	var stderr io.ReadCloser
	if startErr == nil {
		stderr, startErr = cmd.StderrPipe()
		if startErr != nil {
			stdout.Close()
		}
	}
	if startErr == nil {
		LogInfo("mirror").Str("serial", session.Serial).Str("session", session.ID).Msg("Starting mirror")
		startErr = cmd.Start()
	}

	if startErr != nil {
		m.mu.Unlock()
		LogError("mirror").Str("serial", session.Serial).Err(startErr).Msg("Failed to start mirror")
		close(session.done)
		if m.store != nil {
			m.store.RecordLaunch(session, "spawn-failed")
		}
		m.notifier.SessionEnded(session.Serial)
		return nil
	}

	// Published only with a started process behind it, so Stop and
	// Shutdown always have a process to signal.
	m.sessions[device.Serial] = session
	m.mu.Unlock()

	if m.store != nil {
		m.store.RecordLaunch(session, "running")
	}
	m.notifier.SessionStarted(session.Serial)

	go m.runSession(session, stdout, stderr)
	return nil
}

// runSession monitors both output streams and blocks until the process
// exits. SessionEnded is emitted exactly once per launched session, on this
// path only.
func (m *MirrorManager) runSession(s *MirrorSession, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.monitorStream(s.Serial, stdout)
	}()
	go func() {
		defer wg.Done()
		m.monitorStream(s.Serial, stderr)
	}()

	// Pipes must be drained before Wait.
	wg.Wait()
	err := s.cmd.Wait()
	close(s.done)
	m.remove(s)

	status := "completed"
	if err != nil {
		status = "crashed"
		LogWarn("mirror").Str("serial", s.Serial).Err(err).Msg("Mirror process exited abnormally")
	} else {
		LogInfo("mirror").Str("serial", s.Serial).Dur("duration", time.Since(s.StartedAt)).Msg("Mirror process exited")
	}
	if m.store != nil {
		m.store.RecordEnd(s.ID, status)
	}
	m.notifier.SessionEnded(s.Serial)
}

func (m *MirrorManager) remove(s *MirrorSession) {
	m.mu.Lock()
	if m.sessions[s.Serial] == s {
		delete(m.sessions, s.Serial)
	}
	m.mu.Unlock()
}

// monitorStream consumes one output stream line by line until end-of-stream.
// Undecodable byte sequences are replaced, never fatal. The two streams of a
// session are monitored independently; order is preserved only within one
// stream.
func (m *MirrorManager) monitorStream(serial string, r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			m.classifyLine(serial, strings.ToValidUTF8(strings.TrimSpace(line), "�"))
		}
		if err != nil {
			return
		}
	}
}

// classifyLine matches install-progress markers case-insensitively. The
// three checks are independent: a single line can emit more than one status.
func (m *MirrorManager) classifyLine(serial, line string) {
	if line == "" {
		return
	}
	LogDebug("mirror").Str("serial", serial).Str("line", line).Msg("scrcpy output")

	lower := strings.ToLower(line)
	if strings.Contains(lower, "installing") || strings.Contains(lower, "install ") {
		m.notifier.SessionStatus(serial, MirrorInstalling)
	}
	if strings.Contains(lower, "success") {
		m.notifier.SessionStatus(serial, MirrorInstallSuccess)
		m.scheduleStatusReset(serial)
	}
	if strings.Contains(lower, "failure") || strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
		m.notifier.SessionStatus(serial, MirrorInstallFailure)
		m.scheduleStatusReset(serial)
	}
}

func (m *MirrorManager) scheduleStatusReset(serial string) {
	time.AfterFunc(m.resetDelay, func() {
		m.notifier.SessionStatus(serial, MirrorIdle)
	})
}

// Stop terminates the session for one serial, if live. The exit is observed
// by the session's own wait, which handles removal and notification.
func (m *MirrorManager) Stop(serial string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[serial]
	if !ok || s.exited() {
		return nil
	}
	err := s.cmd.Process.Kill()
	if err != nil && strings.Contains(err.Error(), "already finished") {
		return nil
	}
	return err
}

// Active returns the serials with live sessions.
func (m *MirrorManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	serials := make([]string, 0, len(m.sessions))
	for serial, s := range m.sessions {
		if !s.exited() {
			serials = append(serials, serial)
		}
	}
	return serials
}

// Shutdown terminates every tracked process. It does not wait for graceful
// exit beyond issuing the kill; the per-session waits observe the exits and
// fire their end notifications as usual.
func (m *MirrorManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for serial, s := range m.sessions {
		if !s.exited() {
			LogInfo("mirror").Str("serial", serial).Msg("Killing mirror on shutdown")
			_ = s.cmd.Process.Kill()
		}
	}
}
