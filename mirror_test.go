package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// writeStub creates an executable shell script standing in for scrcpy.
func writeStub(t *testing.T, script string) *Toolchain {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stubs require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "scrcpy")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("Failed to write stub: %v", err)
	}
	return &Toolchain{scrcpyPath: path}
}

func newTestMirrorManager(tools *Toolchain, notifier Notifier) *MirrorManager {
	m := NewMirrorManager(tools, notifier, nil)
	m.resetDelay = 20 * time.Millisecond
	return m
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected []MirrorStatus
	}{
		{
			name:     "installing marker",
			line:     "Installing APK...",
			expected: []MirrorStatus{MirrorInstalling},
		},
		{
			name:     "success marker",
			line:     "Success",
			expected: []MirrorStatus{MirrorInstallSuccess},
		},
		{
			name:     "failure marker",
			line:     "adb: failed to install app.apk",
			expected: []MirrorStatus{MirrorInstallFailure},
		},
		{
			name:     "error marker",
			line:     "ERROR: something broke",
			expected: []MirrorStatus{MirrorInstallFailure},
		},
		{
			name:     "install failed emits both",
			line:     "INSTALL FAILED: insufficient storage",
			expected: []MirrorStatus{MirrorInstalling, MirrorInstallFailure},
		},
		{
			name:     "unrelated line",
			line:     "INFO: Device: samsung SM-G973F (Android 12)",
			expected: nil,
		},
		{
			name:     "empty line",
			line:     "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			m := NewMirrorManager(&Toolchain{}, notifier, nil)
			m.resetDelay = time.Hour // keep idle resets out of this test

			m.classifyLine("serial-1", tt.line)

			got := notifier.statusEvents()
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d status events, got %d: %+v", len(tt.expected), len(got), got)
			}
			for i, want := range tt.expected {
				if got[i].status != want {
					t.Errorf("Event %d: expected %q, got %q", i, want, got[i].status)
				}
				if got[i].serial != "serial-1" {
					t.Errorf("Event %d: expected serial-1, got %q", i, got[i].serial)
				}
			}
		})
	}
}

func TestStatusResetsToIdle(t *testing.T) {
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(&Toolchain{}, notifier)

	m.classifyLine("serial-1", "Success")

	ok := waitFor(time.Second, func() bool {
		events := notifier.statusEvents()
		return len(events) == 2 && events[1].status == MirrorIdle
	})
	if !ok {
		t.Fatalf("Expected idle reset after success, got %+v", notifier.statusEvents())
	}
}

func TestLaunchEmitsInstallProgress(t *testing.T) {
	tools := writeStub(t, `echo "Installing APK..."
echo "Success" >&2
exit 0
`)
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)

	if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if !waitFor(time.Second, func() bool { return len(notifier.endedSerials()) == 1 }) {
		t.Fatal("Expected the session to end")
	}

	var sawInstalling, sawSuccess bool
	for _, e := range notifier.statusEvents() {
		switch e.status {
		case MirrorInstalling:
			sawInstalling = true
		case MirrorInstallSuccess:
			sawSuccess = true
		}
	}
	if !sawInstalling {
		t.Error("Expected an installing status from stdout")
	}
	if !sawSuccess {
		t.Error("Expected a success status from stderr")
	}
}

func TestLaunchRejectsBusySerial(t *testing.T) {
	tools := writeStub(t, "sleep 5\n")
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)
	defer m.Shutdown()

	device := Device{Serial: "serial-1"}
	if err := m.Launch(device); err != nil {
		t.Fatalf("First launch failed: %v", err)
	}

	if !waitFor(time.Second, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.started) == 1
	}) {
		t.Fatal("Expected the first session to start")
	}

	if err := m.Launch(device); err != ErrSessionBusy {
		t.Errorf("Expected ErrSessionBusy, got %v", err)
	}

	notifier.mu.Lock()
	busy := len(notifier.busy)
	started := len(notifier.started)
	notifier.mu.Unlock()
	if busy != 1 {
		t.Errorf("Expected 1 busy event, got %d", busy)
	}
	if started != 1 {
		t.Errorf("Expected no second session, got %d starts", started)
	}
}

func TestSessionEndedExactlyOnce(t *testing.T) {
	tools := writeStub(t, "exit 0\n")
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)

	if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if !waitFor(time.Second, func() bool { return len(notifier.endedSerials()) >= 1 }) {
		t.Fatal("Expected a session end event")
	}
	time.Sleep(50 * time.Millisecond)
	if got := notifier.endedSerials(); len(got) != 1 {
		t.Errorf("Expected exactly 1 end event, got %d", len(got))
	}

	if len(m.Active()) != 0 {
		t.Errorf("Expected no active sessions, got %v", m.Active())
	}
}

func TestCrashedSessionStillEnds(t *testing.T) {
	tools := writeStub(t, "exit 3\n")
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)

	if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if !waitFor(time.Second, func() bool { return len(notifier.endedSerials()) == 1 }) {
		t.Fatal("Expected a session end event after non-zero exit")
	}
}

func TestSpawnFailureEndsSession(t *testing.T) {
	tools := &Toolchain{scrcpyPath: filepath.Join(t.TempDir(), "does-not-exist")}
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)

	if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
		t.Fatalf("Launch itself should not fail on spawn errors: %v", err)
	}

	if !waitFor(time.Second, func() bool { return len(notifier.endedSerials()) == 1 }) {
		t.Fatal("Expected a session end event after spawn failure")
	}

	notifier.mu.Lock()
	started := len(notifier.started)
	notifier.mu.Unlock()
	if started != 0 {
		t.Errorf("Expected no start event on spawn failure, got %d", started)
	}

	// The serial is free for another attempt.
	if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
		t.Errorf("Expected relaunch after spawn failure to be accepted, got %v", err)
	}
	waitFor(time.Second, func() bool { return len(notifier.endedSerials()) == 2 })
}

func TestLaunchWithoutScrcpy(t *testing.T) {
	m := newTestMirrorManager(&Toolchain{}, &recordingNotifier{})
	if err := m.Launch(Device{Serial: "serial-1"}); err != ErrMirrorToolMissing {
		t.Errorf("Expected ErrMirrorToolMissing, got %v", err)
	}
}

func TestStopKillsSession(t *testing.T) {
	tools := writeStub(t, "sleep 5\n")
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)

	if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if !waitFor(time.Second, func() bool { return len(m.Active()) == 1 }) {
		t.Fatal("Expected an active session")
	}

	if err := m.Stop("serial-1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !waitFor(time.Second, func() bool { return len(notifier.endedSerials()) == 1 }) {
		t.Fatal("Expected the killed session to end")
	}

	// Stopping an unknown serial is a no-op.
	if err := m.Stop("missing"); err != nil {
		t.Errorf("Expected nil for unknown serial, got %v", err)
	}
}

func TestShutdownImmediatelyAfterLaunch(t *testing.T) {
	tools := writeStub(t, "sleep 2\n")

	// No window between Launch returning and Shutdown seeing a killable
	// process: the session is published with its process already started.
	for i := 0; i < 5; i++ {
		notifier := &recordingNotifier{}
		m := newTestMirrorManager(tools, notifier)

		if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
			t.Fatalf("Launch failed: %v", err)
		}
		m.Shutdown()

		if !waitFor(time.Second, func() bool { return len(notifier.endedSerials()) == 1 }) {
			t.Fatal("Expected the session to end promptly after Shutdown, not run to natural exit")
		}
	}
}

func TestFailedLaunchLeaksNoDescriptors(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("descriptor counting reads procfs")
	}

	tools := &Toolchain{scrcpyPath: filepath.Join(t.TempDir(), "does-not-exist")}
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)

	countFDs := func() int {
		entries, err := os.ReadDir("/proc/self/fd")
		if err != nil {
			t.Fatalf("Failed to read fd dir: %v", err)
		}
		return len(entries)
	}

	before := countFDs()
	for i := 0; i < 20; i++ {
		if err := m.Launch(Device{Serial: "serial-1"}); err != nil {
			t.Fatalf("Launch %d failed: %v", i, err)
		}
	}
	if got := len(notifier.endedSerials()); got != 20 {
		t.Fatalf("Expected 20 end events, got %d", got)
	}
	if after := countFDs(); after > before+2 {
		t.Errorf("Descriptors leaked across failed launches: %d before, %d after", before, after)
	}
}

func TestShutdownKillsAllSessions(t *testing.T) {
	tools := writeStub(t, "sleep 5\n")
	notifier := &recordingNotifier{}
	m := newTestMirrorManager(tools, notifier)

	for _, serial := range []string{"a", "b", "c"} {
		if err := m.Launch(Device{Serial: serial}); err != nil {
			t.Fatalf("Launch %s failed: %v", serial, err)
		}
	}
	if !waitFor(time.Second, func() bool { return len(m.Active()) == 3 }) {
		t.Fatal("Expected 3 active sessions")
	}

	m.Shutdown()

	if !waitFor(2*time.Second, func() bool { return len(notifier.endedSerials()) == 3 }) {
		t.Fatalf("Expected all sessions to end, got %d", len(notifier.endedSerials()))
	}
}
