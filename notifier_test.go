package main

import (
	"sync"
	"time"
)

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	mu sync.Mutex

	listChanges [][]Device
	counts      []int
	toolStatus  [][2]bool
	started     []string
	statuses    []statusEvent
	ended       []string
	busy        []string
	updates     []UpdateMetadata
}

type statusEvent struct {
	serial string
	status MirrorStatus
}

func (r *recordingNotifier) DeviceListChanged(devices []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listChanges = append(r.listChanges, devices)
}

func (r *recordingNotifier) DeviceCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, n)
}

func (r *recordingNotifier) ToolStatus(adbFound, scrcpyFound bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolStatus = append(r.toolStatus, [2]bool{adbFound, scrcpyFound})
}

func (r *recordingNotifier) SessionStarted(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, serial)
}

func (r *recordingNotifier) SessionStatus(serial string, status MirrorStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusEvent{serial, status})
}

func (r *recordingNotifier) SessionEnded(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, serial)
}

func (r *recordingNotifier) SessionBusy(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = append(r.busy, serial)
}

func (r *recordingNotifier) UpdateAvailable(meta UpdateMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, meta)
}

func (r *recordingNotifier) listChangeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listChanges)
}

func (r *recordingNotifier) countEvents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counts)
}

func (r *recordingNotifier) endedSerials() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

func (r *recordingNotifier) statusEvents() []statusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]statusEvent(nil), r.statuses...)
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
