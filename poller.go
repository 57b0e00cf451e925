package main

import (
	"context"
	"sync"
	"time"
)

// pollInterval matches the 2-second refresh the UI is built around.
const pollInterval = 2 * time.Second

// deviceLister is the slice of BridgeClient the poller needs.
type deviceLister interface {
	ListDevices(ctx context.Context) []Device
}

// DevicePoller drives the recurring device discovery cycle. Cycles are
// strictly sequential: the next one is armed only after the previous cycle's
// events have been dispatched, so a slow bridge stretches the interval
// instead of overlapping queries.
type DevicePoller struct {
	bridge   deviceLister
	tools    *Toolchain
	notifier Notifier
	interval time.Duration

	mu      sync.Mutex
	current Snapshot
	primed  bool

	cancel context.CancelFunc
	kick   chan struct{}
	done   chan struct{}
}

// NewDevicePoller creates a poller; call Start to begin polling.
func NewDevicePoller(bridge deviceLister, tools *Toolchain, notifier Notifier) *DevicePoller {
	return &DevicePoller{
		bridge:   bridge,
		tools:    tools,
		notifier: notifier,
		interval: pollInterval,
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the polling loop. The first cycle runs immediately.
func (p *DevicePoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop cancels the loop and waits for any in-flight cycle to finish
// dispatching. Safe to call more than once.
func (p *DevicePoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Refresh requests an immediate cycle (the UI refresh button). Coalesced if
// one is already pending.
func (p *DevicePoller) Refresh() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Snapshot returns the devices from the most recent completed cycle.
func (p *DevicePoller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *DevicePoller) run(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		p.cycle(ctx)

		// Re-arm only after the cycle has dispatched.
		timer.Reset(p.interval)
	}
}

func (p *DevicePoller) cycle(ctx context.Context) {
	adbFound, scrcpyFound := p.tools.Found()
	if !adbFound || !scrcpyFound {
		// Tools may have been dropped in since the last cycle.
		if p.tools.Resolve() {
			adbFound, scrcpyFound = p.tools.Found()
		}
		p.notifier.ToolStatus(adbFound, scrcpyFound)
	}

	if !adbFound {
		// No bridge: the list query is skipped entirely but polling
		// continues so recovery is automatic.
		p.apply(Snapshot{})
		return
	}

	p.apply(Snapshot{Devices: p.bridge.ListDevices(ctx)})
}

// apply installs a fresh snapshot and dispatches events. The device count
// updates every cycle; the full list is re-emitted only when the serial set
// or cardinality changed (or on the very first cycle).
func (p *DevicePoller) apply(snap Snapshot) {
	p.mu.Lock()
	unchanged := p.primed && p.current.SameDevices(snap)
	p.current = snap
	p.primed = true
	p.mu.Unlock()

	p.notifier.DeviceCount(snap.Count())
	if !unchanged {
		LogInfo("poller").Int("devices", snap.Count()).Msg("Device set changed")
		p.notifier.DeviceListChanged(snap.Devices)
	}
}
