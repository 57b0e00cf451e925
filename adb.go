package main

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ========================================
// BridgeClient - adb invocation and output parsing
// ========================================

const (
	// listDevicesTimeout bounds the `adb devices -l` call.
	listDevicesTimeout = 5 * time.Second
	// propQueryTimeout bounds each per-device property query independently.
	propQueryTimeout = 3 * time.Second
)

var (
	resolutionPattern   = regexp.MustCompile(`\d+x\d+`)
	batteryLevelPattern = regexp.MustCompile(`level:\s*(\d+)`)
)

// BridgeClient wraps the adb executable. It is stateless: every call shells
// out and parses the output. All failures (missing executable, timeouts,
// non-zero exits) degrade to empty results; nothing here propagates errors
// to the polling loop.
type BridgeClient struct {
	tools *Toolchain

	// Property queries fan out per device; the limiter keeps a bench of
	// attached devices from saturating the adb server.
	limiter *rate.Limiter
}

// NewBridgeClient creates a client over the given toolchain.
func NewBridgeClient(tools *Toolchain) *BridgeClient {
	return &BridgeClient{
		tools:   tools,
		limiter: rate.NewLimiter(rate.Limit(20), 20),
	}
}

func (c *BridgeClient) command(ctx context.Context, adb string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, adb, args...)
	cmd.Env = scrubEnv()
	return cmd
}

// ListDevices returns the devices the bridge reports right now, in the
// bridge's own line order. Devices in the "device" state get their
// properties filled in with per-query timeouts; a failing property query
// never aborts the listing.
func (c *BridgeClient) ListDevices(ctx context.Context) []Device {
	adb := c.tools.AdbPath()
	if adb == "" {
		return nil
	}

	timer := StartOperation("bridge", "list_devices")

	listCtx, cancel := context.WithTimeout(ctx, listDevicesTimeout)
	output, err := c.command(listCtx, adb, "devices", "-l").Output()
	cancel()
	if err != nil {
		LogWarn("bridge").Err(err).Msg("adb devices failed")
		timer.EndWithError(err)
		return nil
	}

	devices := parseDeviceList(string(output))
	for i := range devices {
		if devices[i].Status != StatusDevice {
			continue
		}
		c.fillProperties(ctx, adb, &devices[i])
	}

	timer.AddDetail("count", len(devices)).End()
	return devices
}

// parseDeviceList parses `adb devices -l` output: header and blank lines are
// skipped, as is anything offline; lines whose status is neither "device"
// nor "unauthorized" are discarded. Trailing key:value tokens are collected
// as auxiliary properties.
func parseDeviceList(output string) []Device {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	var devices []Device
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "offline") {
			continue
		}

		fields := strings.Fields(line)
		status := "unknown"
		if len(fields) > 1 {
			status = fields[1]
		}
		if status != string(StatusDevice) && status != string(StatusUnauthorized) {
			continue
		}

		d := Device{Serial: fields[0], Status: DeviceStatus(status)}
		for _, tok := range fields[2:] {
			if k, v, ok := strings.Cut(tok, ":"); ok {
				if d.Extra == nil {
					d.Extra = make(map[string]string)
				}
				d.Extra[k] = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}

func (c *BridgeClient) fillProperties(ctx context.Context, adb string, d *Device) {
	d.Model = c.getprop(ctx, adb, d.Serial, "ro.product.model")
	if d.Model == "" {
		d.Model = d.Extra["model"]
	}
	d.Manufacturer = c.getprop(ctx, adb, d.Serial, "ro.product.manufacturer")
	d.AndroidVersion = c.getprop(ctx, adb, d.Serial, "ro.build.version.release")
	d.SDK = c.getprop(ctx, adb, d.Serial, "ro.build.version.sdk")
	d.Resolution = parseResolution(c.shell(ctx, adb, d.Serial, "wm", "size"))
	d.Battery = parseBatteryLevel(c.shell(ctx, adb, d.Serial, "dumpsys", "battery"))
}

// shell runs one `adb -s <serial> shell ...` command with its own timeout
// and returns trimmed output, or "" on any failure.
func (c *BridgeClient) shell(ctx context.Context, adb, serial string, args ...string) string {
	if err := c.limiter.Wait(ctx); err != nil {
		return ""
	}

	qctx, cancel := context.WithTimeout(ctx, propQueryTimeout)
	defer cancel()

	cmdArgs := append([]string{"-s", serial, "shell"}, args...)
	output, err := c.command(qctx, adb, cmdArgs...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

func (c *BridgeClient) getprop(ctx context.Context, adb, serial, prop string) string {
	return c.shell(ctx, adb, serial, "getprop", prop)
}

// parseResolution extracts the first WIDTHxHEIGHT pattern from `wm size`
// output ("Physical size: 1080x2340" -> "1080x2340").
func parseResolution(output string) string {
	return resolutionPattern.FindString(output)
}

// parseBatteryLevel extracts the charge percentage from `dumpsys battery`
// output, or nil when absent.
func parseBatteryLevel(output string) *int {
	m := batteryLevelPattern.FindStringSubmatch(output)
	if len(m) < 2 {
		return nil
	}
	level, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &level
}
