package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ========================================
// Update check - remote version endpoint
// ========================================

const (
	updateEndpoint = "https://tvini.io/ar/adb_update"
	updateTimeout  = 5 * time.Second

	// Responses larger than this are not version metadata.
	maxUpdateBodySize = 1 << 20
)

// UpdateMetadata describes a newer release advertised by the endpoint.
type UpdateMetadata struct {
	Latest string `json:"latest"`
	Note   string `json:"note"`
	URL    string `json:"url"`
}

// CheckForUpdate fetches version metadata from endpoint and returns it when
// the advertised version is strictly newer than current. Any failure (network,
// bad status, malformed body) returns nil; the check is best effort and never
// surfaces an error to the caller.
func CheckForUpdate(ctx context.Context, endpoint, current string) *UpdateMetadata {
	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		LogWarn("update").Err(err).Msg("Update check request build failed")
		return nil
	}
	req.Header.Set("User-Agent", "Glimpse/"+current)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		LogWarn("update").Err(err).Msg("Update check failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		LogWarn("update").Int("status", resp.StatusCode).Msg("Update endpoint returned non-OK status")
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpdateBodySize))
	if err != nil {
		LogWarn("update").Err(err).Msg("Update check body read failed")
		return nil
	}
	if !gjson.ValidBytes(body) {
		LogWarn("update").Msg("Update endpoint returned invalid JSON")
		return nil
	}

	latest := gjson.GetBytes(body, "latest").String()
	if latest == "" {
		return nil
	}
	if compareVersions(latest, current) <= 0 {
		LogDebug("update").Str("latest", latest).Str("current", current).Msg("Already up to date")
		return nil
	}

	meta := &UpdateMetadata{
		Latest: latest,
		Note:   gjson.GetBytes(body, "note").String(),
		URL:    gjson.GetBytes(body, "url").String(),
	}
	LogInfo("update").Str("latest", latest).Str("current", current).Msg("Update available")
	return meta
}

// parseVersion splits a dotted version string into numeric components. A
// string with any non-numeric component parses as the zero version.
func parseVersion(v string) []int {
	parts := strings.Split(strings.TrimSpace(v), ".")
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return []int{0}
		}
		nums[i] = n
	}
	return nums
}

// compareVersions compares dotted versions componentwise, padding the shorter
// with zeros. Returns -1, 0 or 1.
func compareVersions(a, b string) int {
	av, bv := parseVersion(a), parseVersion(b)
	n := len(av)
	if len(bv) > n {
		n = len(bv)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(av) {
			x = av[i]
		}
		if i < len(bv) {
			y = bv[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// FormatUpdateNotice renders a one-line human readable notice for a release.
func FormatUpdateNotice(meta *UpdateMetadata) string {
	if meta == nil {
		return ""
	}
	if meta.Note != "" {
		return fmt.Sprintf("Version %s available: %s", meta.Latest, meta.Note)
	}
	return fmt.Sprintf("Version %s available", meta.Latest)
}
