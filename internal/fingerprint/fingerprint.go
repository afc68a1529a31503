// Package fingerprint derives a stable device identifier and a display
// descriptor from request metadata.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"intralink/internal/domain"

	"github.com/mssola/useragent"
)

const (
	// IDLength is the number of hex characters kept from the digest.
	IDLength             = 32
	acceptLanguageLength = 10
	DefaultThreshold     = 0.8
	other                = "Other"
)

// coarseKeys are compared by Similar and persisted with a session as traits.
var coarseKeys = []string{"browser_family", "os_family", "device_family", "is_mobile", "is_tablet", "is_pc"}

// Attributes is the normalized attribute set a device id is derived from.
type Attributes map[string]any

// ClientAttributes are values reported by the client itself. Nil or empty
// fields are left out of the fingerprint.
type ClientAttributes struct {
	ScreenWidth  *int     `json:"screen_width,omitempty"`
	ScreenHeight *int     `json:"screen_height,omitempty"`
	Timezone     string   `json:"timezone,omitempty"`
	ColorDepth   *int     `json:"color_depth,omitempty"`
	PixelRatio   *float64 `json:"pixel_ratio,omitempty"`
}

type parsed struct {
	browser, browserVersion string
	os, osVersion           string
	device                  string
	mobile, tablet, pc, bot bool
}

func parse(userAgent string) parsed {
	var p parsed
	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	p.browser = orOther(name)
	p.browserVersion = majorMinor(version)
	info := ua.OSInfo()
	p.os = orOther(info.Name)
	p.osVersion = info.Version
	p.device = deviceFamily(ua.Platform())
	p.bot = ua.Bot()

	lower := strings.ToLower(userAgent)
	switch {
	case userAgent == "":
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") ||
		(strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")):
		p.tablet = true
	case ua.Mobile() || containsAny(lower, "mobile", "iphone", "ipod", "android", "blackberry", "windows phone"):
		p.mobile = true
	default:
		p.pc = true
	}
	return p
}

// Fingerprint returns the device id for the given request metadata along with
// the attribute set it was computed from. It has no side effects: identical
// input always yields the identical id, and an empty user agent still
// produces a (low-entropy) id.
func Fingerprint(userAgent, acceptLanguage string, client ClientAttributes) (string, Attributes) {
	p := parse(userAgent)
	attrs := Attributes{
		"browser_family":  p.browser,
		"browser_version": p.browserVersion,
		"os_family":       p.os,
		"os_version":      p.osVersion,
		"device_family":   p.device,
		"is_mobile":       p.mobile,
		"is_tablet":       p.tablet,
		"is_pc":           p.pc,
		"accept_language": prefix(acceptLanguage, acceptLanguageLength),
	}
	if client.ScreenWidth != nil {
		attrs["screen_width"] = *client.ScreenWidth
	}
	if client.ScreenHeight != nil {
		attrs["screen_height"] = *client.ScreenHeight
	}
	if tz := strings.TrimSpace(client.Timezone); tz != "" {
		attrs["timezone"] = tz
	}
	if client.ColorDepth != nil {
		attrs["color_depth"] = *client.ColorDepth
	}
	if client.PixelRatio != nil {
		attrs["pixel_ratio"] = *client.PixelRatio
	}
	return ID(attrs), attrs
}

// ID hashes the canonical serialization of attrs. encoding/json writes map
// keys in sorted order, which makes the serialization canonical.
func ID(attrs Attributes) string {
	b, err := json.Marshal(attrs)
	if err != nil {
		// attrs only ever holds strings, bools and numbers
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:IDLength]
}

// Traits returns the coarse subset of attrs that Similar compares.
func Traits(attrs Attributes) Attributes {
	out := make(Attributes, len(coarseKeys))
	for _, k := range coarseKeys {
		if v, ok := attrs[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Similar reports whether at least threshold of the coarse attributes agree.
// It is an auxiliary signal only and never establishes identity.
func Similar(a, b Attributes, threshold float64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	matches := 0
	for _, k := range coarseKeys {
		av, aok := a[k]
		bv, bok := b[k]
		if aok && bok && av == bv {
			matches++
		}
	}
	return float64(matches)/float64(len(coarseKeys)) >= threshold
}

func deviceFamily(platform string) string {
	switch platform {
	case "iPhone", "iPad", "iPod", "iPod touch":
		return platform
	case "Macintosh":
		return "Mac"
	case "BlackBerry":
		return platform
	}
	return other
}

func majorMinor(version string) string {
	if version == "" {
		return ""
	}
	parts := strings.SplitN(version, ".", 3)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

func orOther(s string) string {
	if strings.TrimSpace(s) == "" {
		return other
	}
	return s
}

func prefix(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func deviceType(p parsed, userAgent string) domain.DeviceType {
	switch {
	case userAgent == "":
		return domain.DeviceUnknown
	case p.tablet:
		return domain.DeviceTablet
	case p.mobile:
		return domain.DeviceMobile
	}
	return domain.DeviceDesktop
}
