package fingerprint

import (
	"strings"

	"intralink/internal/domain"
)

type Version struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Info is the human-readable device summary shown in session listings. It
// plays no part in identity.
type Info struct {
	Name     string            `json:"name"`
	Browser  Version           `json:"browser"`
	OS       Version           `json:"os"`
	Device   string            `json:"device"`
	Type     domain.DeviceType `json:"type"`
	IsMobile bool              `json:"isMobile"`
	IsTablet bool              `json:"isTablet"`
	IsPC     bool              `json:"isPc"`
	IsBot    bool              `json:"isBot"`
	IP       string            `json:"ip,omitempty"`
}

func DeviceInfo(userAgent, ip string) Info {
	p := parse(userAgent)
	info := Info{
		Browser:  Version{Name: p.browser, Version: p.browserVersion},
		OS:       Version{Name: p.os, Version: p.osVersion},
		Device:   p.device,
		Type:     deviceType(p, userAgent),
		IsMobile: p.mobile,
		IsTablet: p.tablet,
		IsPC:     p.pc,
		IsBot:    p.bot,
		IP:       ip,
	}
	info.Name = displayName(p)
	return info
}

// displayName renders "<device> - <browser> on <os>", leaving out unknown parts.
func displayName(p parsed) string {
	var b strings.Builder
	if p.device != other {
		b.WriteString(p.device)
	}
	if p.browser != other {
		if b.Len() > 0 {
			b.WriteString(" - ")
		}
		b.WriteString(p.browser)
	}
	if p.os != other {
		if b.Len() > 0 {
			b.WriteString(" on ")
		}
		b.WriteString(p.os)
	}
	if b.Len() == 0 {
		return "Unknown device"
	}
	return b.String()
}
