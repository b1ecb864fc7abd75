package request

import (
	"math/rand/v2"
	"net/http"
	"strings"
)

const (
	FamilyChrome  = "chrome"
	FamilyFirefox = "firefox"
	FamilySafari  = "safari"
	FamilyEdge    = "edge"
	FamilyUnknown = "unknown"
)

// Profile is the client-hint header set for one browser family.
type Profile struct {
	Family          string
	SecChUa         string
	SecChUaMobile   string
	SecChUaPlatform string
}

var (
	chromeProfile = Profile{
		Family:          FamilyChrome,
		SecChUa:         `"Not)A;Brand";v="8", "Chromium";v="121", "Google Chrome";v="121"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	}
	firefoxProfile = Profile{
		Family:          FamilyFirefox,
		SecChUa:         `"Not_A Brand";v="8", "Firefox";v="122"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	}
	safariProfile = Profile{
		Family:          FamilySafari,
		SecChUa:         `"Not_A Brand";v="8", "Safari";v="17"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"macOS"`,
	}
	edgeProfile = Profile{
		Family:          FamilyEdge,
		SecChUa:         `"Not)A;Brand";v="8", "Chromium";v="121", "Microsoft Edge";v="121"`,
		SecChUaMobile:   "?0",
		SecChUaPlatform: `"Windows"`,
	}
)

// ProfileFor picks a profile by case-sensitive substring checks on the agent.
// Order matters: Chrome, then Firefox, then Safari (only when "Chrome" is
// absent), then Edge. Chromium-based Edge agents therefore get Chrome hints.
// Unrecognized agents get an empty profile.
func ProfileFor(userAgent string) Profile {
	isChrome := strings.Contains(userAgent, "Chrome")
	switch {
	case isChrome:
		return chromeProfile
	case strings.Contains(userAgent, "Firefox"):
		return firefoxProfile
	case strings.Contains(userAgent, "Safari"):
		return safariProfile
	case strings.Contains(userAgent, "Edge"):
		return edgeProfile
	default:
		return Profile{Family: FamilyUnknown}
	}
}

func (p Profile) apply(h http.Header) {
	if p.SecChUa == "" {
		return
	}
	h.Set("Sec-Ch-Ua", p.SecChUa)
	h.Set("Sec-Ch-Ua-Mobile", p.SecChUaMobile)
	h.Set("Sec-Ch-Ua-Platform", p.SecChUaPlatform)
}

// Fingerprint is the navigator/screen surface a real browser of this family
// would expose. It is logged for diagnosis; no header carries it.
type Fingerprint struct {
	ScreenWidth         int    `json:"screenWidth"`
	ScreenHeight        int    `json:"screenHeight"`
	ColorDepth          int    `json:"colorDepth"`
	Timezone            string `json:"timezone"`
	Language            string `json:"language"`
	Platform            string `json:"platform"`
	Vendor              string `json:"vendor"`
	HardwareConcurrency int    `json:"hardwareConcurrency"`
	DoNotTrack          string `json:"doNotTrack"`
}

func NewFingerprint(userAgent string, rnd *rand.Rand) Fingerprint {
	isChrome := strings.Contains(userAgent, "Chrome")
	isFirefox := strings.Contains(userAgent, "Firefox")
	isSafari := strings.Contains(userAgent, "Safari") && !isChrome
	isEdge := strings.Contains(userAgent, "Edge")

	fp := Fingerprint{
		ScreenWidth:         1200 + rnd.IntN(800),
		ScreenHeight:        800 + rnd.IntN(600),
		ColorDepth:          24,
		Timezone:            "Asia/Kolkata",
		Language:            "en-US",
		HardwareConcurrency: 4 + rnd.IntN(8),
		DoNotTrack:          "1",
	}

	switch {
	case isChrome || isEdge:
		fp.Platform = "Win32"
	case isSafari:
		fp.Platform = "MacIntel"
	default:
		fp.Platform = "Linux x86_64"
	}

	switch {
	case isChrome:
		fp.Vendor = "Google Inc."
	case isFirefox:
		fp.Vendor = ""
	case isSafari:
		fp.Vendor = "Apple Computer, Inc."
	default:
		fp.Vendor = "Microsoft Corporation"
	}
	return fp
}

// Fingerprint draws a fingerprint from the builder's random source.
func (b *Builder) Fingerprint(userAgent string) Fingerprint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return NewFingerprint(userAgent, b.rnd)
}
