// Package request dresses a target URL as a browser navigation: spoofed
// headers chosen from the user agent, synthesized cookies and cache-busting
// query parameters.
package request

import (
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"stock-analysis-fetcher/internal/types"
)

const (
	navigationAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	acceptLanguage   = "en-US,en;q=0.9,en-GB;q=0.8"
	acceptEncoding   = "gzip, deflate, br"

	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
	cacheTokenLen = 6
	csrfTokenLen  = 13
)

// Input is everything one HTTP attempt needs.
type Input struct {
	URL         string
	BaseHeaders map[string]string
	Identity    types.Identity
	UserAgent   string
	Referer     string
	Retry       bool
}

// Prepared is the fully dressed header and query set for one attempt.
type Prepared struct {
	Header  http.Header
	Query   url.Values
	Cookies map[string]string
	Profile Profile
}

// Builder is safe for concurrent use.
type Builder struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

type Option func(*Builder)

// WithRand fixes the random source, mainly for tests.
func WithRand(rnd *rand.Rand) Option {
	return func(b *Builder) {
		b.rnd = rnd
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build merges the endpoint headers with browser headers for in.UserAgent.
// Browser headers take precedence over endpoint headers of the same name.
func (b *Builder) Build(in Input) Prepared {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	profile := ProfileFor(in.UserAgent)

	h := make(http.Header, len(in.BaseHeaders)+20)
	for k, v := range in.BaseHeaders {
		h.Set(k, v)
	}

	h.Set("User-Agent", in.UserAgent)
	h.Set("Referer", in.Referer)
	h.Set("Accept", navigationAccept)
	h.Set("Accept-Language", acceptLanguage)
	h.Set("Accept-Encoding", acceptEncoding)
	h.Set("DNT", "1")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "cross-site")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	h.Set("Pragma", "no-cache")
	profile.apply(h)

	cookies := map[string]string{
		"sessionid": in.Identity.SessionID,
		"device_id": in.Identity.DeviceID,
		"csrftoken": b.token(csrfTokenLen),
		"timestamp": ts,
	}
	h.Set("Cookie", CookieHeader(cookies))

	q := url.Values{}
	q.Set("_", ts)
	q.Set("v", b.token(cacheTokenLen))
	q.Set("t", b.token(cacheTokenLen))
	q.Set("cache", b.token(cacheTokenLen))
	if in.Retry {
		q.Set("retry", "1")
	}

	return Prepared{Header: h, Query: q, Cookies: cookies, Profile: profile}
}

// Serialization order for the synthesized cookies.
var cookieOrder = []string{"sessionid", "device_id", "csrftoken", "timestamp"}

// CookieHeader serializes cookies as "k=v; k=v". Known keys come first in a
// fixed order, any others follow sorted.
func CookieHeader(cookies map[string]string) string {
	parts := make([]string, 0, len(cookies))
	seen := make(map[string]bool, len(cookieOrder))
	for _, k := range cookieOrder {
		if v, ok := cookies[k]; ok {
			parts = append(parts, k+"="+v)
			seen[k] = true
		}
	}
	var rest []string
	for k := range cookies {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	for _, k := range rest {
		parts = append(parts, k+"="+cookies[k])
	}
	return strings.Join(parts, "; ")
}

// token returns n random base36 characters. Caller holds b.mu.
func (b *Builder) token(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(alphabet[b.rnd.IntN(len(alphabet))])
	}
	return sb.String()
}
