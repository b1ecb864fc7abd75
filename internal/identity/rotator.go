// Package identity holds the synthetic browser identity presented to the
// target site: a session/device token pair plus independent cyclic cursors
// over user-agent and referer catalogues.
package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"stock-analysis-fetcher/internal/types"
)

// TokenSource mints opaque token material. Tests inject deterministic sources.
type TokenSource func() string

// Rotator is safe for concurrent use. Rotation replaces the session/device
// pair but never resets the user-agent or referer cursors.
type Rotator struct {
	mu         sync.Mutex
	userAgents []string
	referers   []string
	uaCursor   int
	refCursor  int
	sessionID  string
	deviceID   string
	rotations  int
	newToken   TokenSource
}

type Option func(*Rotator)

// WithTokenSource replaces the uuid-backed token generator.
func WithTokenSource(src TokenSource) Option {
	return func(r *Rotator) {
		r.newToken = src
	}
}

func NewRotator(userAgents, referers []string, opts ...Option) *Rotator {
	r := &Rotator{
		userAgents: append([]string(nil), userAgents...),
		referers:   append([]string(nil), referers...),
		newToken:   uuidToken,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sessionID = "session_" + r.newToken()
	r.deviceID = "device_" + r.newToken()
	return r
}

func uuidToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Current returns the active identity without side effects.
func (r *Rotator) Current() types.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Rotator) snapshot() types.Identity {
	return types.Identity{
		SessionID:      r.sessionID,
		DeviceID:       r.deviceID,
		UserAgentIndex: r.uaCursor,
		RefererIndex:   r.refCursor,
	}
}

// Rotate discards the active session/device pair and mints a new one.
func (r *Rotator) Rotate() types.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = "session_" + r.newToken()
	r.deviceID = "device_" + r.newToken()
	r.rotations++
	return r.snapshot()
}

// Rotations reports how many times Rotate has been called.
func (r *Rotator) Rotations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotations
}

// NextUserAgent returns the agent under the cursor and advances it.
func (r *Rotator) NextUserAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.userAgents) == 0 {
		return ""
	}
	ua := r.userAgents[r.uaCursor%len(r.userAgents)]
	r.uaCursor++
	return ua
}

// NextReferer returns the referer under the cursor and advances it.
func (r *Rotator) NextReferer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.referers) == 0 {
		return ""
	}
	ref := r.referers[r.refCursor%len(r.referers)]
	r.refCursor++
	return ref
}
