package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// AuthProvider signs outbound requests for a venue. Implementations must
// never log the secret key, the signature, or any bearer token — only
// SecurityLogger-style metadata (venue, endpoint, success/failure).
type AuthProvider interface {
	// Sign returns the signature for a canonicalized payload (typically
	// method+path+body or method+path+querystring, per venue convention).
	Sign(payload string) (string, error)
	// Headers returns the auth headers to attach to a signed request,
	// given the already-computed signature and the request timestamp.
	Headers(signature string, timestamp time.Time) map[string]string
}

// HMACAuthProvider implements the HMAC-SHA256-over-canonicalized-string
// scheme used by Binance-style venues, grounded on the teacher's
// exchanges/binance/helpers.go signRequest.
type HMACAuthProvider struct {
	apiKey    string
	apiSecret string

	mu              sync.Mutex
	serverTimeDelta time.Duration
	serverTimeAt    time.Time
	serverTimeTTL   time.Duration
}

// NewHMACAuthProvider constructs a provider. apiKey/apiSecret are expected
// to be resolved credential handles, not raw secrets read from disk here —
// credential storage mechanics are a collaborator's responsibility.
func NewHMACAuthProvider(apiKey, apiSecret string) *HMACAuthProvider {
	return &HMACAuthProvider{apiKey: apiKey, apiSecret: apiSecret, serverTimeTTL: time.Minute}
}

func (p *HMACAuthProvider) Sign(payload string) (string, error) {
	mac := hmac.New(sha256.New, []byte(p.apiSecret))
	if _, err := mac.Write([]byte(payload)); err != nil {
		return "", fmt.Errorf("hmac write: %w", err)
	}
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (p *HMACAuthProvider) Headers(signature string, timestamp time.Time) map[string]string {
	return map[string]string{
		"X-API-KEY":   p.apiKey,
		"X-SIGNATURE": signature,
		"X-TIMESTAMP": fmt.Sprintf("%d", timestamp.UnixMilli()),
	}
}

// AdjustedNow returns the local clock corrected by the last known
// server-time drift recorded by SyncServerTime. Nothing in this repository
// calls SyncServerTime, so unless a caller does so within serverTimeTTL,
// AdjustedNow returns the plain local clock.
func (p *HMACAuthProvider) AdjustedNow() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.serverTimeAt) > p.serverTimeTTL {
		return time.Now()
	}
	return time.Now().Add(p.serverTimeDelta)
}

// SyncServerTime records the drift between the venue's reported server
// time and the local clock.
func (p *HMACAuthProvider) SyncServerTime(serverTime time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serverTimeDelta = serverTime.Sub(time.Now())
	p.serverTimeAt = time.Now()
}

// BearerAuthProvider implements a static bearer token scheme for venues
// that don't use request signing.
type BearerAuthProvider struct {
	token string
}

func NewBearerAuthProvider(token string) *BearerAuthProvider {
	return &BearerAuthProvider{token: token}
}

func (p *BearerAuthProvider) Sign(payload string) (string, error) { return "", nil }

func (p *BearerAuthProvider) Headers(signature string, timestamp time.Time) map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.token}
}
