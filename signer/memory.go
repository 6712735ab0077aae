package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"sync"
)

// Memory is an in-memory Signer double for tests and for development
// against a core that has no signing-service deployment available. It
// signs whitelisted commands deterministically from a fixed secret so
// round-trip tests can assert on the produced bytes.
type Memory struct {
	mtx       sync.RWMutex
	secret    []byte
	whitelist map[string]bool
	healthy   bool
	calls     int
}

// NewMemory returns a Memory signer seeded with secret and the given
// whitelisted command names. It reports healthy (Ping returns true) by
// default.
func NewMemory(secret []byte, whitelist ...string) *Memory {
	wl := make(map[string]bool, len(whitelist))
	for _, c := range whitelist {
		wl[c] = true
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Memory{secret: s, whitelist: wl, healthy: true}
}

// SetHealthy controls the value Ping reports.
func (m *Memory) SetHealthy(healthy bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.healthy = healthy
}

// Ping implements Signer.
func (m *Memory) Ping() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	m.calls++
	return m.healthy
}

// Calls reports how many times Ping has been invoked.
func (m *Memory) Calls() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.calls
}

// IsWhitelistCommand implements Signer.
func (m *Memory) IsWhitelistCommand(cmd string) bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.whitelist[cmd]
}

// Sign implements Signer: an HMAC-SHA256 over uin|cmd|buffer|seq keyed by
// the configured secret, standing in for the real signing service's
// opaque output. Non-whitelisted commands still sign if asked directly;
// callers are expected to consult IsWhitelistCommand first per spec.
func (m *Memory) Sign(uin, cmd string, buffer []byte, seq uint32) (Result, error) {
	m.mtx.RLock()
	secret := m.secret
	m.mtx.RUnlock()
	if !m.healthy {
		return Result{}, nil
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(uin))
	mac.Write([]byte{0})
	mac.Write([]byte(cmd))
	mac.Write([]byte{0})
	mac.Write(buffer)
	mac.Write([]byte{
		byte(seq >> 24), byte(seq >> 16), byte(seq >> 8), byte(seq),
	})
	sum := mac.Sum(nil)
	return Result{
		Sign:  sum,
		Token: []byte(uin),
		Extra: []byte(cmd),
	}, nil
}

// Energy implements Signer's reserved transform as an HMAC over data
// keyed by salt, matching the shape (keyed digest of opaque input) of
// the real energy computation without depending on its undisclosed
// algorithm.
func (m *Memory) Energy(data string, salt []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
