package signer

import "testing"

func TestMemoryWhitelist(t *testing.T) {
	m := NewMemory([]byte("secret"), "StatSvc.register")
	if !m.IsWhitelistCommand("StatSvc.register") {
		t.Fatal("expected StatSvc.register to be whitelisted")
	}
	if m.IsWhitelistCommand("MessageSvc.PbSendMsg") {
		t.Fatal("did not expect MessageSvc.PbSendMsg to be whitelisted")
	}
}

func TestMemorySignDeterministic(t *testing.T) {
	m := NewMemory([]byte("secret"), "StatSvc.register")
	r1, err := m.Sign("10000", "StatSvc.register", []byte("body"), 1)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := m.Sign("10000", "StatSvc.register", []byte("body"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if r1.Empty() {
		t.Fatal("expected a non-empty signature")
	}
	if string(r1.Sign) != string(r2.Sign) {
		t.Fatal("signing the same inputs twice must be deterministic")
	}

	r3, err := m.Sign("10000", "StatSvc.register", []byte("body"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(r1.Sign) == string(r3.Sign) {
		t.Fatal("a different seq must change the signature")
	}
}

func TestMemorySignFailsWhenUnhealthy(t *testing.T) {
	m := NewMemory([]byte("secret"), "StatSvc.register")
	m.SetHealthy(false)
	r, err := m.Sign("10000", "StatSvc.register", []byte("body"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Empty() {
		t.Fatal("expected an empty Result when the signer is unhealthy")
	}
}

func TestMemoryPingTracksCalls(t *testing.T) {
	m := NewMemory(nil)
	for i := 0; i < 5; i++ {
		if !m.Ping() {
			t.Fatal("expected Ping to report healthy by default")
		}
	}
	if m.Calls() != 5 {
		t.Fatalf("expected 5 recorded calls, got %d", m.Calls())
	}
}
