package session

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func testDevice() Device {
	return NewDevice(
		"0123456789abcdef",
		strings.Repeat("a", 36),
		"Pixel 9", "Google", "P9", "Android", "15", "AndroidOS",
		[]byte{0xDE, 0xAD, 0xBE, 0xEF},
	)
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(10000, "u_aaa", testDevice(), Protocol{AppID: 1, Detail: "d", NtBuildVersion: "1"}, [16]byte{1}, [16]byte{2})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSessionKeyDefaults(t *testing.T) {
	s := newTestSession(t)
	if !bytes.Equal(s.SessionKey(WtLoginSt), DefaultKey()) {
		t.Fatal("WtLoginSt must always use the default key")
	}
	if !bytes.Equal(s.SessionKey(Service), DefaultKey()) {
		t.Fatal("Service without a D2 ticket must fall back to the default key")
	}

	sigKey := bytes.Repeat([]byte{0x01}, 16)
	s.InsertTicket(Ticket{ID: TicketD2, SigKey: sigKey, CreateTime: time.Now()})
	if !bytes.Equal(s.SessionKey(Service), sigKey) {
		t.Fatal("Service with a D2 ticket must use D2's sig_key")
	}
}

func TestIsOnlineRequiresD2(t *testing.T) {
	s := newTestSession(t)
	s.SetOnline(true)
	if s.IsOnline() {
		t.Fatal("IsOnline must be false without a D2 ticket even if the online flag is set")
	}
	s.InsertTicket(Ticket{ID: TicketD2, SigKey: make([]byte, 16), CreateTime: time.Now()})
	if !s.IsOnline() {
		t.Fatal("IsOnline must be true once D2 is present and the flag is set")
	}
}

func TestIsExpired(t *testing.T) {
	s := newTestSession(t)
	if !s.IsExpired(TicketST) {
		t.Fatal("a missing ticket must report expired")
	}
	s.InsertTicket(Ticket{ID: TicketST, CreateTime: time.Now(), ExpireTime: 0})
	if s.IsExpired(TicketST) {
		t.Fatal("expire_time == 0 must mean never-expiring")
	}
	s.InsertTicket(Ticket{ID: TicketST, CreateTime: time.Now().Add(-time.Hour), ExpireTime: time.Minute})
	if !s.IsExpired(TicketST) {
		t.Fatal("a ticket past its relative expiry must report expired")
	}
}

func TestNextSeqMonotonic(t *testing.T) {
	s := newTestSession(t)
	a := s.NextSeq()
	b := s.NextSeq()
	if b != a+1 {
		t.Fatalf("expected strictly increasing sequence, got %d then %d", a, b)
	}
}

func TestNextSeqConcurrentDistinct(t *testing.T) {
	s := newTestSession(t)
	s.ssoSeq.Store(7_999_999)

	const n = 16
	results := make([]uint32, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = s.NextSeq()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]bool, n)
	for _, v := range results {
		if seen[v] {
			t.Fatalf("duplicate sequence value %d returned to two callers", v)
		}
		seen[v] = true
	}

	next := s.NextSeq()
	if next < seqResetFloor || next >= seqResetFloor+seqResetSpan {
		t.Fatalf("expected reset value in [%d, %d), got %d", seqResetFloor, seqResetFloor+seqResetSpan, next)
	}
}

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	s := newTestSession(t)
	s.InsertTicket(Ticket{
		ID:         TicketD2,
		Sig:        []byte{0xAA, 0xBB},
		SigKey:     bytes.Repeat([]byte{0x01}, 16),
		CreateTime: time.Unix(1_700_000_000, 0),
		ExpireTime: 3600 * time.Second,
	})
	s.InsertTicket(Ticket{
		ID:         TicketA2,
		SigKey:     bytes.Repeat([]byte{0x02}, 16),
		CreateTime: time.Unix(1_700_000_000, 0),
		ExpireTime: 0,
	})

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSession(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Uin != s.Uin || loaded.Uid != s.Uid {
		t.Fatal("identity did not round-trip")
	}
	d2, ok := loaded.GetTicket(TicketD2)
	if !ok {
		t.Fatal("D2 ticket missing after round trip")
	}
	if !bytes.Equal(d2.SigKey, bytes.Repeat([]byte{0x01}, 16)) {
		t.Fatal("D2 sig_key did not round-trip")
	}
	if d2.ExpireTime != 3600*time.Second {
		t.Fatalf("expected relative expiry of 1h, got %s", d2.ExpireTime)
	}
	a2, ok := loaded.GetTicket(TicketA2)
	if !ok {
		t.Fatal("A2 ticket missing after round trip")
	}
	if a2.ExpireTime != 0 {
		t.Fatal("expire_time == 0 must stay non-expiring across round trip")
	}
	if !loaded.IsLogin() {
		t.Fatal("loaded session with a D2 ticket must report IsLogin")
	}
}
