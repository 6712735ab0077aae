package session

import (
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"
)

// defaultTeaKey is the all-zero key used for unencrypted/WtLoginSt frames.
var defaultTeaKey = make([]byte, 16)

const (
	seqResetFloor = 20000
	seqResetSpan  = 70000 // next_seq draws from [20000, 90000)
	seqWrapAt     = 8_000_000
)

// Session owns one account's identity, device, protocol, ticket set and
// sequence counter. It is shared by the encoder, decoder, supervisor and
// external callers; reads take the RWMutex's read side, and the rare
// ticket mutation (performed by the out-of-scope login/refresh
// collaborator) takes the write side. The sequence counter is updated
// without the lock, via atomics, since it changes on every send.
type Session struct {
	mtx sync.RWMutex

	Uin      uint64
	Uid      string
	Device   Device
	Protocol Protocol

	tickets map[TicketID]Ticket

	MsgCookie [4]byte
	Ksid      [16]byte
	Guid      [16]byte
	isOnline  bool

	ssoSeq atomic.Uint32

	LastGrpMsgTime atomic.Uint64
	LastC2CMsgTime atomic.Uint64
}

// New constructs a Session with a fresh random msg_cookie and an initial
// sequence counter drawn from [20000, 90000).
func New(uin uint64, uid string, device Device, protocol Protocol, ksid, guid [16]byte) (*Session, error) {
	s := &Session{
		Uin:      uin,
		Uid:      uid,
		Device:   device,
		Protocol: protocol,
		tickets:  make(map[TicketID]Ticket),
		Ksid:     ksid,
		Guid:     guid,
	}
	if _, err := rand.Read(s.MsgCookie[:]); err != nil {
		return nil, err
	}
	seed, err := randSeq()
	if err != nil {
		return nil, err
	}
	s.ssoSeq.Store(seed)
	return s, nil
}

func randSeq() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(seqResetSpan))
	if err != nil {
		return 0, err
	}
	return uint32(n.Int64()) + seqResetFloor, nil
}

// SetOnline marks whether the session is online; IsOnline only ever
// reports true when a D2 ticket is also present.
func (s *Session) SetOnline(online bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.isOnline = online
}

// --- ticket store ---

// InsertTicket adds or replaces a ticket, keyed by its ID.
func (s *Session) InsertTicket(t Ticket) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.tickets[t.ID] = t
}

// GetTicket returns the ticket for id, if present.
func (s *Session) GetTicket(id TicketID) (Ticket, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	t, ok := s.tickets[id]
	return t, ok
}

// RemoveTicket deletes the ticket for id, returning it if it existed.
func (s *Session) RemoveTicket(id TicketID) (Ticket, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	t, ok := s.tickets[id]
	delete(s.tickets, id)
	return t, ok
}

// ContainsTicket reports whether a ticket for id is present.
func (s *Session) ContainsTicket(id TicketID) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	_, ok := s.tickets[id]
	return ok
}

// IsExpired treats a missing ticket as expired and expire_time==0 as
// never-expiring.
func (s *Session) IsExpired(id TicketID) bool {
	s.mtx.RLock()
	t, ok := s.tickets[id]
	s.mtx.RUnlock()
	if !ok {
		return true
	}
	return t.Expired(time.Now())
}

// IsLogin reports whether a D2 ticket is present.
func (s *Session) IsLogin() bool {
	return s.ContainsTicket(TicketD2)
}

// IsOnline reports IsLogin() && the online flag.
func (s *Session) IsOnline() bool {
	s.mtx.RLock()
	online := s.isOnline
	s.mtx.RUnlock()
	return online && s.IsLogin()
}

// SessionKey returns the TEA key used to encrypt a frame body for the
// given command class: the all-zero default for WtLoginSt, otherwise the
// D2 ticket's signing key (falling back to default if D2 is absent).
func (s *Session) SessionKey(ct CommandType) []byte {
	if ct == WtLoginSt {
		return defaultTeaKey
	}
	if d2, ok := s.GetTicket(TicketD2); ok {
		return d2.SigKey
	}
	return defaultTeaKey
}

// DefaultKey returns the sixteen-zero-byte key used for plaintext /
// default-encrypted frames.
func DefaultKey() []byte {
	return defaultTeaKey
}

// NextSeq atomically allocates the next sequence number. Once the counter
// exceeds 8,000,000 it is reset, via compare-and-swap, to a fresh random
// value in [20000, 90000); the CAS ensures the reset happens at most once
// per threshold crossing even when many goroutines call NextSeq
// concurrently (spec.md §9's implementer option, chosen over an
// unconditional store).
func (s *Session) NextSeq() uint32 {
	for {
		cur := s.ssoSeq.Load()
		if cur > seqWrapAt {
			fresh, err := randSeq()
			if err != nil {
				// crypto/rand failure is not expected in practice; fall
				// back to the floor of the reset range rather than
				// panicking a hot path.
				fresh = seqResetFloor
			}
			if s.ssoSeq.CompareAndSwap(cur, fresh+1) {
				return fresh
			}
			continue
		}
		if s.ssoSeq.CompareAndSwap(cur, cur+1) {
			return cur
		}
	}
}
