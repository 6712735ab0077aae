package sso

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inmesdev/ntrim-core/config"
	"github.com/inmesdev/ntrim-core/dispatch"
	"github.com/inmesdev/ntrim-core/log"
	"github.com/inmesdev/ntrim-core/session"
	"github.com/inmesdev/ntrim-core/signer"
	"github.com/inmesdev/ntrim-core/transport"
	"github.com/inmesdev/ntrim-core/wire"
)

// ConnectionLostCommand is the sentinel dispatch.Msg.Command used to
// signal every outstanding oneshot waiter when the connection is lost or
// the supervisor disconnects.
const ConnectionLostCommand = "__connection_lost__"

// Supervisor owns the connection, session, dispatcher and signer, and
// drives the encoder/decoder/reconnect/sign-ping background tasks
// described in spec.md §4.6.
type Supervisor struct {
	conn   *transport.Connection
	sess   *session.Session
	disp   *dispatch.Dispatcher
	sign   signer.Signer
	cfg    config.Config
	logger *log.Logger

	outbound chan ToServiceMsg

	pauseMtx  sync.Mutex
	pauseCond *sync.Cond
	paused    bool

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSupervisor constructs a Supervisor. logger may be nil, in which case
// logging is discarded.
func NewSupervisor(conn *transport.Connection, sess *session.Session, disp *dispatch.Dispatcher, sgn signer.Signer, cfg config.Config, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Discard()
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultSendQueueSize
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = config.DefaultReconnectInterval
	}
	s := &Supervisor{
		conn:     conn,
		sess:     sess,
		disp:     disp,
		sign:     sgn,
		cfg:      cfg,
		logger:   logger,
		outbound: make(chan ToServiceMsg, queueSize),
	}
	s.pauseCond = sync.NewCond(&s.pauseMtx)
	return s
}

// Start launches the background tasks (encoder, decoder, sign-ping, and
// auto-reconnect if enabled) under a single errgroup bound to ctx.
func (s *Supervisor) Start(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	s.ctx = gctx
	s.cancel = cancel

	g, inner := errgroup.WithContext(gctx)
	s.group = g
	g.Go(func() error { return s.encodeLoop(inner) })
	g.Go(func() error { return s.decodeLoop(inner) })
	g.Go(func() error { return s.signPingLoop(inner) })
	if s.cfg.AutoReconnect {
		g.Go(func() error { return s.reconnectLoop(inner) })
	}
}

// Wait blocks until every background task has exited.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}

// Disconnect cancels the background tasks, closes the send channel,
// closes the socket, and signals every pending oneshot waiter with a
// connection-lost message.
func (s *Supervisor) Disconnect() {
	s.cancel()
	close(s.outbound)
	s.conn.Disconnect()
	s.disp.ClearOneshot(dispatch.Msg{Command: ConnectionLostCommand, Seq: -1})
}

// Pause suspends outbound sending; in-flight requests are not dropped.
func (s *Supervisor) Pause() {
	s.pauseMtx.Lock()
	s.paused = true
	s.pauseMtx.Unlock()
}

// Resume releases callers blocked in SendUniPacket/SendUniPacketWithSeq.
func (s *Supervisor) Resume() {
	s.pauseMtx.Lock()
	s.paused = false
	s.pauseMtx.Unlock()
	s.pauseCond.Broadcast()
}

func (s *Supervisor) waitWhilePaused() {
	s.pauseMtx.Lock()
	for s.paused {
		s.pauseCond.Wait()
	}
	s.pauseMtx.Unlock()
}

// SendUniPacket allocates a fresh sequence number via the session and
// sends p. It returns the allocated seq, a waiter for the eventual
// reply, and whether the send was accepted.
func (s *Supervisor) SendUniPacket(p UniPacket) (uint32, <-chan dispatch.Msg, bool) {
	seq := s.sess.NextSeq()
	waiter, ok := s.sendWithSeq(p, seq)
	return seq, waiter, ok
}

// SendUniPacketWithSeq sends p under a caller-supplied sequence number.
func (s *Supervisor) SendUniPacketWithSeq(p UniPacket, seq uint32) (<-chan dispatch.Msg, bool) {
	return s.sendWithSeq(p, seq)
}

func (s *Supervisor) sendWithSeq(p UniPacket, seq uint32) (<-chan dispatch.Msg, bool) {
	s.waitWhilePaused()

	if !s.conn.IsConnected() {
		return nil, false
	}

	msg := ToServiceMsg{UniPacket: p, Seq: seq}

	if s.sign != nil && s.sign.IsWhitelistCommand(p.Command) {
		uin := strconv.FormatUint(s.sess.Uin, 10)
		res, err := s.sign.Sign(uin, p.Command, p.WupBuffer, seq)
		if err != nil || res.Empty() {
			s.logger.Error("signer failed for %s (seq %d): %v", p.Command, seq, err)
			return nil, false
		}
		msg.Signed = res
	}

	switch p.CommandType {
	case session.Register:
		d2, okD2 := s.sess.GetTicket(session.TicketD2)
		a2, okA2 := s.sess.GetTicket(session.TicketA2)
		if !okD2 || !okA2 {
			s.logger.Error("Register requires both D2 and A2 tickets (seq %d)", seq)
			return nil, false
		}
		msg.FirstToken = d2.Sig
		msg.SecondToken = a2.Sig
	case session.Service, session.ExchangeSt, session.ExchangeSig:
		// tokens intentionally unset
	default:
		s.logger.Error("unexpected command type %s for %s (seq %d)", p.CommandType, p.Command, seq)
	}

	waiter, err := s.disp.RegisterOneshot(seq)
	if err != nil {
		s.logger.Error("%v", err)
		return nil, false
	}
	if !s.enqueue(msg) {
		s.disp.UnregisterOneshot(seq)
		return nil, false
	}
	return waiter, true
}

func (s *Supervisor) enqueue(msg ToServiceMsg) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	// Before Start there is no context yet; a nil done channel never fires,
	// so the send simply waits for queue space.
	var done <-chan struct{}
	if s.ctx != nil {
		done = s.ctx.Done()
	}
	select {
	case s.outbound <- msg:
		return true
	case <-done:
		return false
	}
}

func (s *Supervisor) encodeLoop(ctx context.Context) error {
	for {
		select {
		case msg, open := <-s.outbound:
			if !open {
				return nil
			}
			s.encodeAndSend(msg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) encodeAndSend(msg ToServiceMsg) {
	// Session.SessionKey takes the session's read lock itself. The other
	// session fields read below (identity, device, protocol, ksid, cookie)
	// are read without any lock; no lock is held across the whole encode.
	key := s.sess.SessionKey(msg.CommandType)
	params := wire.EncodeParams{
		CommandType:    msg.CommandType,
		Command:        msg.Command,
		WupBuffer:      msg.WupBuffer,
		Seq:            msg.Seq,
		FirstToken:     msg.FirstToken,
		SecondToken:    msg.SecondToken,
		Uin:            s.sess.Uin,
		AppID:          s.sess.Protocol.AppID,
		AndroidID:      s.sess.Device.AndroidID,
		Ksid:           s.sess.Ksid[:],
		MsgCookie:      s.sess.MsgCookie[:],
		ProtocolDetail: s.sess.Protocol.Detail,
		Key:            key,
		QqSecurity: wire.QqSecurityParams{
			Token: msg.Signed.Token,
			Sign:  msg.Signed.Sign,
			Extra: msg.Signed.Extra,
			Qimei: s.sess.Device.Qimei,
			Uid:   s.sess.Uid,
		},
	}

	frame, err := wire.EncodeFrame(params)
	if err != nil {
		s.logger.Error("encode %s (seq %d): %v", msg.Command, msg.Seq, err)
		return
	}
	if err := s.conn.Write(frame); err != nil {
		s.logger.Error("write %s (seq %d): %v", msg.Command, msg.Seq, err)
	}
}

// decodeLoopIdlePoll bounds how long decodeLoop waits between checks of
// conn.IsConnected() while the connection is down, so it neither busy-loops
// nor blocks on a stale socket.
const decodeLoopIdlePoll = 200 * time.Millisecond

// decodeLoop never returns a connection-level error: a read failure marks
// the connection Lost (done inside Connection.ReadFrame), signals every
// outstanding oneshot waiter, and then parks until reconnectLoop re-dials
// before resuming reads on the new socket. Returning the error here would
// propagate into the shared errgroup and cancel reconnectLoop itself — the
// one task that exists to recover from exactly this condition.
func (s *Supervisor) decodeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !s.conn.IsConnected() {
			if !s.idle(ctx, decodeLoopIdlePoll) {
				return ctx.Err()
			}
			continue
		}

		body, err := s.conn.ReadFrame()
		if err != nil {
			s.logger.Warn("connection lost: %v", err)
			s.disp.ClearOneshot(dispatch.Msg{Command: ConnectionLostCommand, Seq: -1})
			continue
		}

		decoded, err := wire.DecodeFrame(body, session.DefaultKey(), s.sess.SessionKey(session.Service))
		if err == wire.ErrServerHello {
			continue
		}
		if err != nil {
			s.logger.Error("decode frame: %v", err)
			continue
		}

		go s.disp.Dispatch(dispatch.Msg{
			Command:   decoded.Command,
			Seq:       decoded.Seq,
			WupBuffer: decoded.WupBuffer,
		})
	}
}

// idle blocks for d or until ctx is done, reporting which happened.
func (s *Supervisor) idle(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) reconnectLoop(ctx context.Context) error {
	attempt := 0
	for {
		interval := s.cfg.ReconnectInterval * time.Duration((attempt%10)+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		if s.conn.State()&transport.Lost == 0 {
			continue
		}
		if err := s.conn.Connect(); err != nil {
			attempt++
			s.logger.Warn("reconnect attempt %d failed: %v", attempt, err)
			continue
		}
		attempt = 0
	}
}

func (s *Supervisor) signPingLoop(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var count uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.conn.IsConnected() || s.sign == nil {
				continue
			}
			ok := s.sign.Ping()
			count++
			if count%50 == 0 {
				s.logger.Info("sign-server ping #%d: %v", count, ok)
			}
		}
	}
}
