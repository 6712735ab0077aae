// Package dispatch routes inbound FromServiceMsg values to their waiters:
// a oneshot table keyed by sequence number, and a persistent table keyed
// by command name with multiple subscribers per key. See
// gravwell-gravwell/ingest/muxer.go for the sibling pattern this follows —
// a mutex-guarded map of channels, with the actual sends performed after
// the lock is released so a slow receiver cannot stall dispatch for
// everyone else.
package dispatch

import "sync"

// Msg is the minimal shape dispatch needs from an inbound message: enough
// to route by sequence number or command name without depending on the
// sso package's full envelope type.
type Msg struct {
	Command   string
	Seq       int32
	WupBuffer []byte
}

// ErrAlreadyRegistered is returned by RegisterOneshot when the given
// sequence number already has a waiter; the caller must cancel it first.
type ErrAlreadyRegistered struct {
	Seq uint32
}

func (e ErrAlreadyRegistered) Error() string {
	return "dispatch: oneshot waiter already registered for this sequence"
}

// Dispatcher owns both routing tables. The zero value is not usable; use
// New.
type Dispatcher struct {
	oneshotMtx sync.Mutex
	oneshot    map[uint32]chan Msg

	persistentMtx sync.Mutex
	persistent    map[string][]chan Msg
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		oneshot:    make(map[uint32]chan Msg),
		persistent: make(map[string][]chan Msg),
	}
}

// RegisterOneshot inserts a single-shot waiter for seq. It returns
// ErrAlreadyRegistered if one is already present.
func (d *Dispatcher) RegisterOneshot(seq uint32) (<-chan Msg, error) {
	ch := make(chan Msg, 1)
	d.oneshotMtx.Lock()
	defer d.oneshotMtx.Unlock()
	if _, ok := d.oneshot[seq]; ok {
		return nil, ErrAlreadyRegistered{Seq: seq}
	}
	d.oneshot[seq] = ch
	return ch, nil
}

// UnregisterOneshot removes the waiter for seq, if any, without signalling
// it. Safe to call even if no waiter is registered.
func (d *Dispatcher) UnregisterOneshot(seq uint32) {
	d.oneshotMtx.Lock()
	defer d.oneshotMtx.Unlock()
	delete(d.oneshot, seq)
}

// ClearOneshot removes every registered oneshot waiter and signals each
// with msg (typically used with a connection-lost sentinel so every
// outstanding caller wakes rather than timing out).
func (d *Dispatcher) ClearOneshot(msg Msg) {
	d.oneshotMtx.Lock()
	waiters := d.oneshot
	d.oneshot = make(map[uint32]chan Msg)
	d.oneshotMtx.Unlock()

	for _, ch := range waiters {
		ch <- msg
		close(ch)
	}
}

// RegisterPersistent appends a subscriber for cmd.
func (d *Dispatcher) RegisterPersistent(cmd string, ch chan Msg) {
	d.persistentMtx.Lock()
	defer d.persistentMtx.Unlock()
	d.persistent[cmd] = append(d.persistent[cmd], ch)
}

// RegisterPersistentMulti appends ch as a subscriber for every command in
// cmds.
func (d *Dispatcher) RegisterPersistentMulti(cmds []string, ch chan Msg) {
	d.persistentMtx.Lock()
	defer d.persistentMtx.Unlock()
	for _, cmd := range cmds {
		d.persistent[cmd] = append(d.persistent[cmd], ch)
	}
}

// Dispatch delivers msg to the oneshot waiter for msg.Seq (if any, removing
// it) and to every live persistent subscriber for msg.Command. Persistent
// sends are non-blocking: a subscriber whose channel cannot take msg right
// now (full buffer, or unbuffered with no reader) is presumed gone, skipped,
// and removed from the table at the end of this call. Subscriber channels
// must not be closed while registered: sending on a closed channel panics.
func (d *Dispatcher) Dispatch(msg Msg) {
	d.oneshotMtx.Lock()
	waiter, ok := d.oneshot[uint32(msg.Seq)]
	if ok {
		delete(d.oneshot, uint32(msg.Seq))
	}
	d.oneshotMtx.Unlock()
	if ok {
		waiter <- msg
		close(waiter)
	}

	d.persistentMtx.Lock()
	subs := append([]chan Msg(nil), d.persistent[msg.Command]...)
	d.persistentMtx.Unlock()

	live := make([]chan Msg, 0, len(subs))
	for _, ch := range subs {
		select {
		case ch <- msg:
			live = append(live, ch)
		default:
			// Full buffer: treat the subscriber as gone and drop it.
		}
	}

	d.persistentMtx.Lock()
	d.persistent[msg.Command] = live
	d.persistentMtx.Unlock()
}
