// Package sso ties the wire codec, session store, dispatcher, signer and
// transport connection together behind the supervisor's send/receive
// pipeline (spec.md §4.6).
package sso

import (
	"github.com/inmesdev/ntrim-core/session"
	"github.com/inmesdev/ntrim-core/signer"
)

// UniPacket is the caller-facing request value: a command class, a
// command name, and a raw payload without any length prefix.
type UniPacket struct {
	CommandType session.CommandType
	Command     string
	WupBuffer   []byte
}

// ToServiceMsg is the outbound envelope the encoder task consumes: a
// UniPacket plus its allocated sequence number, optional first/second
// tokens (Register only), and an optional signer result.
type ToServiceMsg struct {
	UniPacket
	Seq         uint32
	FirstToken  []byte
	SecondToken []byte
	Signed      signer.Result
}

// FromServiceMsg is the inbound envelope handed to the dispatcher. Seq is
// signed 32-bit per the current protocol revision; correlate it against
// ToServiceMsg.Seq by bit pattern, not numeric value.
type FromServiceMsg struct {
	Command   string
	WupBuffer []byte
	Seq       int32
}
