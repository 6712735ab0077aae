// Package signer defines the capability the supervisor consumes from an
// external, HTTP-based signing service: per-request signatures for a
// whitelisted subset of commands, plus a liveness ping. The HTTP
// implementation itself is an out-of-scope collaborator; this package
// only defines the contract and an in-memory double for tests.
package signer

// Result holds the three opaque blobs a successful sign call produces.
// A zero Result (all nil) represents signer failure.
type Result struct {
	Sign  []byte
	Token []byte
	Extra []byte
}

// Empty reports whether r carries no signature material, i.e. the
// signer failed.
func (r Result) Empty() bool {
	return len(r.Sign) == 0 && len(r.Token) == 0 && len(r.Extra) == 0
}

// Signer is the capability consumed from the remote signing service.
type Signer interface {
	// Ping reports whether the signing service is reachable and healthy.
	Ping() bool
	// IsWhitelistCommand reports whether cmd requires a signature before
	// it may be sent.
	IsWhitelistCommand(cmd string) bool
	// Sign computes the signature for a request. An empty Result means
	// signing failed; callers must not send the request in that case.
	Sign(uin, cmd string, buffer []byte, seq uint32) (Result, error)
	// Energy is reserved: a keyed transform of data used by some
	// signing-service deployments for additional anti-abuse material.
	Energy(data string, salt []byte) []byte
}
