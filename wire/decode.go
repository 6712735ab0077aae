package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/inmesdev/ntrim-core/crypto"
)

// ServerHelloFlag is the sentinel head_flag value identifying the MSF
// handshake reply; frames carrying it are discarded without dispatch.
const ServerHelloFlag uint32 = 0x01335239

// DecodedMsg is the wire-level equivalent of FromServiceMsg: enough to
// build a dispatch.Msg and an sso.FromServiceMsg without wire depending on
// either package.
type DecodedMsg struct {
	Command   string
	WupBuffer []byte
	Seq       int32
}

// ErrServerHello is returned by DecodeFrame when the frame is the MSF
// handshake reply; callers must discard it without dispatch and continue
// reading the next frame.
var ErrServerHello = fmt.Errorf("wire: server hello frame")

// DecodeFrame parses one already-length-delimited frame body (the bytes
// after frame_len) per spec.md §4.2. defaultKey and d2Key are tried
// according to encrypted_flag (0x1 selects d2Key, anything else the
// default key).
func DecodeFrame(body []byte, defaultKey, d2Key []byte) (*DecodedMsg, error) {
	r := NewReader(body)

	headFlag, err := r.U32()
	if err != nil {
		return nil, err
	}
	if headFlag == ServerHelloFlag {
		return nil, ErrServerHello
	}

	encryptedFlag, err := r.U8()
	if err != nil {
		return nil, err
	}
	if _, err := r.U8(); err != nil { // 0x00 separator
		return nil, err
	}
	if _, err := r.ExtraU32(); err != nil { // user_id_str echo, unused by the core
		return nil, err
	}
	remainder, err := r.Raw(r.Remaining())
	if err != nil {
		return nil, err
	}

	key := defaultKey
	if encryptedFlag == 0x1 {
		key = d2Key
	}
	plaintext, err := crypto.Decrypt(remainder, key)
	if err != nil {
		return nil, fmt.Errorf("wire: decrypt: %w", err)
	}

	pr := NewReader(plaintext)
	headBlock, err := pr.ExtraU32()
	if err != nil {
		return nil, err
	}
	bodyBlock, err := pr.ExtraU32()
	if err != nil {
		return nil, err
	}

	hr := NewReader(headBlock)
	seq, err := hr.I32()
	if err != nil {
		return nil, err
	}
	if _, err := hr.U32(); err != nil { // reserved, always 0
		return nil, err
	}
	if _, err := hr.ExtraU32(); err != nil { // unknown_token
		return nil, err
	}
	command, err := hr.ExtraU32()
	if err != nil {
		return nil, err
	}
	if _, err := hr.U64(); err != nil { // session_id
		return nil, err
	}
	compression, err := hr.U32()
	if err != nil {
		return nil, err
	}

	wupBuffer, err := decompress(bodyBlock, compression)
	if err != nil {
		return nil, err
	}

	return &DecodedMsg{
		Command:   string(command),
		WupBuffer: wupBuffer,
		Seq:       seq,
	}, nil
}

// decompress applies the body_block's compression field: 0 and 4 are both
// raw (the source keeps them as distinct branches with the same effect,
// preserved here); 1 is deflate; anything else is tolerated as raw.
func decompress(body []byte, compression uint32) ([]byte, error) {
	if compression != 1 {
		return body, nil
	}
	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("wire: inflate: %w", err)
	}
	return out, nil
}
