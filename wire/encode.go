package wire

import (
	"strconv"

	"github.com/inmesdev/ntrim-core/crypto"
	"github.com/inmesdev/ntrim-core/session"
)

// Literal constants that appear verbatim in the 0x0A head block.
const (
	headBlockReserved1 uint32 = 0x01000000
	headBlockReserved2 uint32 = 0x00000100
	headBlockTailConst int32  = 4
)

// EncodeParams carries everything EncodeFrame needs to build one outbound
// frame. It intentionally mirrors ToServiceMsg plus the session fields the
// encoder task consults, without importing the sso
// package (which depends on wire), to avoid an import cycle.
type EncodeParams struct {
	CommandType session.CommandType
	Command     string
	WupBuffer   []byte
	Seq         uint32
	FirstToken  []byte
	SecondToken []byte

	Uin            uint64
	AppID          uint32
	AndroidID      string
	Ksid           []byte
	MsgCookie      []byte
	ProtocolDetail string

	Key        []byte
	QqSecurity QqSecurityParams
}

// EncodeFrame builds a complete outbound frame per spec.md §4.2.
func EncodeFrame(p EncodeParams) ([]byte, error) {
	headFlag := p.CommandType.HeadFlag()
	encryptedFlag := p.CommandType.EncryptedFlag()

	headBlock := buildHeadBlock(p, headFlag)

	raw := NewWriter()
	raw.ExtraU32(headBlock)
	raw.ExtraU32(p.WupBuffer)

	ciphertext, err := crypto.Encrypt(raw.Bytes(), p.Key)
	if err != nil {
		return nil, err
	}

	frame := NewWriter()
	frame.U32(headFlag)
	frame.U8(encryptedFlag)
	writeTokenArea(frame, headFlag, p.FirstToken, p.Seq)
	frame.U8(0x00)
	frame.ExtraU32([]byte(strconv.FormatUint(p.Uin, 10)))
	frame.Raw(ciphertext)

	out := NewWriter()
	out.U32(uint32(frame.Len()) + 4)
	out.Raw(frame.Bytes())
	return out.Bytes(), nil
}

func writeTokenArea(w *Writer, headFlag uint32, firstToken []byte, seq uint32) {
	if headFlag == 0x0B {
		w.U32(seq)
		return
	}
	if len(firstToken) > 0 {
		w.ExtraU32(firstToken)
	} else {
		w.U32(MinExtraLenU32)
	}
}

func buildHeadBlock(p EncodeParams, headFlag uint32) []byte {
	w := NewWriter()
	qsb := EncodeQqSecurityBlob(p.QqSecurity)

	if headFlag == 0x0B {
		w.ExtraU32([]byte(p.Command))
		w.ExtraU32(p.MsgCookie)
		w.ExtraU32(qsb)
		return w.Bytes()
	}

	w.U32(p.Seq)
	w.U32(p.AppID)
	w.U32(p.AppID)
	w.U32(headBlockReserved1)
	w.U32(0)
	if len(p.SecondToken) > 0 {
		w.U32(headBlockReserved2)
		w.ExtraU32(p.SecondToken)
	} else {
		w.U32(0)
		w.U32(MinExtraLenU32)
	}
	w.ExtraU32([]byte(p.Command))
	w.I32(headBlockTailConst)
	w.ExtraU32([]byte(p.AndroidID))
	w.ExtraU32(p.Ksid)
	w.ExtraU16([]byte(p.ProtocolDetail))
	w.ExtraU32(qsb)
	return w.Bytes()
}
