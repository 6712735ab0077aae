package wire

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Fixed constants embedded in every qq_security_blob (see spec.md §4.2).
const (
	securityFlag         = 1
	securityLocaleID     = 2052
	securityNetworkType  = 3
	securityIPStackType  = 1
	securityMessageType  = 0
	securityNtCoreVer    = 100
	securitySsoIPOrigin  = 3
	securityTransInfoKey = "client_conn_seq"
)

// QqSecurityParams carries the per-request fields needed to build the
// qq_security_blob. Token/Sign/Extra come from a Signer.Result; may be
// nil/empty when no signer output is available.
type QqSecurityParams struct {
	Token []byte
	Sign  []byte
	Extra []byte
	Qimei string
	Uid   string
}

// newTraceParent returns a 55-character W3C-traceparent-shaped ASCII
// string: "00-" + 32 hex + "-" + 16 hex + "-00". The hex material comes
// from two random UUIDs (stripped of their dashes) rather than a
// hand-rolled hex generator.
func newTraceParent() string {
	traceID := strings.ReplaceAll(uuid.NewString(), "-", "")
	spanHex := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return "00-" + traceID + "-" + spanHex + "-00"
}

// EncodeQqSecurityBlob encodes p as the protobuf wire-format message
// described in spec.md §4.2, using the low-level protowire API (no
// generated .pb.go code is involved; field numbers mirror the original
// prost-generated message's layout).
func EncodeQqSecurityBlob(p QqSecurityParams) []byte {
	secInfo := encodeSecInfo(p.Token, p.Sign, p.Extra)

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, secInfo)

	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, securityFlag)

	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, securityLocaleID)

	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, p.Qimei)

	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, newTraceParent())

	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, p.Uid)

	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, securityNetworkType)

	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)

	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, securityIPStackType)

	b = protowire.AppendTag(b, 10, protowire.VarintType)
	b = protowire.AppendVarint(b, securityMessageType)

	transInfo := encodeTransInfoEntry(securityTransInfoKey, strconv.FormatInt(time.Now().Unix(), 10))
	b = protowire.AppendTag(b, 11, protowire.BytesType)
	b = protowire.AppendBytes(b, transInfo)

	b = protowire.AppendTag(b, 12, protowire.VarintType)
	b = protowire.AppendVarint(b, securityNtCoreVer)

	b = protowire.AppendTag(b, 13, protowire.VarintType)
	b = protowire.AppendVarint(b, securitySsoIPOrigin)

	return b
}

func encodeSecInfo(token, sign, extra []byte) []byte {
	var b []byte
	if len(token) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, token)
	}
	if len(sign) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, sign)
	}
	if len(extra) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, extra)
	}
	return b
}

func encodeTransInfoEntry(key, value string) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, value)
	return b
}
