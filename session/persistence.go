package session

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// persistedTicket mirrors one entry of the on-disk "ticket" map: hex-encoded
// sig/sigKey, unix-second timestamps, and an absolute (not relative)
// expireTime (0 meaning non-expiring).
type persistedTicket struct {
	Sig        string `json:"sig"`
	SigKey     string `json:"sigKey"`
	CreateTime int64  `json:"createTime"`
	ExpireTime int64  `json:"expireTime"`
}

type persistedDevice struct {
	AndroidID   string `json:"androidId"`
	Qimei       string `json:"qimei"`
	Name        string `json:"name"`
	Brand       string `json:"brand"`
	Model       string `json:"model"`
	OSName      string `json:"osName"`
	OSVersion   string `json:"osVersion"`
	VendorOS    string `json:"vendorOsName"`
	Fingerprint string `json:"fingerprint"`
}

type persistedProtocol struct {
	AppID          uint32 `json:"appId"`
	Detail         string `json:"detail"`
	NtBuildVersion string `json:"ntBuildVersion"`
}

// persistedSession is the JSON object described in spec.md §6: the
// out-of-scope CLI's startup hand-off format, consumed here and produced
// by Session.Save for round-tripping in tests and tooling.
type persistedSession struct {
	Uin      uint64                     `json:"uin"`
	Uid      string                     `json:"uid"`
	Ksid     string                     `json:"ksid"`
	Guid     string                     `json:"guid"`
	Device   persistedDevice            `json:"device"`
	Protocol persistedProtocol          `json:"protocol"`
	Tickets  map[string]persistedTicket `json:"ticket"`
}

// LoadSession parses the JSON session format from r, converting each
// ticket's absolute expireTime to the Session's internal relative
// ExpireTime (seconds from CreateTime).
func LoadSession(r io.Reader) (*Session, error) {
	var p persistedSession
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}

	ksid, err := decodeFixed16(p.Ksid, "ksid")
	if err != nil {
		return nil, err
	}
	guid, err := decodeFixed16(p.Guid, "guid")
	if err != nil {
		return nil, err
	}
	fingerprint, err := hex.DecodeString(p.Device.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("session: decode fingerprint: %w", err)
	}

	device := NewDevice(p.Device.AndroidID, p.Device.Qimei, p.Device.Name, p.Device.Brand,
		p.Device.Model, p.Device.OSName, p.Device.OSVersion, p.Device.VendorOS, fingerprint)
	protocol := Protocol{AppID: p.Protocol.AppID, Detail: p.Protocol.Detail, NtBuildVersion: p.Protocol.NtBuildVersion}

	s, err := New(p.Uin, p.Uid, device, protocol, ksid, guid)
	if err != nil {
		return nil, err
	}

	for key, pt := range p.Tickets {
		id, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("session: ticket id %q: %w", key, err)
		}
		sig, err := hex.DecodeString(pt.Sig)
		if err != nil {
			return nil, fmt.Errorf("session: ticket %s sig: %w", key, err)
		}
		sigKey, err := hex.DecodeString(pt.SigKey)
		if err != nil {
			return nil, fmt.Errorf("session: ticket %s sigKey: %w", key, err)
		}
		created := time.Unix(pt.CreateTime, 0)
		var expire time.Duration
		if pt.ExpireTime != 0 {
			expire = time.Duration(pt.ExpireTime-pt.CreateTime) * time.Second
			if expire < 0 {
				expire = 0
			}
		}
		s.InsertTicket(Ticket{
			ID:         TicketID(id),
			Sig:        sig,
			SigKey:     sigKey,
			CreateTime: created,
			ExpireTime: expire,
		})
	}
	s.SetOnline(s.IsLogin())
	return s, nil
}

// Save serializes the session back to the persistence format, converting
// each ticket's relative ExpireTime back to an absolute unix timestamp.
func (s *Session) Save(w io.Writer) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	p := persistedSession{
		Uin:  s.Uin,
		Uid:  s.Uid,
		Ksid: hex.EncodeToString(s.Ksid[:]),
		Guid: hex.EncodeToString(s.Guid[:]),
		Device: persistedDevice{
			AndroidID:   s.Device.AndroidID,
			Qimei:       s.Device.Qimei,
			Name:        s.Device.Name,
			Brand:       s.Device.Brand,
			Model:       s.Device.Model,
			OSName:      s.Device.OSName,
			OSVersion:   s.Device.OSVersion,
			VendorOS:    s.Device.VendorOS,
			Fingerprint: hex.EncodeToString(s.Device.Fingerprint),
		},
		Protocol: persistedProtocol{
			AppID:          s.Protocol.AppID,
			Detail:         s.Protocol.Detail,
			NtBuildVersion: s.Protocol.NtBuildVersion,
		},
		Tickets: make(map[string]persistedTicket, len(s.tickets)),
	}
	for id, t := range s.tickets {
		var expire int64
		if t.ExpireTime != 0 {
			expire = t.CreateTime.Unix() + int64(t.ExpireTime/time.Second)
		}
		p.Tickets[strconv.FormatUint(uint64(id), 10)] = persistedTicket{
			Sig:        hex.EncodeToString(t.Sig),
			SigKey:     hex.EncodeToString(t.SigKey),
			CreateTime: t.CreateTime.Unix(),
			ExpireTime: expire,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

func decodeFixed16(s, field string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("session: decode %s: %w", field, err)
	}
	if len(b) != 16 {
		return out, fmt.Errorf("session: %s must decode to 16 bytes, got %d", field, len(b))
	}
	copy(out[:], b)
	return out, nil
}
