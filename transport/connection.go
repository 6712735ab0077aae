package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/inmesdev/ntrim-core/log"
)

const (
	hostV4      = "msfwifi.3g.qq.com"
	hostV6      = "msfwifiv6.3g.qq.com"
	servicePort = 8080
	dnsTimeout  = 5 * time.Second
)

// msfHandshake is the exact 21-byte MSF handshake frame emitted after a
// successful connect (spec.md §4.4).
var msfHandshake = buildMsfHandshake()

func buildMsfHandshake() []byte {
	b := make([]byte, 21)
	binary.BigEndian.PutUint32(b[0:4], 21)
	binary.BigEndian.PutUint32(b[4:8], 0x01335239)
	binary.BigEndian.PutUint32(b[8:12], 0)
	b[12] = 0x04
	copy(b[13:16], "MSF")
	b[16] = 0x05
	binary.BigEndian.PutUint32(b[17:21], 0)
	return b
}

// Connection owns the TCP socket, the DNS-resolved hostname choice and the
// lifecycle state flags. Reads are owned by a single long-running task;
// writes are serialized by writeMtx.
type Connection struct {
	flags Flags
	ipv6  bool
	log   *log.Logger

	writeMtx sync.Mutex
	connMtx  sync.Mutex
	conn     net.Conn
}

// New returns a Connection in the Ready state, configured to resolve the
// v4 host unless ipv6 is true.
func New(ipv6 bool, logger *log.Logger) *Connection {
	c := &Connection{ipv6: ipv6, log: logger}
	if logger == nil {
		c.log = log.Discard()
	}
	if ipv6 {
		c.flags.Store(Ipv6 | Ready)
	} else {
		c.flags.Store(Ipv4 | Ready)
	}
	return c
}

// NewConnected wraps an already-established net.Conn as a Connected,
// Ready connection, skipping DNS resolution and dialing. Useful for
// callers that establish the socket through some other means (tests, a
// proxy dialer) but still want the framing/state-machine behavior below.
func NewConnected(ipv6 bool, conn net.Conn, logger *log.Logger) *Connection {
	c := New(ipv6, logger)
	c.conn = conn
	c.flags.Set(Connected)
	c.flags.Set(Ready)
	return c
}

// State returns the current flag set.
func (c *Connection) State() State { return c.flags.Load() }

// IsConnected returns Connected && !Lost.
func (c *Connection) IsConnected() bool { return c.flags.IsConnected() }

func (c *Connection) hostname() string {
	if c.ipv6 {
		return hostV6
	}
	return hostV4
}

// resolve looks up the configured hostname via a direct miekg/dns query
// rather than net.Resolver, mirroring the resolver pattern in the
// teacher's dnslookup processor (dns.Client + dns.Msg against a
// configured nameserver).
func (c *Connection) resolve() (net.IP, error) {
	qtype := dns.TypeA
	if c.ipv6 {
		qtype = dns.TypeAAAA
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(c.hostname()), qtype)
	m.RecursionDesired = true

	client := &dns.Client{Timeout: dnsTimeout}
	for _, server := range resolverAddrs() {
		r, _, err := client.Exchange(m, server)
		if err != nil || r == nil {
			continue
		}
		for _, ans := range r.Answer {
			switch rec := ans.(type) {
			case *dns.A:
				if !c.ipv6 {
					return rec.A, nil
				}
			case *dns.AAAA:
				if c.ipv6 {
					return rec.AAAA, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("no address resolved for %s", c.hostname())
}

// resolverAddrs returns the nameservers from /etc/resolv.conf, falling
// back to 8.8.8.8 if none are configured or the file cannot be read.
func resolverAddrs() []string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"8.8.8.8:53"}
	}
	addrs := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		addrs = append(addrs, net.JoinHostPort(s, cfg.Port))
	}
	return addrs
}

// Connect performs DNS resolution, dials the first resolved address, and
// emits the MSF handshake frame on success. See the state diagram in
// spec.md §4.4.
func (c *Connection) Connect() error {
	c.flags.Set(Connecting)

	ip, err := c.resolve()
	if err != nil {
		c.flags.Clear(Connecting)
		c.flags.Set(Disconnected)
		return errQueryDNS(err)
	}

	addr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", servicePort))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		c.flags.Clear(Connecting)
		c.flags.Set(Disconnected)
		return errConnect(err)
	}

	c.connMtx.Lock()
	c.conn = conn
	c.connMtx.Unlock()

	c.flags.Clear(Connecting)
	c.flags.Clear(Disconnected)
	c.flags.Clear(Lost)
	c.flags.Set(Connected)
	c.flags.Set(Ready)

	if err := c.Write(msfHandshake); err != nil {
		return err
	}
	return nil
}

// Write acquires the write lock and writes buf in full. A write error
// marks the connection Lost.
func (c *Connection) Write(buf []byte) error {
	c.connMtx.Lock()
	conn := c.conn
	c.connMtx.Unlock()
	if conn == nil {
		return errNotConnect()
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	if _, err := conn.Write(buf); err != nil {
		c.flags.Set(Lost)
		return errWrite(err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame: a 4-byte frame_len (including
// itself) followed by exactly frame_len-4 bytes. A zero-length read or
// error marks the connection Lost.
func (c *Connection) ReadFrame() ([]byte, error) {
	c.connMtx.Lock()
	conn := c.conn
	c.connMtx.Unlock()
	if conn == nil {
		return nil, errNotConnect()
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		c.flags.Set(Lost)
		return nil, errRead(err)
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen < 4 {
		c.flags.Set(Lost)
		return nil, errRead(fmt.Errorf("frame_len %d below minimum", frameLen))
	}

	body := make([]byte, frameLen-4)
	if _, err := io.ReadFull(conn, body); err != nil {
		c.flags.Set(Lost)
		return nil, errRead(err)
	}
	return body, nil
}

// Disconnect closes the socket and clears Connected/Ready, marking
// Disconnected.
func (c *Connection) Disconnect() {
	c.connMtx.Lock()
	conn := c.conn
	c.conn = nil
	c.connMtx.Unlock()
	if conn != nil {
		conn.Close()
	}

	c.flags.Clear(Connected)
	c.flags.Clear(Ready)
	c.flags.Clear(Lost)
	c.flags.Set(Disconnected)
}

// IsServerHello reports whether headFlag identifies the MSF handshake
// reply (spec.md §4.4/GLOSSARY).
func IsServerHello(headFlag uint32) bool {
	return headFlag == 0x01335239
}
