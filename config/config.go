// Package config resolves the handful of environment variables that tune
// ntrim-core's ambient behavior (queue sizing, reconnect cadence, address
// family). It is adapted from the teacher's env-var loader: every variable
// may also be supplied via a "<NAME>_FILE" pointer to a file containing the
// value, which is convenient for container secrets.
package config

import "time"

const (
	DefaultSendQueueSize     = 32
	DefaultReconnectInterval = 5 * time.Second
	DefaultHeartbeatInterval = 270 * time.Second
)

// Config holds the configuration variables enumerated in the core's
// external interfaces: address family selection, outbound queue capacity,
// auto-reconnect/auto-refresh toggles and their cadences.
type Config struct {
	// IsIPv6 selects msfwifiv6.3g.qq.com over msfwifi.3g.qq.com.
	IsIPv6 bool

	// SendQueueSize bounds the outbound ToServiceMsg channel.
	SendQueueSize int64

	// AutoReconnect enables the supervisor's reconnect loop.
	AutoReconnect bool

	// AutoRefreshSession is surfaced for the (out-of-scope) ticket-refresh
	// collaborator; the core does not itself run a refresh timer.
	AutoRefreshSession bool

	// ReconnectInterval is the base interval between reconnect attempts;
	// actual backoff multiplies it by ((attempt mod 10) + 1).
	ReconnectInterval time.Duration

	// HeartbeatInterval is read by the (out-of-scope) heartbeat
	// collaborator; the core only stores and exposes it.
	HeartbeatInterval time.Duration
}

// Load resolves a Config from the process environment, applying the
// defaults documented in spec.md §6 for anything unset.
func Load() (Config, error) {
	c := Config{}

	if err := LoadEnvVar(&c.IsIPv6, "IS_NT_IPV6", false); err != nil {
		return c, err
	}

	var queueSize int64
	if err := LoadEnvVar(&queueSize, "NT_SEND_QUEUE_SIZE", int64(DefaultSendQueueSize)); err != nil {
		return c, err
	}
	c.SendQueueSize = queueSize

	// AUTO_RECONNECT and AUTO_REFRESH_SESSION default to enabled ("1" or
	// absent); LoadEnvVar's bool path only fills in a false zero value,
	// so default them to true up front and only let an explicit false value
	// that ParseBool accepts ("0", "no", "false", ...) flip them off; an
	// unparseable value leaves them enabled.
	c.AutoReconnect = true
	if raw, err := lookupRaw("AUTO_RECONNECT"); err == nil {
		if v, perr := ParseBool(raw); perr == nil {
			c.AutoReconnect = v
		}
	}
	c.AutoRefreshSession = true
	if raw, err := lookupRaw("AUTO_REFRESH_SESSION"); err == nil {
		if v, perr := ParseBool(raw); perr == nil {
			c.AutoRefreshSession = v
		}
	}

	var reconnectSecs int64
	if err := LoadEnvVar(&reconnectSecs, "RECONNECT_INTERVAL", int64(DefaultReconnectInterval/time.Second)); err != nil {
		return c, err
	}
	c.ReconnectInterval = time.Duration(reconnectSecs) * time.Second

	var heartbeatSecs int64
	if err := LoadEnvVar(&heartbeatSecs, "HEARTBEAT_INTERVAL", int64(DefaultHeartbeatInterval/time.Second)); err != nil {
		return c, err
	}
	c.HeartbeatInterval = time.Duration(heartbeatSecs) * time.Second

	return c, nil
}

// lookupRaw exposes loadEnv's "_FILE" fallback semantics for callers (like
// the boolean toggles above) that need to distinguish "unset" from "set to
// a falsy value" rather than going through LoadEnvVar's zero-value gate.
func lookupRaw(name string) (string, error) {
	return loadEnv(name)
}
