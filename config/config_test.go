package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	keys := []string{"IS_NT_IPV6", "NT_SEND_QUEUE_SIZE", "AUTO_RECONNECT",
		"AUTO_REFRESH_SESSION", "RECONNECT_INTERVAL", "HEARTBEAT_INTERVAL"}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if c.IsIPv6 {
		t.Fatal("expected v4 default")
	}
	if c.SendQueueSize != DefaultSendQueueSize {
		t.Fatalf("expected default queue size, got %d", c.SendQueueSize)
	}
	if !c.AutoReconnect || !c.AutoRefreshSession {
		t.Fatal("expected both toggles enabled by default")
	}
	if c.ReconnectInterval != 5*time.Second {
		t.Fatalf("expected 5s reconnect interval, got %s", c.ReconnectInterval)
	}
	if c.HeartbeatInterval != 270*time.Second {
		t.Fatalf("expected 270s heartbeat interval, got %s", c.HeartbeatInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IS_NT_IPV6", "1")
	t.Setenv("NT_SEND_QUEUE_SIZE", "128")
	t.Setenv("AUTO_RECONNECT", "0")
	t.Setenv("RECONNECT_INTERVAL", "15")

	c, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsIPv6 {
		t.Fatal("expected v6 selection")
	}
	if c.SendQueueSize != 128 {
		t.Fatalf("expected overridden queue size, got %d", c.SendQueueSize)
	}
	if c.AutoReconnect {
		t.Fatal("expected auto-reconnect disabled")
	}
	if c.ReconnectInterval != 15*time.Second {
		t.Fatalf("expected overridden reconnect interval, got %s", c.ReconnectInterval)
	}
}
