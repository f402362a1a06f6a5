package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Wire.BaseKey != DefaultBaseKey {
		t.Errorf("base key = %q, want default", cfg.Wire.BaseKey)
	}
	if cfg.Server.DialTimeout != 3*time.Second {
		t.Errorf("dial timeout = %v, want 3s", cfg.Server.DialTimeout)
	}
	if cfg.Server.IsFront() {
		t.Error("no chat servers configured, should not be a front server")
	}
	if cfg.Logging.Frames {
		t.Error("frame logging should be off by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TALK2ME_WIRE_BASE_KEY", "env-key")
	t.Setenv("TALK2ME_SERVER_PORT", "1234")
	t.Setenv("TALK2ME_STORE_SNAPSHOT_PATH", "/tmp/other.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Wire.BaseKey != "env-key" {
		t.Errorf("TALK2ME_WIRE_BASE_KEY ignored: base key = %q", cfg.Wire.BaseKey)
	}
	if cfg.Server.Port != 1234 {
		t.Errorf("TALK2ME_SERVER_PORT ignored: port = %d", cfg.Server.Port)
	}
	if cfg.Store.SnapshotPath != "/tmp/other.json" {
		t.Errorf("TALK2ME_STORE_SNAPSHOT_PATH ignored: path = %q", cfg.Store.SnapshotPath)
	}
}

func TestFrameLoggingEnvSwitch(t *testing.T) {
	t.Setenv("TALK2ME_LOG", "on")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Logging.Frames {
		t.Error("TALK2ME_LOG=on should enable frame logging")
	}

	t.Setenv("TALK2ME_LOG", "off")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Frames {
		t.Error("TALK2ME_LOG=off should leave frame logging disabled")
	}
}
