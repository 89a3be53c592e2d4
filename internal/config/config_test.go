package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/talkclock/internal/codec"
	"github.com/friendsincode/talkclock/internal/db"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != db.BackendSQLite || cfg.DBDSN == "" {
		t.Fatalf("unexpected database %s %q", cfg.DBBackend, cfg.DBDSN)
	}
	if cfg.HTTPAddr() != "127.0.0.1:8380" {
		t.Fatalf("http addr = %s", cfg.HTTPAddr())
	}
	pc, err := cfg.Player()
	if err != nil {
		t.Fatalf("player config: %v", err)
	}
	if pc.LengthConvention != codec.LengthWithCommand {
		t.Fatalf("length convention = %s", pc.LengthConvention)
	}
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("TALKCLOCK_DB_BACKEND", "postgres")
	t.Setenv("TALKCLOCK_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("TALKCLOCK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("TALKCLOCK_LINK", "tcp")
	t.Setenv("TALKCLOCK_LINK_ADDR", "clock.local:4001")
	t.Setenv("NATS_URL", "nats://bus:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Database().Backend != db.BackendPostgres {
		t.Fatalf("backend = %s", cfg.Database().Backend)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if l := cfg.Link(); l.Kind != "tcp" || l.Address != "clock.local:4001" {
		t.Fatalf("link = %+v", l)
	}
	if cfg.NATS().URL != "nats://bus:4222" {
		t.Fatalf("nats url = %s", cfg.NATS().URL)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"TALKCLOCK_DB_BACKEND": "oracle"}},
		{"tcp without address", map[string]string{"TALKCLOCK_LINK": "tcp"}},
		{"unknown link", map[string]string{"TALKCLOCK_LINK": "usb"}},
		{"bad baud", map[string]string{"TALKCLOCK_SERIAL_BAUD": "-1"}},
		{"production without jwt key", map[string]string{"TALKCLOCK_ENV": "production"}},
		{"missing profile", map[string]string{"TALKCLOCK_PROFILE": "/nonexistent/profile.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected Load to fail")
			}
		})
	}
}

func TestLoadAppliesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	profile := `
name: yx5300
length_convention: compact
ack_ceiling: 2s
idle_grace: 750ms
volume:
  max: 80
  device_max_level: 30
hooks:
  power_on: gpioset gpiochip0 17=1
  power_off: gpioset gpiochip0 17=0
`
	if err := os.WriteFile(path, []byte(profile), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TALKCLOCK_PROFILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Profile.Hooks.PowerOn != "gpioset gpiochip0 17=1" {
		t.Fatalf("hooks = %+v", cfg.Profile.Hooks)
	}
	pc, err := cfg.Player()
	if err != nil {
		t.Fatalf("player config: %v", err)
	}
	if pc.LengthConvention != codec.LengthWithoutCommand {
		t.Fatalf("length convention = %s", pc.LengthConvention)
	}
	if pc.AckCeiling != 2*time.Second || pc.IdleShutdownGrace != 750*time.Millisecond {
		t.Fatalf("timeouts = %v %v", pc.AckCeiling, pc.IdleShutdownGrace)
	}
	if pc.MaxVolume != 80 || pc.DeviceMaxLevel != 30 {
		t.Fatalf("volume = %d / %d", pc.MaxVolume, pc.DeviceMaxLevel)
	}
}

func TestParseProfileRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown convention", "length_convention: sideways"},
		{"max above 100", "volume: {max: 120}"},
		{"min above max", "volume: {min: 60, max: 40}"},
		{"device level", "volume: {device_max_level: 300}"},
		{"not yaml", "volume: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProfile([]byte(tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
