package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsRequireTransportPort(t *testing.T) {
	if _, err := Load("", Overrides{}); err == nil {
		t.Fatal("expected an error: default transport.kind=serial has no port")
	}
}

func TestLoadAppliesCLIOverridesOverDefaults(t *testing.T) {
	cfg, err := Load("", Overrides{Port: "/dev/ttyUSB0", Baud: 250000})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Port != "/dev/ttyUSB0" {
		t.Fatalf("Port = %q, want /dev/ttyUSB0", cfg.Transport.Port)
	}
	if cfg.Transport.Baud != 250000 {
		t.Fatalf("Baud = %d, want 250000", cfg.Transport.Baud)
	}
	// Unrelated defaults survive untouched.
	if cfg.Queue.Capacity != 1024 {
		t.Fatalf("Queue.Capacity = %d, want default 1024", cfg.Queue.Capacity)
	}
}

func TestLoadYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gcodesend.yaml")
	yaml := `
transport:
  kind: tcp
  address: 192.168.1.50:23
poll:
  interval_ms: 50
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Kind != "tcp" || cfg.Transport.Address != "192.168.1.50:23" {
		t.Fatalf("Transport = %+v, want tcp/192.168.1.50:23", cfg.Transport)
	}
	if cfg.Poll.IntervalMS != 50 {
		t.Fatalf("Poll.IntervalMS = %d, want 50", cfg.Poll.IntervalMS)
	}
	// Fields the YAML didn't mention keep Defaults()'s values.
	if cfg.Timeout.CommandMS != 10000 {
		t.Fatalf("Timeout.CommandMS = %d, want default 10000", cfg.Timeout.CommandMS)
	}
}

func TestLoadRejectsUnknownTransportKind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  kind: usb\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path, Overrides{}); err == nil {
		t.Fatal("expected an error for an unknown transport.kind")
	}
}

func TestLoadRejectsTooShortPollInterval(t *testing.T) {
	_, err := Load("", Overrides{Port: "/dev/ttyUSB0", PollMS: 5})
	if err == nil {
		t.Fatal("expected an error: poll.interval_ms below the 20ms floor")
	}
}

func TestLoadHaltOnErrorOverrideNilMeansUnset(t *testing.T) {
	cfg, err := Load("", Overrides{Port: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Stream.HaltOnError {
		t.Fatal("HaltOnError should keep its default (true) when Overrides.HaltOnError is nil")
	}

	f := false
	cfg, err = Load("", Overrides{Port: "/dev/ttyUSB0", HaltOnError: &f})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.HaltOnError {
		t.Fatal("HaltOnError override to false was not applied")
	}
}
