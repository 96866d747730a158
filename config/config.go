// Package config loads the resolved configuration (spec.md §6) from a YAML
// file, applies CLI overrides, validates it, and publishes it onto the Bus
// as retained messages so session.Session never imports this package
// directly — the same publish-then-forget shape as the teacher's
// services/config/config.go, with a YAML file replacing the teacher's
// embedded per-device JSON blob (this tool's configuration is user-edited
// on the host, not baked into a flashed firmware image).
package config

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/thawkins/gcodekit4-sub000/bus"
	"github.com/thawkins/gcodekit4-sub000/types"
	"github.com/thawkins/gcodekit4-sub000/x/strx"
)

// topicRoot mirrors session.topicConfigRoot; both sides construct the same
// topic value independently rather than sharing an unexported identifier
// across package boundaries.
var topicRoot = bus.T("config", "root")

// topicSection returns the per-section topic (config/transport,
// config/poll, ...) a finer-grained subscriber can watch instead of the
// whole resolved Config.
func topicSection(name string) bus.Topic { return bus.T("config", name) }

// Overrides carries CLI flag values that take precedence over the YAML
// file when non-zero/non-empty (SPEC_FULL.md's CLI section).
type Overrides struct {
	Port        string
	Baud        int
	FirmwareHint string
	RxCapacity  int
	PollMS      int
	TimeoutMS   int
	QueueCap    int
	HaltOnError *bool // nil means "use YAML/default"
	MetricsAddr string
}

// Load reads path (if non-empty) over types.Defaults(), applies CLI
// overrides, and validates the result. An empty path is not an error:
// Defaults() plus overrides is a complete, usable Config.
func Load(path string, ov Overrides) (types.Config, error) {
	cfg := types.Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return types.Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return types.Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyOverrides(&cfg, ov)

	if err := validate(cfg); err != nil {
		log.WithError(err).WithField("path", path).Error("config validation failed")
		return types.Config{}, err
	}
	log.WithFields(log.Fields{
		"transport.kind": cfg.Transport.Kind,
		"firmware.hint":  cfg.Firmware.Hint,
	}).Debug("config resolved")
	return cfg, nil
}

func applyOverrides(cfg *types.Config, ov Overrides) {
	if ov.Port != "" {
		cfg.Transport.Port = ov.Port
	}
	if ov.Baud != 0 {
		cfg.Transport.Baud = ov.Baud
	}
	cfg.Firmware.Hint = strx.Coalesce(ov.FirmwareHint, cfg.Firmware.Hint)
	if ov.RxCapacity != 0 {
		cfg.Flow.RxCapacity = ov.RxCapacity
	}
	if ov.PollMS != 0 {
		cfg.Poll.IntervalMS = ov.PollMS
	}
	if ov.TimeoutMS != 0 {
		cfg.Timeout.CommandMS = ov.TimeoutMS
	}
	if ov.QueueCap != 0 {
		cfg.Queue.Capacity = ov.QueueCap
	}
	if ov.HaltOnError != nil {
		cfg.Stream.HaltOnError = *ov.HaltOnError
	}
	if ov.MetricsAddr != "" {
		cfg.Metrics.Listen = ov.MetricsAddr
	}
}

// validate enforces the invariants SPEC_FULL.md §4.13 names: a malformed
// config must fail fast at startup, not surface as a confusing runtime
// error deep inside the Dispatcher.
func validate(cfg types.Config) error {
	switch cfg.Transport.Kind {
	case "serial":
		if cfg.Transport.Port == "" {
			return fmt.Errorf("config: transport.port required for kind=serial")
		}
	case "tcp":
		if cfg.Transport.Address == "" {
			return fmt.Errorf("config: transport.address required for kind=tcp")
		}
	default:
		return fmt.Errorf("config: unknown transport.kind %q", cfg.Transport.Kind)
	}
	if cfg.Flow.RxCapacity < 0 {
		return fmt.Errorf("config: flow.rx_capacity must be >= 0")
	}
	if cfg.Poll.IntervalMS < 20 {
		return fmt.Errorf("config: poll.interval_ms must be >= 20")
	}
	if cfg.Timeout.CommandMS < 100 {
		return fmt.Errorf("config: timeout.command_ms must be >= 100")
	}
	if cfg.Queue.Capacity <= 0 {
		return fmt.Errorf("config: queue.capacity must be > 0")
	}
	return nil
}

// Publish publishes cfg as a single retained config/root message (the
// value session.Session's Run loop acts on) plus one retained message per
// section, for components that only care about their own slice (a future
// metrics or CLI `status` subscriber, say) without decoding the whole
// struct.
func Publish(conn *bus.Connection, cfg types.Config) {
	conn.Publish(&bus.Message{Topic: topicRoot, Payload: cfg, Retained: true})

	sections := map[string]any{
		"transport": cfg.Transport,
		"firmware":  cfg.Firmware,
		"flow":      cfg.Flow,
		"poll":      cfg.Poll,
		"timeout":   cfg.Timeout,
		"queue":     cfg.Queue,
		"stream":    cfg.Stream,
		"metrics":   cfg.Metrics,
	}
	for name, payload := range sections {
		conn.Publish(&bus.Message{Topic: topicSection(name), Payload: payload, Retained: true})
	}
}
