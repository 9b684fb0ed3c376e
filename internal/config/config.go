// Package config holds the flat tunables struct the firmware's components
// are constructed from. There is no CLI or environment-variable loader here
// — firmware has no command line — but the struct mirrors the teacher's
// main.go defaults-into-constructors wiring (flag defaults → MQTTConfig →
// NewClient) with the flag layer itself stripped out, since §1 places
// CLI/env surfaces outside the core. The two example host binaries under
// cmd/ retain a real flag.FlagSet and populate one of these at startup.
package config

import (
	"github.com/r-mccarty/rs1-firmware/internal/ingest"
	"github.com/r-mccarty/rs1-firmware/internal/smoothing"
	"github.com/r-mccarty/rs1-firmware/internal/tdm"
	"github.com/r-mccarty/rs1-firmware/internal/tracking"
)

// Firmware collects every component's tunables in one place so a host
// binary can load them from wherever it likes (flags, a file, hardcoded
// defaults) and hand the whole struct to the components it constructs.
type Firmware struct {
	TrackingFilter         ingest.FilterConfig
	DisconnectTimeoutMs    uint32
	Tracking               tracking.Config
	PublishThrottleMs      uint32
	TDMPhaseLengthMs       uint32
	TDMEnabled             bool // Pro hardware only
	SchedulerTickMs        uint32
	WatchdogTimeoutMs      uint32
}

// Default returns the tunables matching the spec's stated defaults.
func Default() Firmware {
	return Firmware{
		TrackingFilter:      ingest.DefaultFilterConfig(),
		DisconnectTimeoutMs: ingest.DefaultDisconnectTimeoutMs,
		Tracking:            tracking.DefaultConfig(),
		PublishThrottleMs:   smoothing.DefaultPublishThrottleMs,
		TDMPhaseLengthMs:    tdm.DefaultPhaseLengthMs,
		TDMEnabled:          false,
		SchedulerTickMs:     10,
		WatchdogTimeoutMs:   2000,
	}
}
