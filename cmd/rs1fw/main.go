// Command rs1fw is the host-side example binary wiring the full sensing
// pipeline together: two serial radar drivers, the Config Store, the
// Tracking/Zone Engine/Smoothing pipeline, and the housekeeping scheduler
// and watchdog. Its flag/serial/signal-loop shape is adapted directly from
// the teacher's main.go; unlike the teacher, the flag layer only configures
// this example binary, never the firmware core itself (§1).
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tarm/serial"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/r-mccarty/rs1-firmware/internal/config"
	"github.com/r-mccarty/rs1-firmware/internal/configstore"
	"github.com/r-mccarty/rs1-firmware/internal/core"
	"github.com/r-mccarty/rs1-firmware/internal/rlog"
	"github.com/r-mccarty/rs1-firmware/internal/tdm"
	"github.com/r-mccarty/rs1-firmware/internal/timebase"
)

const (
	defaultTrackingPort = "/dev/ttyUSB0"
	defaultPresencePort = "/dev/ttyUSB1"
	defaultBaud         = 256000
	defaultDBPath       = "rs1.db"
)

var (
	trackingPort = flag.String("tracking-port", defaultTrackingPort, "Serial port for the LD2450-style tracking radar")
	presencePort = flag.String("presence-port", defaultPresencePort, "Serial port for the LD2410-style presence radar")
	dbPath       = flag.String("db", defaultDBPath, "Config Store flash-image path")
	proHardware  = flag.Bool("pro", false, "Enable Radar TDM Controller power gating (Pro hardware only)")
)

var mainLog = rlog.New("main")

func main() {
	flag.Parse()
	cfg := config.Default()

	mac := localMAC()
	store, err := configstore.Open(*dbPath, mac)
	if err != nil {
		log.Fatalf("rs1fw: opening config store: %v", err)
	}
	defer store.Close()

	clock := timebase.NewClock()
	scheduler := timebase.NewScheduler()
	watchdog := timebase.NewWatchdog(cfg.WatchdogTimeoutMs, func() {
		mainLog.Printf("watchdog reset condition satisfied")
	})

	pipeline := core.New(cfg.Tracking, cfg.PublishThrottleMs, store, core.Callbacks{
		OnRadarState: func(kind common.RadarKind, state common.ConnectionState) {
			mainLog.Printf("%s -> %s", kind, state)
		},
		OnZoneOccupancy: func(changes []common.ZoneChange) {
			for _, c := range changes {
				mainLog.Printf("zone %s occupied=%v targets=%d", c.ZoneID, c.Occupancy.Stable, c.TargetCount)
			}
		},
	})

	trackingPortConn, err := serial.OpenPort(&serial.Config{
		Name: *trackingPort, Baud: defaultBaud, ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("rs1fw: opening tracking radar port %s: %v", *trackingPort, err)
	}
	defer trackingPortConn.Close()

	presencePortConn, err := serial.OpenPort(&serial.Config{
		Name: *presencePort, Baud: defaultBaud, ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("rs1fw: opening presence radar port %s: %v", *presencePort, err)
	}
	defer presencePortConn.Close()

	trackingDriver := pipeline.NewTrackingDriver(trackingPortConn, cfg.TrackingFilter)
	trackingDriver.SetDisconnectTimeoutMs(cfg.DisconnectTimeoutMs)
	presenceDriver := pipeline.NewPresenceDriver(presencePortConn)
	presenceDriver.SetDisconnectTimeoutMs(cfg.DisconnectTimeoutMs)

	trackingWatchdogID, _ := watchdog.Register("radar-tracking")
	presenceWatchdogID, _ := watchdog.Register("radar-presence")

	var tdmController *tdm.Controller
	if *proHardware {
		tdmController = tdm.NewController(noopGate{}, noopGate{}, cfg.TDMPhaseLengthMs)
		scheduler.Register("tdm", cfg.TDMPhaseLengthMs, func(nowMs uint32) {
			tdmController.Tick(nowMs)
			trackingDriver.SetGated(tdmController.IsGated(tdm.RadarTracking))
			presenceDriver.SetGated(tdmController.IsGated(tdm.RadarPresence))
		})
	}

	scheduler.Register("liveness", 500, func(nowMs uint32) {
		trackingDriver.CheckLiveness(nowMs)
		presenceDriver.CheckLiveness(nowMs)
		if trackingDriver.State() == common.Connected {
			watchdog.Rearm(trackingWatchdogID)
			watchdog.Feed(trackingWatchdogID, nowMs)
		} else {
			watchdog.Disarm(trackingWatchdogID)
		}
		if presenceDriver.State() == common.Connected {
			watchdog.Rearm(presenceWatchdogID)
			watchdog.Feed(presenceWatchdogID, nowMs)
		} else {
			watchdog.Disarm(presenceWatchdogID)
		}
	})
	scheduler.Register("watchdog-check", cfg.WatchdogTimeoutMs, func(nowMs uint32) {
		watchdog.Check(nowMs)
	})

	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		close(stop)
	}()

	mainLog.Printf("sensing loop started (tracking=%s presence=%s pro=%v)", *trackingPort, *presencePort, *proHardware)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			mainLog.Printf("shutting down")
			return
		case <-ticker.C:
			now := clock.NowMs()
			_ = trackingDriver.ReadOnce(now)
			_ = presenceDriver.ReadOnce(now)
			scheduler.Tick(now, nil)
		}
	}
}

// noopGate is the default PowerGate when no GPIO backend is wired; Pro
// hardware integrators replace this with a real rail driver.
type noopGate struct{}

func (noopGate) Set(on bool) {}

// localMAC derives a stand-in device identity from the first non-loopback
// network interface's hardware address, used only to key the Config
// Store's encryption-at-rest derivation for this example binary; real
// firmware reads this from a hardware register.
func localMAC() []byte {
	ifaces, err := net.Interfaces()
	if err != nil {
		return []byte("rs1-dev-mac-fallback")
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) > 0 {
			return iface.HardwareAddr
		}
	}
	return []byte("rs1-dev-mac-fallback")
}
