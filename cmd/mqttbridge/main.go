// Command mqttbridge is the example out-of-core MQTT collaborator: it
// subscribes to the core pipeline's on_zone_occupancy callback and
// republishes each change as a retained MQTT message, the same
// connect/publish/reconnect shape as the teacher's pkg/mqtt.MQTTClient, but
// event-driven off a callback rather than ticker-polled off a data source,
// since zone occupancy is itself already an edge-triggered signal (§4.4).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/tarm/serial"

	"github.com/r-mccarty/rs1-firmware/common"
	"github.com/r-mccarty/rs1-firmware/internal/config"
	"github.com/r-mccarty/rs1-firmware/internal/configstore"
	"github.com/r-mccarty/rs1-firmware/internal/core"
)

const (
	defaultTrackingPort = "/dev/ttyUSB0"
	defaultPresencePort = "/dev/ttyUSB1"
	defaultBaud         = 256000
	defaultBroker       = "tcp://localhost:1883"
	defaultTopicPrefix  = "rs1/zones"
	defaultDBPath       = "rs1.db"
)

var (
	trackingPort = flag.String("tracking-port", defaultTrackingPort, "Serial port for the LD2450-style tracking radar")
	presencePort = flag.String("presence-port", defaultPresencePort, "Serial port for the LD2410-style presence radar")
	broker       = flag.String("broker", defaultBroker, "MQTT broker URL")
	topicPrefix  = flag.String("topic-prefix", defaultTopicPrefix, "MQTT topic prefix; each zone publishes to <prefix>/<zone_id>")
	dbPath       = flag.String("db", defaultDBPath, "Config Store flash-image path")
)

// zoneOccupancyPayload is the JSON shape published per zone change.
type zoneOccupancyPayload struct {
	Occupied      bool   `json:"occupied"`
	TargetCount   uint8  `json:"target_count"`
	LastChangedMs uint32 `json:"last_changed_ms"`
}

func main() {
	flag.Parse()
	cfg := config.Default()

	store, err := configstore.Open(*dbPath, localMAC())
	if err != nil {
		log.Fatalf("mqttbridge: opening config store: %v", err)
	}
	defer store.Close()

	clientID := "rs1-mqttbridge-" + uuid.NewString()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("mqttbridge: connected to %s as %s", *broker, clientID)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqttbridge: connection to %s lost: %v", *broker, err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("mqttbridge: connecting to broker: %v", token.Error())
	}
	defer client.Disconnect(250)

	pipeline := core.New(cfg.Tracking, cfg.PublishThrottleMs, store, core.Callbacks{
		OnZoneOccupancy: func(changes []common.ZoneChange) {
			publishZoneChanges(client, *topicPrefix, changes)
		},
	})

	trackingPortConn, err := serial.OpenPort(&serial.Config{
		Name: *trackingPort, Baud: defaultBaud, ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("mqttbridge: opening tracking radar port %s: %v", *trackingPort, err)
	}
	defer trackingPortConn.Close()

	presencePortConn, err := serial.OpenPort(&serial.Config{
		Name: *presencePort, Baud: defaultBaud, ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("mqttbridge: opening presence radar port %s: %v", *presencePort, err)
	}
	defer presencePortConn.Close()

	trackingDriver := pipeline.NewTrackingDriver(trackingPortConn, cfg.TrackingFilter)
	presenceDriver := pipeline.NewPresenceDriver(presencePortConn)

	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		close(stop)
	}()

	start := time.Now()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	log.Printf("mqttbridge: publishing zone occupancy under %s/*", *topicPrefix)
	for {
		select {
		case <-stop:
			log.Println("mqttbridge: shutting down")
			return
		case <-ticker.C:
			now := uint32(time.Since(start).Milliseconds())
			_ = trackingDriver.ReadOnce(now)
			_ = presenceDriver.ReadOnce(now)
		}
	}
}

func publishZoneChanges(client mqtt.Client, prefix string, changes []common.ZoneChange) {
	for _, c := range changes {
		payload := zoneOccupancyPayload{
			Occupied:      c.Occupancy.Stable,
			TargetCount:   c.TargetCount,
			LastChangedMs: c.Occupancy.LastChangedMs,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("mqttbridge: encoding zone %s payload: %v", c.ZoneID, err)
			continue
		}
		topic := fmt.Sprintf("%s/%s", prefix, c.ZoneID)
		token := client.Publish(topic, 1, true, data)
		if token.Wait() && token.Error() != nil {
			log.Printf("mqttbridge: publishing to %s: %v", topic, token.Error())
		}
	}
}

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
