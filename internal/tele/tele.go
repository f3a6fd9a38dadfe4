// Package tele is MQTT side of the bridge: state publishing, availability,
// Home Assistant discovery and inbound setpoint subscription.
package tele

import (
	"context"
	"strconv"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

type MessageHandler func(topic string, payload []byte)

// Bus contract:
// - Connect fails when broker is unreachable at startup, later losses are handled inside
// - Publish returns after broker acknowledged or timeout
// - Subscribe survives reconnects
// - handlers run on transport goroutine, concurrently with publishers
type Bus interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte, retain bool) error
	Subscribe(topic string, handler MessageHandler) error
	Close()
}

// Topics of one charger.
type Topics struct {
	Base            string
	DiscoveryPrefix string
	DeviceUID       string
	CurrentLimit    string
}

func (t Topics) Status() string              { return t.Base + "/status" }
func (t Topics) State(sensor string) string  { return t.Base + "/" + sensor }
func (t Topics) Voltage() string             { return t.State(SensorVoltage.Name) }
func (t Topics) Current() string             { return t.State(SensorCurrent.Name) }
func (t Topics) Discovery(sensor string) string {
	return t.DiscoveryPrefix + "/sensor/" + t.DeviceUID + "/" + sensor + "/config"
}

// FormatFloat is wire format of numeric state payloads.
func FormatFloat(v float64) []byte {
	return strconv.AppendFloat(nil, v, 'f', -1, 64)
}
