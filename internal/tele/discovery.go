package tele

import (
	"encoding/json"

	"github.com/juju/errors"
)

type Sensor struct {
	Name        string
	DeviceClass string
	Unit        string
}

var (
	SensorVoltage = Sensor{Name: "voltage", DeviceClass: "voltage", Unit: "V"}
	SensorCurrent = Sensor{Name: "current", DeviceClass: "current", Unit: "A"}
	Sensors       = []Sensor{SensorVoltage, SensorCurrent}
)

type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	Name         string   `json:"name"`
}

// Discovery is Home Assistant MQTT discovery config of one sensor.
type Discovery struct {
	Name                string          `json:"name"`
	StateTopic          string          `json:"state_topic"`
	AvailabilityTopic   string          `json:"availability_topic"`
	PayloadAvailable    string          `json:"payload_available"`
	PayloadNotAvailable string          `json:"payload_not_available"`
	UnitOfMeasurement   string          `json:"unit_of_measurement"`
	DeviceClass         string          `json:"device_class"`
	StateClass          string          `json:"state_class"`
	UniqueID            string          `json:"unique_id"`
	ForceUpdate         bool            `json:"force_update"`
	Device              DiscoveryDevice `json:"device"`
}

func NewDiscovery(t Topics, s Sensor, manufacturer, model string) Discovery {
	return Discovery{
		Name:                s.Name,
		StateTopic:          t.State(s.Name),
		AvailabilityTopic:   t.Status(),
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
		UnitOfMeasurement:   s.Unit,
		DeviceClass:         s.DeviceClass,
		StateClass:          "measurement",
		UniqueID:            t.DeviceUID + "_" + s.Name,
		ForceUpdate:         true,
		Device: DiscoveryDevice{
			Identifiers:  []string{t.DeviceUID},
			Manufacturer: manufacturer,
			Model:        model,
			Name:         t.DeviceUID,
		},
	}
}

// PublishDiscovery announces every sensor, retained.
func PublishDiscovery(bus Bus, t Topics, manufacturer, model string) error {
	for _, s := range Sensors {
		b, err := json.Marshal(NewDiscovery(t, s, manufacturer, model))
		if err != nil {
			return errors.Annotatef(err, "discovery marshal sensor=%s", s.Name)
		}
		if err = bus.Publish(t.Discovery(s.Name), b, true); err != nil {
			return errors.Annotatef(err, "discovery publish sensor=%s", s.Name)
		}
	}
	return nil
}
