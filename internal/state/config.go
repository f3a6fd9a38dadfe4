package state

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/helpers"
	"github.com/temoto/vebridge/internal/vedirect"
	"github.com/temoto/vebridge/log2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultManufacturer    = "Victron"
	DefaultModel           = "Blue Smart Charger"
	DefaultCurrentLimit    = 10.0
	DefaultMqttPort        = 1883
	DefaultNetworkTimeout  = 10 * time.Second

	DefaultOffline     = 30 * time.Second
	DefaultResendGap   = 5 * time.Minute
	DefaultResendDelay = 10 * time.Second
	DefaultRateLimit   = 8 * time.Second
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include" yaml:"include"`

	LogLevel string `hcl:"log_level" yaml:"log_level"`

	Serial struct {
		Port          string `hcl:"port" yaml:"port"`
		Baudrate      int    `hcl:"baudrate" yaml:"baudrate"`
		ReadTimeoutMs int    `hcl:"read_timeout_ms" yaml:"read_timeout_ms"`
		FrameMax      int    `hcl:"frame_max" yaml:"frame_max"`
	} `hcl:"serial" yaml:"serial"`

	Mqtt struct {
		Broker string `hcl:"broker" yaml:"broker"`
		// host/port is alternative to broker URL
		Host              string `hcl:"host" yaml:"host"`
		Port              int    `hcl:"port" yaml:"port"`
		Username          string `hcl:"username" yaml:"username"`
		Password          string `hcl:"password" yaml:"password"`
		ClientID          string `hcl:"client_id" yaml:"client_id"`
		BaseTopic         string `hcl:"base_topic" yaml:"base_topic"`
		CurrentLimitTopic string `hcl:"current_limit_topic" yaml:"current_limit_topic"`
		DiscoveryPrefix   string `hcl:"discovery_prefix" yaml:"discovery_prefix"`
		KeepaliveSec      int    `hcl:"keepalive_sec" yaml:"keepalive_sec"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec" yaml:"network_timeout_sec"`
		LogDebug          bool   `hcl:"log_debug" yaml:"log_debug"`
	} `hcl:"mqtt" yaml:"mqtt"`

	Device struct {
		Vendor       string `hcl:"vendor" yaml:"vendor"`
		Name         string `hcl:"name" yaml:"name"`
		Manufacturer string `hcl:"manufacturer" yaml:"manufacturer"`
		Model        string `hcl:"model" yaml:"model"`
		// nil = DefaultCurrentLimit, zero is valid setpoint
		InitialCurrentLimit *float64 `hcl:"initial_current_limit" yaml:"initial_current_limit"`
	} `hcl:"device" yaml:"device"`

	Controller struct {
		OfflineSec     int `hcl:"offline_sec" yaml:"offline_sec"`
		ResendGapSec   int `hcl:"resend_gap_sec" yaml:"resend_gap_sec"`
		ResendDelaySec int `hcl:"resend_delay_sec" yaml:"resend_delay_sec"`
		RateLimitSec   int `hcl:"rate_limit_sec" yaml:"rate_limit_sec"`
	} `hcl:"controller" yaml:"controller"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key" yaml:"name"`
	Optional bool   `hcl:"optional" yaml:"optional"`
}

// BaseTopic is prefix of state and availability topics.
func (c *Config) BaseTopic() string {
	prefix := c.Mqtt.BaseTopic
	if prefix == "" {
		prefix = c.Device.Vendor
	}
	return prefix + "/" + c.Device.Name
}

// DeviceUID groups sensors of one charger.
func (c *Config) DeviceUID() string { return c.Device.Vendor + "_" + c.Device.Name }

func (c *Config) InitialCurrentLimit() float64 {
	if c.Device.InitialCurrentLimit == nil {
		return DefaultCurrentLimit
	}
	return *c.Device.InitialCurrentLimit
}

func (c *Config) BrokerURL() string {
	if c.Mqtt.Broker != "" {
		return c.Mqtt.Broker
	}
	port := c.Mqtt.Port
	if port == 0 {
		port = DefaultMqttPort
	}
	return fmt.Sprintf("tcp://%s:%d", c.Mqtt.Host, port)
}

func (c *Config) UartOptions() uart.Options {
	return uart.Options{
		Baud:        c.Serial.Baudrate,
		ReadTimeout: helpers.IntMillisecondDefault(c.Serial.ReadTimeoutMs, uart.DefaultReadTimeout),
	}
}

func (c *Config) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Mqtt.NetworkTimeoutSec, DefaultNetworkTimeout)
}

func (c *Config) OfflineTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Controller.OfflineSec, DefaultOffline)
}
func (c *Config) ResendGap() time.Duration {
	return helpers.IntSecondDefault(c.Controller.ResendGapSec, DefaultResendGap)
}
func (c *Config) ResendDelay() time.Duration {
	return helpers.IntSecondDefault(c.Controller.ResendDelaySec, DefaultResendDelay)
}
func (c *Config) RateLimit() time.Duration {
	return helpers.IntSecondDefault(c.Controller.RateLimitSec, DefaultRateLimit)
}

// Normalize fills defaults for omitted optional settings.
func (c *Config) Normalize() {
	if c.Serial.Baudrate == 0 {
		c.Serial.Baudrate = uart.DefaultBaud
	}
	if c.Serial.FrameMax == 0 {
		c.Serial.FrameMax = vedirect.DefaultFrameMax
	}
	if c.Mqtt.DiscoveryPrefix == "" {
		c.Mqtt.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.Mqtt.ClientID == "" && c.Device.Name != "" {
		c.Mqtt.ClientID = "vebridge_" + c.DeviceUID()
	}
	if c.Device.Manufacturer == "" {
		c.Device.Manufacturer = DefaultManufacturer
	}
	if c.Device.Model == "" {
		c.Device.Model = DefaultModel
	}
}

// Validate reports all problems at once.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	if _, err := log2.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, errors.Annotate(err, "config: log_level"))
	}
	if c.Serial.Port == "" {
		errs = append(errs, errors.NotValidf("config: serial.port=empty"))
	}
	if c.Mqtt.Broker == "" && c.Mqtt.Host == "" {
		errs = append(errs, errors.NotValidf("config: mqtt.broker and mqtt.host empty"))
	}
	if c.Mqtt.CurrentLimitTopic == "" {
		errs = append(errs, errors.NotValidf("config: mqtt.current_limit_topic=empty"))
	}
	if c.Device.Vendor == "" || c.Device.Name == "" {
		errs = append(errs, errors.NotValidf("config: device.vendor and device.name required"))
	}
	if strings.ContainsAny(c.Device.Name, "+#/") || strings.ContainsAny(c.Device.Vendor, "+#/") {
		errs = append(errs, errors.NotValidf("config: device vendor/name must not contain MQTT topic special chars"))
	}
	if err := vedirect.ValidateSetCurrent(c.InitialCurrentLimit()); err != nil {
		errs = append(errs, errors.Annotate(err, "config: device.initial_current_limit"))
	}
	return helpers.FoldErrors(errs)
}

func unmarshal(name string, b []byte, c *Config) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, c)
	}
	return hcl.Unmarshal(b, c)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = unmarshal(source.Name, bs, c); err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads names in order, later values overwrite earlier.
// HCL by default, YAML for .yaml/.yml names.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.New("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, err
	}
	c.Normalize()
	return c, nil
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
