package state

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/log2"
)

const validHCL = `
serial { port = "/dev/ttyUSB0" }
mqtt {
  broker = "tcp://broker:1883"
  current_limit_topic = "victron/charger/current_limit/set"
}
device {
  vendor = "victron"
  name = "charger"
}
`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		sources   map[string]string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"defaults", map[string]string{"main.hcl": validHCL},
			func(t testing.TB, c *Config) {
				require.NoError(t, c.Validate())
				assert.Equal(t, 19200, c.Serial.Baudrate)
				assert.Equal(t, time.Second, c.UartOptions().ReadTimeout)
				assert.Equal(t, 4096, c.Serial.FrameMax)
				assert.Equal(t, "victron/charger", c.BaseTopic())
				assert.Equal(t, "victron_charger", c.DeviceUID())
				assert.Equal(t, "homeassistant", c.Mqtt.DiscoveryPrefix)
				assert.Equal(t, "Victron", c.Device.Manufacturer)
				assert.Equal(t, "Blue Smart Charger", c.Device.Model)
				assert.Equal(t, 10.0, c.InitialCurrentLimit())
				assert.Equal(t, 30*time.Second, c.OfflineTimeout())
				assert.Equal(t, 5*time.Minute, c.ResendGap())
				assert.Equal(t, 10*time.Second, c.ResendDelay())
				assert.Equal(t, 8*time.Second, c.RateLimit())
			}, ""},

		{"overrides", map[string]string{"main.hcl": validHCL + `
log_level = "debug"
serial { baudrate = 9600 read_timeout_ms = 250 }
mqtt { base_topic = "home" }
device { initial_current_limit = 0 }
controller { offline_sec = 5 rate_limit_sec = 2 }
`},
			func(t testing.TB, c *Config) {
				require.NoError(t, c.Validate())
				assert.Equal(t, 9600, c.Serial.Baudrate)
				assert.Equal(t, 250*time.Millisecond, c.UartOptions().ReadTimeout)
				assert.Equal(t, "home/charger", c.BaseTopic())
				assert.Equal(t, 0.0, c.InitialCurrentLimit())
				assert.Equal(t, 5*time.Second, c.OfflineTimeout())
				assert.Equal(t, 2*time.Second, c.RateLimit())
			}, ""},

		{"yaml", map[string]string{"config.yaml": `
log_level: INFO
serial:
  port: /dev/ttyUSB1
  baudrate: 19200
mqtt:
  host: 192.168.1.2
  username: user
  password: secret
  current_limit_topic: victron/charger/current_limit
device:
  vendor: victron
  name: bluesmart
  initial_current_limit: 7.5
`},
			func(t testing.TB, c *Config) {
				require.NoError(t, c.Validate())
				assert.Equal(t, "/dev/ttyUSB1", c.Serial.Port)
				assert.Equal(t, "tcp://192.168.1.2:1883", c.BrokerURL())
				assert.Equal(t, "user", c.Mqtt.Username)
				assert.Equal(t, 7.5, c.InitialCurrentLimit())
				assert.Equal(t, "victron/bluesmart", c.BaseTopic())
			}, ""},

		{"include-optional", map[string]string{
			"main.hcl":  validHCL + `include "local.hcl" {} include "non-exist" { optional = true }`,
			"local.hcl": `device { name = "garage" }`,
		},
			func(t testing.TB, c *Config) {
				assert.Equal(t, "victron/garage", c.BaseTopic())
			}, ""},

		{"include-required-missing", map[string]string{"main.hcl": validHCL + `include "non-exist" {}`},
			nil, "config required name=non-exist path=non-exist not found"},

		{"include-loop", map[string]string{
			"main.hcl": validHCL + `include "a.hcl" {}`,
			"a.hcl":    `include "main.hcl" {}`,
		}, nil, "config include loop: from=a.hcl include=main.hcl"},

		{"syntax", map[string]string{"main.hcl": `serial {`}, nil, "config unmarshal source=main.hcl"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(c.sources)
			name := "main.hcl"
			if _, ok := c.sources["config.yaml"]; ok {
				name = "config.yaml"
			}
			cfg, err := ReadConfig(log, fs, name)
			if c.expectErr == "" {
				require.NoError(t, err)
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg, err := ReadConfig(log, NewMockFullReader(map[string]string{"main.hcl": `
log_level = "loud"
device { vendor = "victron" name = "a/b" initial_current_limit = 30 }
`}), "main.hcl")
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	for _, expect := range []string{
		"config: log_level",
		"serial.port=empty",
		"mqtt.broker and mqtt.host empty",
		"mqtt.current_limit_topic=empty",
		"topic special chars",
		"config: device.initial_current_limit",
	} {
		assert.Contains(t, err.Error(), expect)
	}
}

func TestValidateSingle(t *testing.T) {
	t.Parallel()
	cfg, err := ReadConfig(log2.NewTest(t, log2.LDebug), NewMockFullReader(map[string]string{
		"main.hcl": validHCL + `serial { port = "" }`,
	}), "main.hcl")
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err), "err=%v", err)
}
