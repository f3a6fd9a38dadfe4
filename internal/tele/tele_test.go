package tele

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/log2"
)

var testTopics = Topics{
	Base:            "Victron/charger",
	DiscoveryPrefix: "homeassistant",
	DeviceUID:       "Victron_charger",
	CurrentLimit:    "home/charger/limit",
}

func TestTopics(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Victron/charger/status", testTopics.Status())
	assert.Equal(t, "Victron/charger/voltage", testTopics.Voltage())
	assert.Equal(t, "Victron/charger/current", testTopics.Current())
	assert.Equal(t, "homeassistant/sensor/Victron_charger/voltage/config", testTopics.Discovery("voltage"))
}

func TestFormatFloat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input  float64
		expect string
	}{
		{13.25, "13.25"},
		{0, "0"},
		{-0.5, "-0.5"},
		{12.001, "12.001"},
		{14, "14"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.expect, func(t *testing.T) {
			assert.Equal(t, c.expect, string(FormatFloat(c.input)))
		})
	}
}

func TestPublishDiscovery(t *testing.T) {
	t.Parallel()

	bus := NewBusMock(t)
	require.NoError(t, bus.Connect(context.Background()))
	require.NoError(t, PublishDiscovery(bus, testTopics, "Victron", "Blue Smart IP22"))

	pubs := bus.Published()
	require.Len(t, pubs, 2)
	for i, s := range Sensors {
		p := pubs[i]
		assert.Equal(t, testTopics.Discovery(s.Name), p.Topic)
		assert.True(t, p.Retain)
		var d map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(p.Payload), &d))
		assert.Equal(t, s.Name, d["name"])
		assert.Equal(t, "Victron/charger/"+s.Name, d["state_topic"])
		assert.Equal(t, "Victron/charger/status", d["availability_topic"])
		assert.Equal(t, "online", d["payload_available"])
		assert.Equal(t, "offline", d["payload_not_available"])
		assert.Equal(t, s.Unit, d["unit_of_measurement"])
		assert.Equal(t, s.DeviceClass, d["device_class"])
		assert.Equal(t, "measurement", d["state_class"])
		assert.Equal(t, "Victron_charger_"+s.Name, d["unique_id"])
		assert.Equal(t, true, d["force_update"])
		dev := d["device"].(map[string]interface{})
		assert.Equal(t, []interface{}{"Victron_charger"}, dev["identifiers"])
		assert.Equal(t, "Victron", dev["manufacturer"])
		assert.Equal(t, "Blue Smart IP22", dev["model"])
		assert.Equal(t, "Victron_charger", dev["name"])
	}
}

func TestPublishDiscoveryError(t *testing.T) {
	t.Parallel()

	bus := NewBusMock(t)
	bus.PublishErr = errors.New("broker gone")
	err := PublishDiscovery(bus, testTopics, "Victron", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensor=voltage")
	assert.Contains(t, err.Error(), "broker gone")
}

func newTestMqtt(t testing.TB, mock *MqttMock, onConnect func()) *Mqtt {
	return NewMqtt(MqttOptions{
		BrokerURL:      "tcp://broker:1883",
		ClientID:       "vebridge_test",
		Username:       "user",
		Password:       "secret",
		NetworkTimeout: time.Second,
		WillTopic:      testTopics.Status(),
		WillPayload:    []byte(PayloadOffline),
		Log:            log2.NewTest(t, log2.LDebug),
		OnConnect:      onConnect,
		NewClient:      mock.MockNew,
	})
}

func TestMqttConnect(t *testing.T) {
	t.Parallel()

	mock := NewMqttMock()
	connects := 0
	m := newTestMqtt(t, mock, func() { connects++ })
	ctx := context.Background()
	require.NoError(t, m.Subscribe(testTopics.CurrentLimit, func(string, []byte) {}))
	assert.Empty(t, mock.Subscribed())
	require.NoError(t, m.Connect(ctx))
	defer m.Close()

	assert.Equal(t, 1, connects)
	assert.Equal(t, "vebridge_test", mock.Opt.ClientID)
	assert.Equal(t, "user", mock.Opt.Username)
	assert.True(t, mock.Opt.WillEnabled)
	assert.Equal(t, "Victron/charger/status", mock.Opt.WillTopic)
	assert.Equal(t, []byte("offline"), mock.Opt.WillPayload)
	assert.True(t, mock.Opt.WillRetained)
	assert.True(t, mock.Opt.AutoReconnect)
	assert.False(t, mock.Opt.ConnectRetry)
	assert.True(t, mock.Opt.Order)
	assert.Equal(t, []string{testTopics.CurrentLimit}, mock.Subscribed())

	mock.TestReconnect()
	assert.Equal(t, 2, connects)
	assert.Equal(t, []string{testTopics.CurrentLimit}, mock.Subscribed())
}

func TestMqttConnectError(t *testing.T) {
	t.Parallel()

	mock := NewMqttMock()
	mock.ConnectErr = errors.New("connection refused")
	m := newTestMqtt(t, mock, nil)
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tcp://broker:1883")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMqttPublish(t *testing.T) {
	t.Parallel()

	mock := NewMqttMock()
	m := newTestMqtt(t, mock, nil)
	require.Error(t, m.Publish("early", nil, false))
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Publish(testTopics.Voltage(), FormatFloat(13.2), true))
	msg := <-mock.Pub
	assert.Equal(t, "Victron/charger/voltage", msg.Topic())
	assert.Equal(t, "13.2", string(msg.Payload()))
	assert.True(t, msg.Retained())
	assert.Equal(t, byte(1), msg.Qos())

	mock.PublishErr = errors.New("not connected")
	err := m.Publish(testTopics.Current(), []byte("1"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic=Victron/charger/current")
}

func TestMqttSubscribe(t *testing.T) {
	t.Parallel()

	mock := NewMqttMock()
	m := newTestMqtt(t, mock, nil)
	require.NoError(t, m.Connect(context.Background()))

	got := make(chan string, 1)
	require.NoError(t, m.Subscribe(testTopics.CurrentLimit, func(topic string, payload []byte) {
		got <- topic + "=" + string(payload)
	}))
	mock.TestPublish(t, testTopics.CurrentLimit, []byte("12.5"))
	assert.Equal(t, "home/charger/limit=12.5", <-got)
}

func TestMqttWaitTimeout(t *testing.T) {
	t.Parallel()

	m := NewMqtt(MqttOptions{NetworkTimeout: 10 * time.Millisecond})
	err := m.wait(context.Background(), pendingToken{})
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.timeout = time.Minute
	assert.Equal(t, context.Canceled, m.wait(ctx, pendingToken{}))
}

type pendingToken struct{ mqtt.Token }

func (pendingToken) Done() <-chan struct{} { return nil }

func TestBusMockDeliver(t *testing.T) {
	t.Parallel()

	bus := NewBusMock(t)
	require.Error(t, bus.Publish("x", nil, false))
	got := ""
	require.NoError(t, bus.Subscribe("in", func(_ string, p []byte) { got = string(p) }))
	bus.Deliver("in", []byte("7"))
	assert.Equal(t, "7", got)
	bus.Close()
	assert.True(t, bus.Closed())
}
