package console

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/hardware/uart"
	"github.com/temoto/vebridge/helpers/cli"
	"github.com/temoto/vebridge/internal/vedirect"
)

func TestSession(t *testing.T) {
	t.Parallel()

	port, dev := uart.NewMock(t)
	buf := bytes.NewBuffer(nil)
	s := NewSession(buf, port)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	s.Exec("status")
	assert.Equal(t, "telemetry: none yet\nsession: frames=0 commands=0 errors=0\n", buf.String())

	s.Frame(vedirect.Frame{Kind: vedirect.TextBlock, Bytes: []byte("V\t12800\r\nI\t1500\r\nChecksum\t\x1a")})
	s.Frame(vedirect.Frame{Kind: vedirect.BinaryMessage, Bytes: []byte(":A2\x00\x00\x00\x00\x0c\x00\x00\n")})
	s.now = func() time.Time { return t0.Add(3 * time.Second) }

	cases := []struct {
		line   string
		expect string
	}{
		{"set 12.5", "sent \":8F0ED007D00F3\\n\"\n"},
		{"set", "error: set expects AMPS not valid\n"},
		{"set x", "error: amps=\"x\" not valid\n"},
		{"set 99", "error: set current=99 out of range 0..25.5 not valid\n"},
		{"reboot", "error: command=reboot (try help) not valid\n"},
		{"help", usage},
		{"status", "telemetry: voltage=12.8 V current=1.5 A age=3s\nsetpoint echo: 12 A\nsession: frames=2 commands=1 errors=4\n"},
		{"block", "--- VE.Direct Block ---\nV       : 12800\nI       : 1500\nChecksum: \"\\x1a\"\n"},
	}
	for _, c := range cases {
		buf.Reset()
		s.Exec(c.line)
		assert.Equal(t, c.expect, buf.String(), "line=%s", c.line)
	}
	assert.Equal(t, ":8F0ED007D00F3\n", dev.Written())
}

func TestSessionPiped(t *testing.T) {
	t.Parallel()

	port, dev := uart.NewMock(t)
	buf := bytes.NewBuffer(nil)
	s := NewSession(buf, port)
	require.NoError(t, cli.ExecReader(bytes.NewBufferString("set 1\nset 2\n"), s.Exec))
	assert.Equal(t, ":8F0ED000A0066\n:8F0ED0014005C\n", dev.Written())
}

func TestReadLoop(t *testing.T) {
	t.Parallel()

	port, dev := uart.NewMock(t)
	dev.Expect([]byte("\r\nV\t13000\r\nChecksum\tA"), nil)
	dev.Fail(errors.New("unplugged"))
	s := NewSession(bytes.NewBuffer(nil), port)
	err := s.ReadLoop(context.Background(), vedirect.NewFrameReader(port, 0))
	require.Error(t, err)
	assert.Equal(t, 2, s.frames)
	v, _ := s.block.Get("V")
	assert.Equal(t, "13000", v)
}
