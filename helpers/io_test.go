package helpers

import (
	"bytes"
	"io"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

// chunkWriter accepts at most n bytes per call, n=0 never makes progress.
type chunkWriter struct {
	w     io.Writer
	n     int
	calls int
}

func (self *chunkWriter) Write(p []byte) (int, error) {
	self.calls++
	if len(p) > self.n {
		p = p[:self.n]
	}
	return self.w.Write(p)
}

func TestWriteAll(t *testing.T) {
	t.Parallel()

	command := []byte(":8F0ED00690007\n")
	cases := []struct {
		name      string
		chunk     int
		expect    string
		calls     int
		expectErr error
	}{
		{"whole", 64, string(command), 1, nil},
		{"chunked", 4, string(command), 4, nil},
		{"byte-by-byte", 1, string(command), len(command), nil},
		{"stuck", 0, "", writeAllStallLimit, io.ErrShortWrite},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			cw := &chunkWriter{w: buf, n: c.chunk}
			err := WriteAll(cw, command)
			if c.expectErr != nil {
				assert.Equal(t, c.expectErr, errors.Cause(err))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, c.expect, buf.String())
			assert.Equal(t, c.calls, cw.calls)
		})
	}
}

func TestWriteAllError(t *testing.T) {
	t.Parallel()
	_, w := io.Pipe()
	_ = w.Close()
	err := WriteAll(w, []byte("x"))
	assert.Equal(t, io.ErrClosedPipe, err)
}
