package uart

import (
	"io"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadByteTimeout(t *testing.T) {
	t.Parallel()
	port, dev := NewMock(t)
	dev.Expect([]byte("ab"), nil, []byte("c"))

	b, err := port.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('a'), b)
	b, err = port.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('b'), b)
	_, err = port.ReadByte()
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "err=%v", err)
	b, err = port.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('c'), b)
	assert.Equal(t, int64(3), port.Stat().BytesRead.Value())
	assert.Equal(t, int64(1), port.Stat().Timeouts.Value())
}

func TestReadByteError(t *testing.T) {
	t.Parallel()
	port, dev := NewMock(t)
	dev.Fail(io.ErrUnexpectedEOF)
	_, err := port.ReadByte()
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
}

func TestReadLineKeepsPartial(t *testing.T) {
	t.Parallel()
	port, dev := NewMock(t)
	dev.Expect([]byte(":A1"), nil, []byte("0\n:B"))

	_, err := port.ReadLine()
	require.True(t, IsTimeout(err), "err=%v", err)
	line, err := port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, ":A10\n", string(line))
	_, err = port.ReadLine()
	require.True(t, IsTimeout(err))
	dev.Expect([]byte("\n"))
	line, err = port.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, ":B\n", string(line))
}

func TestWriteConcurrent(t *testing.T) {
	t.Parallel()
	port, dev := NewMock(t)
	const N = 16
	wg := sync.WaitGroup{}
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			_, err := port.Write([]byte(":8F0ED00690007\n"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	writes := dev.Writes()
	require.Len(t, writes, N)
	for _, w := range writes {
		assert.Equal(t, ":8F0ED00690007\n", string(w))
	}
	assert.Equal(t, int64(N*15), port.Stat().BytesWritten.Value())
}

func TestClose(t *testing.T) {
	t.Parallel()
	port, dev := NewMock(t)
	require.NoError(t, port.Close())
	require.NoError(t, port.Close())
	assert.True(t, dev.Closed())
	_, err := port.Write([]byte("x"))
	assert.Error(t, err)
}
