package uart

// Public API to easy create serial stubs to test your code.
import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
)

// MockDevice plays scripted input, one chunk per Read.
// Empty chunk and exhausted script read as poll timeout.
type MockDevice struct {
	t      testing.TB
	lk     sync.Mutex
	chunks [][]byte
	err    error
	w      bytes.Buffer
	writes [][]byte
	closed bool
	// Idle delays timeout reads, so loops in tests do not spin
	Idle time.Duration
}

func NewMockDevice(t testing.TB) *MockDevice {
	return &MockDevice{t: t, Idle: time.Millisecond}
}

// NewMock returns Port over fresh MockDevice.
func NewMock(t testing.TB) (*Port, *MockDevice) {
	dev := NewMockDevice(t)
	return New(dev), dev
}

func (self *MockDevice) Expect(chunks ...[]byte) {
	self.lk.Lock()
	defer self.lk.Unlock()
	self.chunks = append(self.chunks, chunks...)
}

// ExpectBytes queues input delivered one byte per Read, like slow serial line.
func (self *MockDevice) ExpectBytes(b []byte) {
	self.lk.Lock()
	defer self.lk.Unlock()
	for i := range b {
		self.chunks = append(self.chunks, b[i:i+1])
	}
}

// Fail makes Read return err after scripted chunks are consumed.
func (self *MockDevice) Fail(err error) {
	self.lk.Lock()
	defer self.lk.Unlock()
	self.err = err
}

func (self *MockDevice) Pending() int {
	self.lk.Lock()
	defer self.lk.Unlock()
	return len(self.chunks)
}

func (self *MockDevice) Read(p []byte) (int, error) {
	self.lk.Lock()
	if self.closed {
		self.lk.Unlock()
		return 0, errors.New("mock device closed")
	}
	if len(self.chunks) == 0 {
		err := self.err
		self.lk.Unlock()
		if err != nil {
			return 0, err
		}
		time.Sleep(self.Idle)
		return 0, nil
	}
	chunk := self.chunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		self.chunks[0] = chunk[n:]
	} else {
		self.chunks = self.chunks[1:]
	}
	self.lk.Unlock()
	if n == 0 {
		time.Sleep(self.Idle)
	}
	return n, nil
}

func (self *MockDevice) Write(p []byte) (int, error) {
	self.lk.Lock()
	defer self.lk.Unlock()
	if self.closed {
		return 0, errors.New("mock device closed")
	}
	if self.t != nil {
		self.t.Logf("uart mock write %q", p)
	}
	self.w.Write(p)
	self.writes = append(self.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (self *MockDevice) Close() error {
	self.lk.Lock()
	defer self.lk.Unlock()
	self.closed = true
	return nil
}

func (self *MockDevice) Closed() bool {
	self.lk.Lock()
	defer self.lk.Unlock()
	return self.closed
}

// Writes returns copy of every Write call payload.
func (self *MockDevice) Writes() [][]byte {
	self.lk.Lock()
	defer self.lk.Unlock()
	out := make([][]byte, len(self.writes))
	copy(out, self.writes)
	return out
}

func (self *MockDevice) Written() string {
	self.lk.Lock()
	defer self.lk.Unlock()
	return self.w.String()
}
