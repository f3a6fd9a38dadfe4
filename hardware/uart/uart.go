// Package uart is byte level serial transport for VE.Direct devices.
// Read timeout is reported as error satisfying errors.IsTimeout, never as io.EOF.
package uart

import (
	"bufio"
	"expvar"
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/vebridge/helpers"
	"go.bug.st/serial"
)

const (
	DefaultBaud        = 19200
	DefaultReadTimeout = time.Second
)

// Uarter is what protocol code needs from serial port.
type Uarter interface {
	ReadByte() (byte, error)
	ReadLine() ([]byte, error)
	Write(p []byte) (int, error)
	Close() error
}

type Options struct {
	Baud        int
	ReadTimeout time.Duration
}

type Stat struct {
	BytesRead    expvar.Int
	BytesWritten expvar.Int
	Timeouts     expvar.Int
}

type Port struct {
	dev    io.ReadWriteCloser
	r      *bufio.Reader
	w      io.Writer
	line   []byte
	wlk    sync.Mutex
	closed bool
	stat   *Stat
}

var _ Uarter = &Port{}

// timeoutReader converts empty read into timeout error,
// bufio.Reader would otherwise spin until io.ErrNoProgress.
type timeoutReader struct {
	r    io.Reader
	stat *Stat
}

func (self timeoutReader) Read(p []byte) (int, error) {
	n, err := self.r.Read(p)
	if n == 0 && err == nil {
		self.stat.Timeouts.Add(1)
		return 0, errors.Timeoutf("uart read")
	}
	return n, err
}

// Open serial device in 8N1 mode.
func Open(path string, opt Options) (*Port, error) {
	if opt.Baud == 0 {
		opt.Baud = DefaultBaud
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = DefaultReadTimeout
	}
	mode := &serial.Mode{
		BaudRate: opt.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Annotatef(err, "uart open path=%s baud=%d", path, opt.Baud)
	}
	if err = sp.SetReadTimeout(opt.ReadTimeout); err != nil {
		_ = sp.Close()
		return nil, errors.Annotatef(err, "uart set read timeout path=%s", path)
	}
	return New(sp), nil
}

// New wraps device where Read returning (0, nil) means poll timeout.
func New(dev io.ReadWriteCloser) *Port {
	stat := new(Stat)
	tr := timeoutReader{r: helpers.NewStatReader(dev, &stat.BytesRead), stat: stat}
	return &Port{
		dev:  dev,
		r:    bufio.NewReader(tr),
		w:    helpers.NewStatWriter(dev, &stat.BytesWritten),
		stat: stat,
	}
}

func (self *Port) Stat() *Stat { return self.stat }

// ReadByte is only safe from single reader goroutine.
func (self *Port) ReadByte() (byte, error) {
	b, err := self.r.ReadByte()
	if err != nil && !errors.IsTimeout(err) {
		err = errors.Annotate(err, "uart read")
	}
	return b, err
}

// ReadLine returns bytes up to and including '\n'.
// On timeout partial line is kept for next call.
func (self *Port) ReadLine() ([]byte, error) {
	for {
		b, err := self.ReadByte()
		if err != nil {
			return nil, err
		}
		self.line = append(self.line, b)
		if b == '\n' {
			line := self.line
			self.line = nil
			return line, nil
		}
	}
}

// Write is safe for concurrent use, one command is never interleaved with another.
func (self *Port) Write(p []byte) (int, error) {
	self.wlk.Lock()
	defer self.wlk.Unlock()
	if self.closed {
		return 0, errors.New("uart write: port closed")
	}
	if err := helpers.WriteAll(self.w, p); err != nil {
		return 0, errors.Annotate(err, "uart write")
	}
	return len(p), nil
}

func (self *Port) Close() error {
	self.wlk.Lock()
	defer self.wlk.Unlock()
	if self.closed {
		return nil
	}
	self.closed = true
	return errors.Trace(self.dev.Close())
}

// IsTimeout reports poll timeout, which protocol code treats as "no data".
func IsTimeout(err error) bool { return errors.IsTimeout(err) }
