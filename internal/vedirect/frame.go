package vedirect

import (
	"bytes"
	"context"

	"github.com/juju/errors"
)

type FrameKind uint8

const (
	FrameInvalid FrameKind = iota
	BinaryMessage
	TextBlock
)

func (k FrameKind) String() string {
	switch k {
	case BinaryMessage:
		return "binary"
	case TextBlock:
		return "text"
	}
	return "invalid"
}

// Frame is one unit cut from serial byte stream.
// Bytes is owned by receiver, reader never touches it after emit.
type Frame struct {
	Kind  FrameKind
	Bytes []byte
}

const DefaultFrameMax = 4096

var ErrFrameOverflow = errors.New("vedirect frame overflow")

// Checksum field label is the only end-of-block marker in text protocol.
var checksumDelim = []byte("\r\nChecksum\t")

type ByteReader interface {
	ReadByte() (byte, error)
}

// FrameReader splits byte stream into text blocks and binary (HEX protocol) messages.
//
// Rules, checked after every byte in this order:
// - '\n' with no tab seen in buffer (and buffer not ending in checksum label) ends binary message
// - checksum label followed by one value byte ends text block
//
// Checksum value is arbitrary byte, so a device emitting '\n' or '\t' there is
// indistinguishable from framing bytes. Known protocol weakness, kept as is.
// Text block leading "\r\n" has no tab before it, so it comes out as separate 2 byte binary frame.
type FrameReader struct {
	r      ByteReader
	buf    []byte
	max    int
	hasTab bool
}

func NewFrameReader(r ByteReader, max int) *FrameReader {
	if max <= 0 {
		max = DefaultFrameMax
	}
	return &FrameReader{
		r:   r,
		buf: make([]byte, 0, 512),
		max: max,
	}
}

// Buffered returns count of bytes waiting for frame end.
func (self *FrameReader) Buffered() int { return len(self.buf) }

// Reset drops partial frame.
func (self *FrameReader) Reset() {
	self.buf = self.buf[:0]
	self.hasTab = false
}

// Push appends one byte, returns frame if this byte completed one.
// Overflow drops buffer and returns ErrFrameOverflow.
func (self *FrameReader) Push(b byte) (Frame, bool, error) {
	self.buf = append(self.buf, b)
	if b == '\t' {
		self.hasTab = true
	}

	if b == '\n' && !bytes.HasSuffix(self.buf, checksumDelim) && !self.hasTab {
		return self.emit(BinaryMessage), true, nil
	}

	if n := len(self.buf) - 1 - len(checksumDelim); n >= 0 && bytes.Equal(self.buf[n:n+len(checksumDelim)], checksumDelim) {
		return self.emit(TextBlock), true, nil
	}

	if len(self.buf) >= self.max {
		size := len(self.buf)
		self.Reset()
		return Frame{}, false, errors.Annotatef(ErrFrameOverflow, "size=%d", size)
	}
	return Frame{}, false, nil
}

func (self *FrameReader) emit(kind FrameKind) Frame {
	f := Frame{Kind: kind, Bytes: make([]byte, len(self.buf))}
	copy(f.Bytes, self.buf)
	self.Reset()
	return f
}

// Next reads until frame is complete.
// Returns underlying read error as is, poll timeout included (errors.IsTimeout),
// so caller may do periodic work between polls. Partial frame survives errors.
func (self *FrameReader) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		b, err := self.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		f, ok, err := self.Push(b)
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return f, nil
		}
	}
}

// ChecksumValid checks text block checksum: all block bytes sum to 0 modulo 256.
// Leading "\r\n" is accounted for when reader emitted it as separate frame.
func ChecksumValid(f Frame) bool {
	if f.Kind != TextBlock {
		return false
	}
	var sum byte
	if !bytes.HasPrefix(f.Bytes, []byte("\r\n")) {
		sum = '\r' + '\n'
	}
	for _, b := range f.Bytes {
		sum += b
	}
	return sum == 0
}

// IsOverflow reports framing stall, buffer grew past limit without frame end.
func IsOverflow(err error) bool { return errors.Cause(err) == ErrFrameOverflow }
