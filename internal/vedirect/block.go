package vedirect

import (
	"bytes"
	"strconv"
	"strings"
)

// Block is one key/value telemetry record, keys kept in arrival order.
// Duplicate key overwrites value, position of first occurrence is kept.
type Block struct {
	keys   []string
	fields map[string]string
}

func (b *Block) Set(key, value string) {
	if b.fields == nil {
		b.fields = make(map[string]string, 24)
	}
	if _, ok := b.fields[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.fields[key] = value
}

func (b Block) Get(key string) (string, bool) {
	v, ok := b.fields[key]
	return v, ok
}

func (b Block) Len() int       { return len(b.keys) }
func (b Block) Keys() []string { return append([]string(nil), b.keys...) }

// Map returns copy of fields.
func (b Block) Map() map[string]string {
	m := make(map[string]string, len(b.fields))
	for k, v := range b.fields {
		m[k] = v
	}
	return m
}

// Sample is measurement view over Block.
type Sample struct {
	Voltage    float64 // volts
	Current    float64 // amps
	HasVoltage bool
	HasCurrent bool
}

func (s Sample) Empty() bool { return !s.HasVoltage && !s.HasCurrent }

// Sample takes V (mV) and I (mA) fields. Missing or non-integer field is absent.
func (b Block) Sample() Sample {
	var s Sample
	if v, ok := b.intField("V"); ok {
		s.Voltage, s.HasVoltage = float64(v)/1000, true
	}
	if v, ok := b.intField("I"); ok {
		s.Current, s.HasCurrent = float64(v)/1000, true
	}
	return s
}

func (b Block) intField(key string) (int64, bool) {
	raw, ok := b.fields[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return v, err == nil
}

var lineSep = []byte("\r\n")

// BlockScanner lazily yields blocks of one text frame.
//   for s.Scan() { b := s.Block() }
// Line with exactly one tab is key/value, line without tab closes current block,
// line with several tabs is skipped.
type BlockScanner struct {
	rest  []byte
	done  bool
	block Block
}

func NewBlockScanner(frame []byte) *BlockScanner {
	return &BlockScanner{rest: frame}
}

func (s *BlockScanner) Scan() bool {
	var cur Block
	for !s.done {
		var line []byte
		if i := bytes.Index(s.rest, lineSep); i >= 0 {
			line, s.rest = s.rest[:i], s.rest[i+len(lineSep):]
		} else {
			line, s.rest, s.done = s.rest, nil, true
		}
		switch bytes.Count(line, []byte{'\t'}) {
		case 0:
			if cur.Len() != 0 {
				s.block = cur
				return true
			}
		case 1:
			i := bytes.IndexByte(line, '\t')
			cur.Set(string(line[:i]), string(line[i+1:]))
		}
	}
	if cur.Len() != 0 {
		s.block = cur
		return true
	}
	s.block = Block{}
	return false
}

func (s *BlockScanner) Block() Block { return s.block }

func ParseBlocks(frame []byte) []Block {
	var blocks []Block
	s := NewBlockScanner(frame)
	for s.Scan() {
		blocks = append(blocks, s.Block())
	}
	return blocks
}
