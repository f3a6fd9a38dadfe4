package helpers

import (
	"io"

	"github.com/juju/errors"
)

// Serial drivers may accept part of a command per call. Zero progress this
// many times in a row means device is stuck.
const writeAllStallLimit = 3

// WriteAll repeats Write until b is consumed.
func WriteAll(w io.Writer, b []byte) error {
	stall := 0
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			stall++
			if stall >= writeAllStallLimit {
				return errors.Annotatef(io.ErrShortWrite, "remaining=%d", len(b))
			}
			continue
		}
		stall = 0
		b = b[n:]
	}
	return nil
}
