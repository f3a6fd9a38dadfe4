package vedirect

import (
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestEncodeSetCurrent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		amps   float64
		expect string
	}{
		{10.5, ":8F0ED00690007\n"},
		{0.0, ":8F0ED00000070\n"},
		{11.2, ":8F0ED00700000\n"},
		{1.5, ":8F0ED000F0061\n"},
		{25.5, ":8F0ED00FF0071\n"},
		{2.3, ":8F0ED00170059\n"},
		// tenths truncated toward zero
		{10.59, ":8F0ED00690007\n"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.expect[:len(c.expect)-1], func(t *testing.T) {
			assert.Equal(t, c.expect, string(EncodeSetCurrent(c.amps)))
		})
	}
}

func TestEncodeSetCurrentPure(t *testing.T) {
	t.Parallel()
	first := EncodeSetCurrent(7.3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EncodeSetCurrent(7.3))
	}
	first[0] = 'X'
	assert.Equal(t, byte(':'), EncodeSetCurrent(7.3)[0])
}

func TestValidateSetCurrent(t *testing.T) {
	t.Parallel()
	for _, ok := range []float64{0, 0.1, 10.5, 25.5, 25.59} {
		assert.NoError(t, ValidateSetCurrent(ok), "amps=%v", ok)
	}
	for _, bad := range []float64{-0.1, 25.6, 100, math.NaN(), math.Inf(1)} {
		err := ValidateSetCurrent(bad)
		assert.Error(t, err, "amps=%v", bad)
		assert.True(t, errors.IsNotValid(err))
	}
}

func TestDecodeSetCurrentEcho(t *testing.T) {
	t.Parallel()
	v, ok := DecodeSetCurrentEcho([]byte(":A2ED00\x0a0000\n"))
	assert.True(t, ok)
	assert.Equal(t, byte(0x0a), v)
	_, ok = DecodeSetCurrentEcho([]byte(":A1ED00\x0a0000\n"))
	assert.False(t, ok)
	_, ok = DecodeSetCurrentEcho([]byte(":A2\n"))
	assert.False(t, ok)
}
