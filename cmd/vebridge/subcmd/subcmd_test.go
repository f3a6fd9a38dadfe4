package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/internal/state"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *state.Config, []string) error { return nil }
	mods := []Mod{{Name: "bridge", Main: noop}, {Name: "monitor", Main: noop}}
	cases := []struct {
		input  string
		expect string
		err    string
	}{
		{"bridge", "bridge", ""},
		{"monitor", "monitor", ""},
		{"", "", "empty command"},
		{"unknown", "", "unknown command='unknown' valid: bridge, monitor"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			m, err := Parse(c.input, mods)
			if c.err != "" {
				require.Error(t, err)
				assert.Equal(t, c.err, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, m.Name)
		})
	}
}
